// Package txqueue implements the per-client serialized outbound worker: one
// dedicated goroutine per connected client draining a bounded queue of owned
// PDU buffers onto that client's socket, so that no producer ever blocks on a
// slow peer.
package txqueue

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BatchDrake/suscan-sub002/internal/codec"
)

// DefaultQueueDepth is the bounded queue capacity, sized for control-plane
// calls rather than spectrum frames, which arrive far less often.
const DefaultQueueDepth = 64

// ErrQueueFull is returned by Enqueue when the bounded queue is saturated;
// the caller must treat this the same as a write failure so that a broadcast
// loop never blocks on a slow client.
var ErrQueueFull = errors.New("txqueue: queue full")

var bufferPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, 1500) },
}

// Worker owns exactly one socket's outbound writes. Construct with New, start
// the drain loop with Run, and stop with SoftStop or HardStop.
type Worker struct {
	conn  net.Conn
	codec *codec.Codec

	queue    chan []byte
	hardStop chan struct{}
	done     chan struct{}

	failed atomic.Bool
	onFail func(error)

	writeTimeout time.Duration
}

// New builds a Worker writing PDUs (framed and optionally compressed by c) to
// conn. onFail is invoked at most once, from the worker goroutine, the moment a
// write fails or the worker is hard-stopped mid-write.
func New(conn net.Conn, c *codec.Codec, onFail func(error)) *Worker {
	return &Worker{
		conn:         conn,
		codec:        c,
		queue:        make(chan []byte, DefaultQueueDepth),
		hardStop:     make(chan struct{}),
		done:         make(chan struct{}),
		onFail:       onFail,
		writeTimeout: 10 * time.Second,
	}
}

// Run spawns the worker's drain goroutine and returns immediately. Call once.
func (w *Worker) Run() {
	go w.loop()
}

func (w *Worker) loop() {
	defer close(w.done)

	for {
		select {
		case <-w.hardStop:
			return
		case payload, ok := <-w.queue:
			if !ok {
				// Soft stop: queue closed and drained.
				return
			}
			if err := w.writeOne(payload); err != nil {
				w.fail(err)
				return
			}
		}
	}
}

func (w *Worker) writeOne(payload []byte) error {
	framed, err := w.codec.Encode(payload)
	bufferPool.Put(payload[:0])
	if err != nil {
		return err
	}

	if w.writeTimeout > 0 {
		if dl, ok := w.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
			_ = dl.SetWriteDeadline(time.Now().Add(w.writeTimeout))
		}
	}

	select {
	case <-w.hardStop:
		return errCancelled
	default:
	}

	_, err = w.conn.Write(framed)
	return err
}

var errCancelled = errors.New("txqueue: hard-stopped while writing")

// Enqueue transfers ownership of payload into the queue for asynchronous
// serialization and write. It never blocks: if the queue is saturated, it
// returns ErrQueueFull and the caller is expected to treat the client as
// failed.
func (w *Worker) Enqueue(payload []byte) error {
	if w.failed.Load() {
		return errors.New("txqueue: worker already failed")
	}
	select {
	case w.queue <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// AcquireBuffer returns a pooled buffer to minimize per-call allocation.
func AcquireBuffer() []byte {
	return bufferPool.Get().([]byte)[:0]
}

// SoftStop queues the drain sentinel: the loop writes every buffer already
// queued, then exits.
func (w *Worker) SoftStop() {
	close(w.queue)
}

// HardStop aborts the loop immediately, discarding any buffer it was in the
// middle of waiting to write. Safe to call concurrently with SoftStop or
// after the worker has already exited.
func (w *Worker) HardStop() {
	select {
	case <-w.hardStop:
	default:
		close(w.hardStop)
	}
}

// Wait blocks until the worker's loop has exited.
func (w *Worker) Wait() {
	<-w.done
}

// Failed reports whether the worker has permanently stopped due to a write
// error; the owning client should be marked failed in response.
func (w *Worker) Failed() bool {
	return w.failed.Load()
}

func (w *Worker) fail(err error) {
	if w.failed.CompareAndSwap(false, true) {
		if w.onFail != nil {
			w.onFail(err)
		}
	}
}
