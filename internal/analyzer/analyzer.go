// Package analyzer defines the boundary between the core and the actual DSP
// implementation (sample acquisition, FFT, channel demodulation): the core
// only knows the analyzer as an opaque object with a fixed set of commands
// and an output message queue. Everything in this package is the shape of
// that boundary, plus a reference implementation exercised by the server and
// tests in lieu of real hardware.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

// Analyzer is the opaque collaborator the server supervisor and remote runtime
// both talk to: a command sink plus an asynchronous output queue.
type Analyzer interface {
	// Dispatch submits one call for processing. It must never block the
	// caller on the underlying DSP pipeline.
	Dispatch(call *wire.RemoteCall) error
	// Output returns the channel the supervisor's TX thread reads from.
	// Closed when the analyzer halts.
	Output() <-chan *wire.RemoteCall
	// Halt requests a graceful stop; Output is closed once drained.
	Halt()
}

// ErrStartupFailed is returned by a Factory when the underlying DSP pipeline
// could not be brought up.
var ErrStartupFailed = errors.New("analyzer: startup failed")

// Factory constructs a new Analyzer instance, e.g. opening a radiod control
// socket or spinning up a local SDR driver. The server supervisor calls this
// lazily on the first successful client authentication.
type Factory func(ctx context.Context) (Analyzer, error)

// Reference is a minimal in-process Analyzer used by tests and as a
// last-resort standalone mode: it accepts every dispatched call, tracks open
// inspectors by a monotonically increasing analyzer-private id, and echoes
// back the handful of responses the server supervisor's inspector interception
// logic depends on.
//
// It does no signal processing of its own; it exists to give the rest of the
// core something concrete to dispatch to without requiring real hardware.
type Reference struct {
	mu       sync.Mutex
	nextID   uint32
	out      chan *wire.RemoteCall
	halted   bool
	haltOnce sync.Once
}

// NewReference returns a Reference Analyzer with its output queue open.
func NewReference() *Reference {
	return &Reference{
		out: make(chan *wire.RemoteCall, 256),
	}
}

// NewReferenceFactory adapts NewReference to the Factory signature.
func NewReferenceFactory() Factory {
	return func(ctx context.Context) (Analyzer, error) {
		return NewReference(), nil
	}
}

func (r *Reference) Output() <-chan *wire.RemoteCall {
	return r.out
}

// Dispatch implements Analyzer. InspectorOpen requests synthesize an
// InspectorOpenResponse carrying a fresh analyzer-private id (as both Handle
// and InspectorID), and
// InspectorClose requests synthesize nothing (the caller already knows it
// succeeded); every other call is accepted silently, standing in for whatever
// the real DSP pipeline would do with it.
func (r *Reference) Dispatch(call *wire.RemoteCall) error {
	r.mu.Lock()
	if r.halted {
		r.mu.Unlock()
		return errors.New("analyzer: dispatch after halt")
	}
	r.mu.Unlock()

	if call.Type != wire.CallMessage {
		return nil
	}

	switch call.Msg.Type {
	case wire.MsgInspectorOpen:
		r.mu.Lock()
		r.nextID++
		id := r.nextID
		r.mu.Unlock()

		resp := &wire.RemoteCall{
			Type: wire.CallMessage,
			Msg: wire.AnalyzerMessage{
				Type:        wire.MsgInspectorOpenResponse,
				ReqID:       call.Msg.ReqID,
				Handle:      id,
				InspectorID: id,
			},
		}
		return r.emit(resp)
	default:
		return nil
	}
}

func (r *Reference) emit(call *wire.RemoteCall) error {
	select {
	case r.out <- call:
		return nil
	default:
		return fmt.Errorf("analyzer: output queue full")
	}
}

// Halt closes the output queue after marking the analyzer halted, which in
// turn lets the supervisor's TX thread exit once it drains the queue.
func (r *Reference) Halt() {
	r.haltOnce.Do(func() {
		r.mu.Lock()
		r.halted = true
		r.mu.Unlock()
		close(r.out)
	})
}
