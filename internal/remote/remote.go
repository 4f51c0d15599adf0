// Package remote implements the client-side counterpart to internal/server:
// a cancellable connect, a TX/RX thread pair, and a per-instance call slot
// that serializes outbound operations without ever blocking the caller on
// network I/O.
package remote

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/BatchDrake/suscan-sub002/internal/codec"
	"github.com/BatchDrake/suscan-sub002/internal/mcast"
	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

// Options configures a Client connection.
type Options struct {
	ServerAddr      string
	User            string
	Password        string
	ClientName      string
	WantMulticast   bool
	MulticastIface  *net.Interface
	ConnectTimeout  time.Duration
	CompressionSize int
}

// Client is the client-side remote analyzer runtime.
type Client struct {
	opts  Options
	conn  net.Conn
	codec *codec.Codec

	callMu sync.Mutex // per-instance call slot (spec-described "call slot")

	outbound chan []byte
	hardStop chan struct{}
	txDone   chan struct{}
	rxDone   chan struct{}

	SourceInfo chan string
	Messages   chan wire.AnalyzerMessage
	Eos        chan struct{}

	mcastRecv *mcast.Receiver
	mcastProc *mcast.Processor

	closeOnce sync.Once
}

// Connect resolves and dials the server's control port with a cancellable
// timeout, performs the auth handshake, and starts the TX/RX threads.
func Connect(ctx context.Context, opts Options) (*Client, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.ClientName == "" {
		opts.ClientName = randomClientName()
	}

	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", opts.ServerAddr)
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("remote: %w", wire.ErrTimedout)
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, fmt.Errorf("remote: %w", wire.ErrCancelled)
		}
		return nil, err
	}

	if err := checkSocketError(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("remote: connect: %w", err)
	}

	c := &Client{
		opts:       opts,
		conn:       conn,
		codec:      codec.New(opts.CompressionSize),
		outbound:   make(chan []byte, 64),
		hardStop:   make(chan struct{}),
		txDone:     make(chan struct{}),
		rxDone:     make(chan struct{}),
		SourceInfo: make(chan string, 8),
		Messages:   make(chan wire.AnalyzerMessage, 256),
		Eos:        make(chan struct{}, 1),
	}

	if err := c.handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	go c.txLoop()
	go c.rxLoop()

	return c, nil
}

func (c *Client) handshake() error {
	helloPDU, err := codec.ReadPDU(c.conn)
	if err != nil {
		return err
	}
	hello, err := wire.DecodeServerHello(helloPDU)
	if err != nil {
		return err
	}
	if err := wire.CheckProtocolVersion(hello.ProtocolMajor, hello.ProtocolMinor); err != nil {
		return err
	}

	if c.opts.WantMulticast && hello.Flags&wire.HelloFlagMulticastAvailable != 0 {
		group := fmt.Sprintf("%s:%d", intToIPv4(hello.MulticastAddr), hello.MulticastPort)
		proc := mcast.NewProcessor(func(call *wire.RemoteCall) {
			c.deliverFromMulticast(call)
		})
		recv, err := mcast.NewReceiver(group, c.opts.MulticastIface, proc)
		if err != nil {
			// Multicast is opportunistic; fall back to control-plane only.
			c.opts.WantMulticast = false
		} else {
			c.mcastRecv = recv
			c.mcastProc = proc
			recv.Run()
		}
	}

	token := wire.ComputeToken(c.opts.User, c.opts.Password, hello.Salt)
	var flags uint32
	if c.opts.WantMulticast {
		flags |= wire.AuthFlagMulticastOptIn
	}

	auth := &wire.RemoteCall{
		Type:      wire.CallAuthInfo,
		ClientName: c.opts.ClientName,
		User:      c.opts.User,
		Token:     token,
		AuthFlags: flags,
	}
	payload, err := wire.Encode(auth)
	if err != nil {
		return err
	}
	framed, err := c.codec.Encode(payload)
	if err != nil {
		return err
	}
	_, err = c.conn.Write(framed)
	return err
}

func intToIPv4(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// checkSocketError reads SO_ERROR off the just-completed connection's raw fd,
// the same check a non-blocking connect() needs to run once its socket
// becomes writable: a successful connect() can still have failed
// asynchronously (ECONNREFUSED, ENETUNREACH) after the call itself returned.
// net.Dialer's context-based timeout already gives us cancellable connect, so
// this only adds the one piece it doesn't: surfacing an async connect error
// DialContext swallowed.
func checkSocketError(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		errno, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			sockErr = err
			return
		}
		if errno != 0 {
			sockErr = syscall.Errno(errno)
		}
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}

func (c *Client) txLoop() {
	defer close(c.txDone)
	for {
		select {
		case <-c.hardStop:
			return
		case framed, ok := <-c.outbound:
			if !ok {
				return
			}
			if _, err := c.conn.Write(framed); err != nil {
				return
			}
		}
	}
}

func (c *Client) rxLoop() {
	defer close(c.rxDone)
	for {
		payload, err := codec.ReadPDU(c.conn)
		if err != nil {
			return
		}
		call, err := wire.Decode(payload)
		if err != nil {
			continue
		}
		c.deliverFromControl(call)
	}
}

func (c *Client) deliverFromControl(call *wire.RemoteCall) {
	switch call.Type {
	case wire.CallSourceInfo:
		select {
		case c.SourceInfo <- call.SourceInfoJSON:
		default:
		}
	case wire.CallForceEOS:
		select {
		case c.Eos <- struct{}{}:
		default:
		}
	case wire.CallMessage:
		select {
		case c.Messages <- call.Msg:
		default:
		}
	}
}

func (c *Client) deliverFromMulticast(call *wire.RemoteCall) {
	if call.Type == wire.CallMessage {
		select {
		case c.Messages <- call.Msg:
		default:
		}
	}
}

// dispatch serializes and enqueues one call, holding the per-instance call
// slot only long enough to build the frame; the TX thread is never blocked
// on by the caller.
func (c *Client) dispatch(call *wire.RemoteCall) error {
	c.callMu.Lock()
	payload, err := wire.Encode(call)
	c.callMu.Unlock()
	if err != nil {
		return err
	}

	framed, err := c.codec.Encode(payload)
	if err != nil {
		return err
	}

	select {
	case c.outbound <- framed:
		return nil
	default:
		return wire.ErrResourceExhausted
	}
}

func (c *Client) SetFrequency(freq, lnb float64) error {
	return c.dispatch(&wire.RemoteCall{Type: wire.CallSetFrequency, Freq: freq, LNB: lnb})
}

func (c *Client) SetGain(name string, value float64) error {
	return c.dispatch(&wire.RemoteCall{Type: wire.CallSetGain, GainName: name, GainValue: value})
}

func (c *Client) SetBandwidth(bw int32) error {
	return c.dispatch(&wire.RemoteCall{Type: wire.CallSetBandwidth, Bandwidth: bw})
}

func (c *Client) SetAntenna(name string) error {
	return c.dispatch(&wire.RemoteCall{Type: wire.CallSetAntenna, Antenna: name})
}

func (c *Client) SetPPM(ppm float64) error {
	return c.dispatch(&wire.RemoteCall{Type: wire.CallSetPPM, PPM: ppm})
}

func (c *Client) SetAGC(on bool) error {
	return c.dispatch(&wire.RemoteCall{Type: wire.CallSetAGC, AGC: on})
}

func (c *Client) SetDCRemove(on bool) error {
	return c.dispatch(&wire.RemoteCall{Type: wire.CallSetDCRemove, DCRemove: on})
}

func (c *Client) SetIQReverse(on bool) error {
	return c.dispatch(&wire.RemoteCall{Type: wire.CallSetIQReverse, IQReverse: on})
}

func (c *Client) ForceEOS() error {
	return c.dispatch(&wire.RemoteCall{Type: wire.CallForceEOS, ForceEOS: true})
}

func (c *Client) SetSweepStrategy(strategy uint32) error {
	return c.dispatch(&wire.RemoteCall{Type: wire.CallSetSweepStrategy, SweepStrategy: strategy})
}

func (c *Client) SetSpectrumPartitioning(p uint32) error {
	return c.dispatch(&wire.RemoteCall{Type: wire.CallSetSpectrumPartitioning, SpectrumPartitioning: p})
}

func (c *Client) SetHopRange(min, max uint64) error {
	return c.dispatch(&wire.RemoteCall{Type: wire.CallSetHopRange, HopMin: min, HopMax: max})
}

func (c *Client) SetBufferingSize(size uint32) error {
	return c.dispatch(&wire.RemoteCall{Type: wire.CallSetBufferingSize, BufferSize: size})
}

func (c *Client) WriteMessage(msg wire.AnalyzerMessage) error {
	return c.dispatch(&wire.RemoteCall{Type: wire.CallMessage, Msg: msg})
}

func (c *Client) RequestHalt() error {
	return c.dispatch(&wire.RemoteCall{Type: wire.CallRequestHalt, RequestHalt: true})
}

// Close hard-stops the TX thread (frames still queued for sending are
// discarded), closes the socket and any multicast receiver, and waits for
// both threads to exit.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.hardStop)
		c.conn.Close()
		if c.mcastRecv != nil {
			c.mcastRecv.Close()
		}
		<-c.txDone
		<-c.rxDone
	})
}

func randomClientName() string {
	b := make([]byte, 4)
	rand.Read(b)
	return fmt.Sprintf("client-%x", b)
}
