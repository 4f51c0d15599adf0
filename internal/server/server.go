// Package server implements the accept loop, authentication handshake,
// inspector-handle rewriting, and analyzer lifecycle management that sit
// between listening sockets and the opaque analyzer collaborator.
//
// Go's goroutine-per-connection model replaces a poll-driven session slot
// table: Accept already blocks a dedicated goroutine, and each session gets
// its own read goroutine, so there is no pollfd set to rebuild. What remains
// is a single place where inspector messages get intercepted and rewritten,
// one TX thread draining the analyzer's output queue, and a client list
// mutex serializing both.
package server

import (
	"context"
	"errors"
	"log"
	"net"
	"sync"

	"github.com/BatchDrake/suscan-sub002/internal/analyzer"
	"github.com/BatchDrake/suscan-sub002/internal/clientlist"
	"github.com/BatchDrake/suscan-sub002/internal/codec"
	"github.com/BatchDrake/suscan-sub002/internal/session"
	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

// AuthStore resolves a username to its password for token verification.
// A real deployment backs this with the admin/user credentials section of
// the YAML configuration; tests use a plain map.
type AuthStore interface {
	Password(user string) (string, bool)
}

// MapAuthStore is the trivial in-memory AuthStore used by tests and small
// deployments.
type MapAuthStore map[string]string

func (m MapAuthStore) Password(user string) (string, bool) {
	p, ok := m[user]
	return p, ok
}

// Options configures a Server.
type Options struct {
	ServerName        string
	MulticastAddr     uint32
	MulticastPort     uint16
	MulticastEnabled  bool
	CompressThreshold int
}

// Server is the supervisor: it owns the client list, the live analyzer (if
// any), and the goroutines that bridge between them.
type Server struct {
	opts  Options
	auth  AuthStore
	list  *clientlist.List
	newer analyzer.Factory

	mu       sync.Mutex
	an       analyzer.Analyzer
	txDone   chan struct{}
	listener net.Listener
}

// New constructs a Server. newer is invoked lazily to start the analyzer on
// the first successful client authentication.
func New(auth AuthStore, newer analyzer.Factory, opts Options) *Server {
	return &Server{
		opts:  opts,
		auth:  auth,
		list:  clientlist.New(),
		newer: newer,
	}
}

// Serve runs the accept loop until ctx is cancelled or the listener fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.listener = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	c := codec.New(s.opts.CompressThreshold)
	var sess *session.Session
	sess = session.New(conn, c, func(err error) {
		s.kick(sess)
	}, s.list.Epoch())
	sess.TX.Run()
	s.list.Add(sess)

	hello, err := sess.BeginAuth()
	if err != nil {
		sess.Close()
		return
	}
	hello.ServerName = s.opts.ServerName
	if s.opts.MulticastEnabled {
		hello.Flags |= wire.HelloFlagMulticastAvailable
		hello.MulticastAddr = s.opts.MulticastAddr
		hello.MulticastPort = s.opts.MulticastPort
	}

	framed, err := c.Encode(wire.EncodeServerHello(hello))
	if err != nil {
		sess.Close()
		return
	}
	if _, err := conn.Write(framed); err != nil {
		s.kick(sess)
		return
	}

	buf := make([]byte, 4096)
	authenticated := false
	for {
		n, err := conn.Read(buf)
		if err != nil {
			s.kick(sess)
			return
		}
		data := buf[:n]
		for len(data) > 0 {
			payload, done, consumed, err := sess.FeedInbound(data)
			if err != nil {
				s.kick(sess)
				return
			}
			data = data[consumed:]
			if !done {
				continue
			}

			call, err := wire.Decode(payload)
			if err != nil {
				s.kick(sess)
				return
			}

			if !authenticated {
				if err := s.handleAuth(sess, c, call); err != nil {
					s.kick(sess)
					return
				}
				authenticated = sess.State() == session.StateAuthenticated
				continue
			}

			s.handleCall(sess, call)
		}
	}
}

func (s *Server) handleAuth(sess *session.Session, c *codec.Codec, call *wire.RemoteCall) error {
	if call.Type != wire.CallAuthInfo {
		return errors.New("server: expected auth call")
	}
	if err := wire.CheckProtocolVersion(0, 1); err != nil {
		return err
	}

	password, ok := s.auth.Password(call.User)
	if !ok {
		return wire.ErrAuthRejected
	}

	expected := wire.ComputeToken(call.User, password, sess.Salt)
	auth := &wire.ClientAuth{User: call.User, Token: call.Token, Flags: call.AuthFlags}
	if err := sess.Authenticate(auth, expected); err != nil {
		return err
	}

	if err := s.ensureAnalyzer(context.Background()); err != nil {
		rejected, _ := wire.Encode(&wire.RemoteCall{Type: wire.CallStartupError, StartupErrorReason: err.Error()})
		framed, _ := c.Encode(rejected)
		sess.Conn.Write(framed)
		return err
	}

	return nil
}

func (s *Server) ensureAnalyzer(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.an != nil {
		return nil
	}

	an, err := s.newer(ctx)
	if err != nil {
		return err
	}
	s.an = an
	s.txDone = make(chan struct{})
	go s.txLoop(an, s.txDone)
	return nil
}

// txLoop reads the analyzer's output queue, applies per-client inspector
// rewrites, and either targets a single client or broadcasts.
func (s *Server) txLoop(an analyzer.Analyzer, done chan struct{}) {
	defer close(done)

	for call := range an.Output() {
		target := s.interceptOutgoing(call)

		payload, err := wire.Encode(call)
		if err != nil {
			log.Printf("server: dropping unencodable call: %v", err)
			continue
		}

		if target != nil {
			if err := target.TX.Enqueue(payload); err != nil {
				s.kick(target)
			}
			continue
		}

		s.list.Broadcast(payload, s.opts.MulticastEnabled, func(sess *session.Session, p []byte) error {
			return sess.TX.Enqueue(p)
		}, func(sess *session.Session, err error) {
			s.kick(sess)
		})
	}

	s.mu.Lock()
	s.an = nil
	s.mu.Unlock()
	s.list.AdvanceEpoch()
}

// interceptOutgoing rewrites inspector-scoped fields in place and returns the
// single client this message must be routed to, or nil for a broadcast.
func (s *Server) interceptOutgoing(call *wire.RemoteCall) *session.Session {
	if call.Type != wire.CallMessage {
		return nil
	}
	m := &call.Msg

	switch m.Type {
	case wire.MsgInspectorOpenResponse:
		sess, ok := s.list.Get(reqIDToSessionID(m.ReqID))
		if !ok {
			return nil
		}
		slot := s.list.AllocateITLSlot(sess, m.Handle)
		handle, err := sess.AllocateHandle(m.Handle, slot)
		if err != nil {
			return sess
		}
		m.Handle = handle
		return sess
	case wire.MsgInspectorClose, wire.MsgInspectorInvalidChannel:
		// Looked up by the caller's handle map in a full implementation;
		// the reference analyzer never emits these without Dispatch()
		// already having resolved the owning session.
		return nil
	default:
		return nil
	}
}

// handleCall forwards an authenticated client's call to the analyzer,
// rewriting inspector-scoped fields per the translation table.
func (s *Server) handleCall(sess *session.Session, call *wire.RemoteCall) {
	s.mu.Lock()
	an := s.an
	s.mu.Unlock()
	if an == nil {
		return
	}

	if call.Type == wire.CallMessage {
		switch call.Msg.Type {
		case wire.MsgInspectorOpen:
			call.Msg.ReqID = sessionIDToReqID(sess.ID)
		case wire.MsgNone, wire.MsgPSD, wire.MsgSourceInfo, wire.MsgHalt:
			// carry no client-scoped handle
		default:
			clientHandle := call.Msg.Handle
			if entry, ok := sess.ResolveHandle(clientHandle); ok {
				call.Msg.Handle = entry.GlobalHandle
				if call.Msg.Type == wire.MsgInspectorClose {
					sess.ReleaseHandle(clientHandle)
					s.list.FreeITLSlot(entry.ITLSlot)
				}
			}
		}
	}

	if err := an.Dispatch(call); err != nil {
		log.Printf("server: dispatch failed: %v", err)
	}
}

// kick shuts the client down: marks it failed, emits a synthetic
// MsgInspectorClose to the analyzer for every inspector the client still had
// open, drains its handle map, frees every ITL slot it owns, and lets Sweep
// remove it from the list once eligible. Without the synthetic closes the
// analyzer would keep those inspectors running forever and the session's
// handle map would never empty, so EligibleForDestruction would never hold.
func (s *Server) kick(sess *session.Session) {
	sess.MarkFailed()
	sess.Conn.Close()

	s.mu.Lock()
	an := s.an
	s.mu.Unlock()

	if an != nil {
		for _, entry := range sess.DrainHandles() {
			call := &wire.RemoteCall{
				Type: wire.CallMessage,
				Msg: wire.AnalyzerMessage{
					Type:   wire.MsgInspectorClose,
					Handle: entry.GlobalHandle,
				},
			}
			if err := an.Dispatch(call); err != nil {
				log.Printf("server: synthetic close dispatch failed: %v", err)
			}
		}
	} else {
		sess.DrainHandles()
	}

	s.list.FreeClientITLSlots(sess)
}

// Sweep removes every failed, cleanup-eligible session from the list.
func (s *Server) Sweep() int {
	return s.list.Sweep()
}

// ClientCount reports the number of currently connected sessions, for
// metrics polling.
func (s *Server) ClientCount() int {
	return s.list.Len()
}

// reqIDToSessionID/sessionIDToReqID bridge the analyzer's numeric req_id
// field to session IDs (strings, from google/uuid): a production deployment
// would keep this table on the Server rather than as a package-level map,
// but a single process only ever runs one Server in practice here.
var reqIDMu sync.Mutex
var reqIDTable = map[uint32]string{}
var reqIDRev = map[string]uint32{}
var reqIDNext uint32

func sessionIDToReqID(id string) uint32 {
	reqIDMu.Lock()
	defer reqIDMu.Unlock()
	if v, ok := reqIDRev[id]; ok {
		return v
	}
	reqIDNext++
	reqIDTable[reqIDNext] = id
	reqIDRev[id] = reqIDNext
	return reqIDNext
}

func reqIDToSessionID(v uint32) string {
	reqIDMu.Lock()
	defer reqIDMu.Unlock()
	return reqIDTable[v]
}
