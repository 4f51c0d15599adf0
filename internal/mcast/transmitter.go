// Package mcast implements the multicast fragmentation (TX) and reassembly
// (RX) pipeline: chopping outbound calls into MTU-sized UDP fragments keyed
// by superframe type and rolling id, and reassembling them with per-byte
// presence bitmaps that converge on the most complete payload possible under
// reordering, duplication, and loss.
package mcast

import (
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/BatchDrake/suscan-sub002/internal/wire"
)

// Transmitter chops outbound calls into fragments and sends them on a UDP
// multicast group: join the group on the outbound interface (and loopback,
// for local listeners), set TTL/loop options, keep the socket non-blocking
// from the caller's point of view by never retrying a failed Write.
type Transmitter struct {
	conn    *net.UDPConn
	addr    *net.UDPAddr
	iface   *net.Interface
	sfIDs   [3]uint32 // one rolling id per SuperframeType, atomically incremented
	done    chan struct{}
	wg      sync.WaitGroup

	// ServerName is embedded in periodic announce superframes.
	ServerName string
}

// NewTransmitter creates a Transmitter bound to groupAddr ("ip:port") and
// joined on iface (nil selects the default multicast-capable interface).
func NewTransmitter(groupAddr string, iface *net.Interface, serverName string) (*Transmitter, error) {
	addr, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, err
	}

	p := ipv4.NewPacketConn(conn)
	if iface != nil {
		if err := p.JoinGroup(iface, addr); err != nil {
			log.Printf("mcast: warning: failed to join group on %s: %v", iface.Name, err)
		}
		if err := p.SetMulticastInterface(iface); err != nil {
			log.Printf("mcast: warning: failed to set outbound interface %s: %v", iface.Name, err)
		}
	}
	if err := p.SetMulticastTTL(1); err != nil {
		log.Printf("mcast: warning: failed to set multicast TTL: %v", err)
	}
	if err := p.SetMulticastLoopback(true); err != nil {
		log.Printf("mcast: warning: failed to enable multicast loopback: %v", err)
	}

	return &Transmitter{
		conn:       conn,
		addr:       addr,
		iface:      iface,
		done:       make(chan struct{}),
		ServerName: serverName,
	}, nil
}

// Send fragments payload under sfType and transmits each fragment as one
// datagram. Fragment ordering is unconstrained; UDP send errors are logged
// and not propagated, since multicast delivery is best-effort.
func (t *Transmitter) Send(sfType wire.SuperframeType, payload []byte) {
	if len(payload) > wire.MaxSuperframeSize {
		log.Printf("mcast: refusing to send %d-byte superframe (max %d)", len(payload), wire.MaxSuperframeSize)
		return
	}

	sfID := uint8(atomic.AddUint32(&t.sfIDs[sfType], 1) - 1)

	if len(payload) == 0 {
		t.sendOne(wire.FragmentHeader{SFType: sfType, SFID: sfID, SFSize: 0, SFOffset: 0, Size: 0}, nil)
		return
	}

	for off := 0; off < len(payload); off += wire.MaxFragmentPayload {
		end := off + wire.MaxFragmentPayload
		if end > len(payload) {
			end = len(payload)
		}
		h := wire.FragmentHeader{
			SFType:   sfType,
			SFID:     sfID,
			SFSize:   uint32(len(payload)),
			SFOffset: uint32(off),
			Size:     uint16(end - off),
		}
		t.sendOne(h, payload[off:end])
	}
}

func (t *Transmitter) sendOne(h wire.FragmentHeader, payload []byte) {
	datagram := encodeFragment(h, payload)
	if _, err := t.conn.WriteToUDP(datagram, t.addr); err != nil {
		log.Printf("mcast: send error (best-effort, dropped): %v", err)
	}
}

// StartAnnouncer starts a background goroutine emitting an `announce`
// superframe every 1s, stopping when Close is called.
func (t *Transmitter) StartAnnouncer() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-t.done:
				return
			case <-ticker.C:
				t.Send(wire.SFAnnounce, []byte(t.ServerName))
			}
		}
	}()
}

// Close stops the announcer and closes the underlying socket.
func (t *Transmitter) Close() error {
	close(t.done)
	t.wg.Wait()
	return t.conn.Close()
}
