package mcast

import (
	"log"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
)

// Receiver joins a UDP multicast group and feeds every datagram it reads to a
// Processor: one goroutine reading until the socket is closed.
type Receiver struct {
	conn *net.UDPConn
	proc *Processor

	wg   sync.WaitGroup
	done chan struct{}
}

// NewReceiver binds groupAddr ("ip:port") and joins it on iface (nil selects the
// default multicast-capable interface).
func NewReceiver(groupAddr string, iface *net.Interface, proc *Processor) (*Receiver, error) {
	addr, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: addr.Port})
	if err != nil {
		return nil, err
	}

	p := ipv4.NewPacketConn(conn)
	if err := p.JoinGroup(iface, addr); err != nil {
		conn.Close()
		return nil, err
	}

	return &Receiver{
		conn: conn,
		proc: proc,
		done: make(chan struct{}),
	}, nil
}

// Run reads datagrams until Close is called, handing each to the Processor.
// Malformed datagrams and unknown superframe types are logged and dropped:
// multicast reassembly is best-effort and never fatal.
func (rc *Receiver) Run() {
	rc.wg.Add(1)
	go func() {
		defer rc.wg.Done()
		buf := make([]byte, 65536)
		for {
			n, _, err := rc.conn.ReadFromUDP(buf)
			if err != nil {
				select {
				case <-rc.done:
					return
				default:
					log.Printf("mcast: receive error: %v", err)
					continue
				}
			}
			if err := rc.proc.Process(buf[:n]); err != nil {
				log.Printf("mcast: dropping datagram: %v", err)
			}
		}
	}()
}

// Close stops the read loop and closes the socket.
func (rc *Receiver) Close() error {
	close(rc.done)
	err := rc.conn.Close()
	rc.wg.Wait()
	return err
}
