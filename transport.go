/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import (
	"context"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// UDPPump is the socket-pump collaborator (spec.md §2's Transport):
// dedicated sender/receiver goroutines around one UDP socket, mirroring
// the teacher's gw_sender/gw_receiver/start_gw shape (gw.go).
type UDPPump struct {
	name string
	typ  int // PKT_S1U or PKT_M1U, tagged onto buffers as they're read
	conn *net.UDPConn
	send chan *PktBuf
	onRx func(pkt []byte, addr *net.UDPAddr)
}

// listenReuse opens a UDP4 socket with SO_REUSEADDR/SO_REUSEPORT set
// before bind, the way the original source does for its S1-U socket
// (SPEC_FULL.md §10) and the way the teacher sets socket options on its
// own fds via golang.org/x/sys/unix.
func listenReuse(addr *net.UDPAddr) (*net.UDPConn, error) {

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					log.err("transport: setsockopt(SO_REUSEADDR) failed: %v", err)
				}
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
					log.err("transport: setsockopt(SO_REUSEPORT) failed: %v", err)
				}
			})
		},
	}
	pc, err := lc.ListenPacket(context.Background(), "udp4", addr.String())
	if err != nil {
		return nil, err
	}
	return pc.(*net.UDPConn), nil
}

func NewUDPPump(name string, typ int, conn *net.UDPConn, onRx func(pkt []byte, addr *net.UDPAddr)) *UDPPump {
	return &UDPPump{name: name, typ: typ, conn: conn, send: make(chan *PktBuf, PKTQLEN), onRx: onRx}
}

// SendTo implements the Sender interface used by S1U/M1U header writers.
func (p *UDPPump) SendTo(pkt []byte, addr uint32, port int) {
	pb := <-getbuf
	pb.data = 0
	pb.tail = len(pkt)
	if len(pb.pkt) < len(pkt) {
		log.err("%v out: packet too large for buffer (%v > %v), dropping", p.name, len(pkt), len(pb.pkt))
		retbuf <- pb
		return
	}
	copy(pb.pkt, pkt)
	pb.peer = UDPAddrFromIPv4(addr, port)
	p.send <- pb
}

func (p *UDPPump) sender() {
	for pb := range p.send {
		_, err := p.conn.WriteToUDP(pb.bytes(), pb.peer)
		if err != nil {
			log.err("%v out: sendto %v failed: %v", p.name, pb.peer, err) // transient I/O, spec.md §7
		}
		retbuf <- pb
	}
}

func (p *UDPPump) receiver(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		pb := <-getbuf
		pb.data = 0
		pb.typ = p.typ
		rlen, addr, err := p.conn.ReadFromUDP(pb.pkt)
		if err != nil {
			log.err("%v in:  recvfrom failed: %v", p.name, err)
			retbuf <- pb
			continue
		}
		pb.tail = rlen
		pb.peer = addr
		p.onRx(pb.bytes(), addr)
		retbuf <- pb
	}
}

// Run starts the sender/receiver goroutines and blocks until done closes.
func (p *UDPPump) Run(done <-chan struct{}) {
	go p.sender()
	go p.receiver(done)
	<-done
	p.conn.Close()
	close(p.send)
}
