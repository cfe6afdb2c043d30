/* Copyright (c) 2013-2020 Software Radio Systems Limited (original C++)
 * Go reimplementation */

package main

import (
	"net"

	"golang.org/x/net/ipv4"
)

// MBSFNRnti and MBSFNLcid are fixed sentinels for MBSFN delivery (spec.md
// §4.3). The LCID is never incremented — kept as a documented design
// choice (SPEC_FULL.md §6, Open Question #4): a single logical MBSFN
// bearer per cell, mirroring the original's never-advanced lcid_counter.
const (
	MBSFNRnti = 0xFFFF
	MBSFNLcid = 1
)

// M1U is the M1-U Endpoint (spec.md §4.3). It has no per-flow state: every
// datagram received on the multicast group is stripped and delivered.
type M1U struct {
	radio Radio
	conn  *net.UDPConn
	pconn *ipv4.PacketConn
}

// NewM1U binds (INADDR_ANY, M1UPort) and joins the configured multicast
// group on ifaceAddr, following the original's m1u_handler::init (bind
// before join is required for multicast sockets).
func NewM1U(radio Radio, group, ifaceAddr string) (*M1U, error) {

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: M1UPort})
	if err != nil {
		return nil, err
	}

	pconn := ipv4.NewPacketConn(conn)
	ifc := interfaceForAddr(ifaceAddr)
	groupAddr := &net.UDPAddr{IP: net.ParseIP(group)}
	if err := pconn.JoinGroup(ifc, groupAddr); err != nil {
		conn.Close()
		return nil, err
	}

	log.info("m1u: joined multicast group %v on %v", group, ifaceAddr)
	return &M1U{radio: radio, conn: conn, pconn: pconn}, nil
}

func interfaceForAddr(addr string) *net.Interface {
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.Equal(ip) {
				return &ifaces[i]
			}
		}
	}
	return nil
}

// OnRxM1U strips the GTP-U header and hands the payload to Radio, ignoring
// the parsed message type entirely: the original does the same
// (handle_rx_packet reads the header only to skip past it).
func (m *M1U) OnRxM1U(pkt []byte) {
	hdr, err := ParseHeader(pkt)
	if err != nil {
		log.err("m1u: malformed ingress: %v", err)
		return
	}
	m.radio.Deliver(MBSFNRnti, MBSFNLcid, hdr.Payload, nil)
}

func (m *M1U) Close() error {
	return m.conn.Close()
}
