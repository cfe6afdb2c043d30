/* Copyright (c) 2018-2020 Waldemar Augustyn */

package main

import (
	"fmt"
	"net"
)

// IPv4 addresses show up in three shapes in this codebase: dotted strings
// from config, net.UDPAddr from the socket layer, and the big-endian
// uint32 the GTP-U tunnel record and the wire format both use. addr.go
// converts between those three shapes.

func ParseIPv4(s string) (uint32, error) {

	ip := net.ParseIP(s)
	if ip == nil {
		return 0, fmt.Errorf("invalid IPv4 address: %v", s)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return 0, fmt.Errorf("not an IPv4 address: %v", s)
	}
	return be.Uint32(ip4), nil
}

func IPv4String(addr uint32) string {

	var b [4]byte
	be.PutUint32(b[:], addr)
	return net.IP(b[:]).String()
}

func UDPAddrFromIPv4(addr uint32, port int) *net.UDPAddr {

	var b [4]byte
	be.PutUint32(b[:], addr)
	return &net.UDPAddr{IP: net.IP(b[:]), Port: port}
}

func IPv4FromUDPAddr(addr *net.UDPAddr) uint32 {

	ip4 := addr.IP.To4()
	if ip4 == nil {
		return 0
	}
	return be.Uint32(ip4)
}
