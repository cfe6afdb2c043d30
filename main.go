/* Copyright (c) 2018-2020 Waldemar Augustyn */

package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

var goexit chan string

func catch_signals() {

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigchan

	signal.Stop(sigchan)
	goexit <- "signal(" + sig.String() + ")"
}

// loggingRadio is the minimal concrete Radio collaborator this standalone
// binary wires in: a real eNB build supplies its own PDCP/RLC stack here,
// so this one only logs, it never buffers anything itself (DrainPending
// always reports empty — there is no uplink stack underneath it to hold
// packets, so forward_from_teidin never has anything to drain).
type loggingRadio struct{}

func (loggingRadio) Deliver(rnti uint16, lcid uint8, pkt []byte, pdcpSN *uint16) {
	if pdcpSN != nil {
		log.debug("radio: deliver rnti=0x%x lcid=%v sn=%v n_bytes=%v", rnti, lcid, *pdcpSN, len(pkt))
	} else {
		log.debug("radio: deliver rnti=0x%x lcid=%v n_bytes=%v", rnti, lcid, len(pkt))
	}
}

func (loggingRadio) DrainPending(rnti uint16, lcid uint8) map[uint16][]byte {
	return nil
}

func main() {

	parse_cli() // also initializes log

	log.info("START gtpu")

	goexit = make(chan string)
	go catch_signals()

	getbuf = make(chan *PktBuf, 1)
	retbuf = make(chan *PktBuf, cli.maxbuf)
	go pkt_buffers()

	reg := NewRegistry()
	radio := loggingRadio{}

	s1uAddr, err := ParseIPv4(cli.s1uBind)
	if err != nil {
		log.fatal("main: %v", err)
	}
	s1uConn, err := listenReuse(UDPAddrFromIPv4(s1uAddr, S1UPort))
	if err != nil {
		log.fatal("main: cannot bind s1u socket on %v:%v: %v", cli.s1uBind, S1UPort, err)
	}
	log.info("main: s1u bound on %v:%v, mme=%v", cli.s1uBind, S1UPort, cli.mmeAddr)

	var s1u *S1U
	s1uPump := NewUDPPump("s1u", PKT_S1U, s1uConn, func(pkt []byte, addr *net.UDPAddr) {
		s1u.OnRxS1U(pkt, IPv4FromUDPAddr(addr), addr.Port)
	})
	s1u = NewS1U(reg, radio, s1uPump)

	done := make(chan struct{})
	var g errgroup.Group

	g.Go(func() error { s1uPump.Run(done); return nil })
	g.Go(func() error { housekeeping(reg, s1u, done); return nil })
	g.Go(func() error { watchConf(done); return nil })

	if cli.mbsfnEnable {
		m1u, err := NewM1U(radio, cli.m1uGroup, cli.m1uIface)
		if err != nil {
			log.fatal("main: cannot start m1u: %v", err)
		}
		m1uPump := NewUDPPump("m1u", PKT_M1U, m1u.conn, func(pkt []byte, _ *net.UDPAddr) {
			m1u.OnRxM1U(pkt)
		})
		g.Go(func() error { m1uPump.Run(done); return nil })
	}

	msg := <-goexit
	close(done)
	g.Wait()
	log.info("STOP gtpu: %v", msg)
}
