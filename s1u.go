/* Copyright (c) 2013-2020 Software Radio Systems Limited (original C++)
 * Go reimplementation */

package main

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Radio is the upper radio-protocol-layer collaborator (spec.md §2). The
// core never holds radio-layer state; it only calls out.
type Radio interface {
	Deliver(rnti uint16, lcid uint8, pkt []byte, pdcpSN *uint16)
	DrainPending(rnti uint16, lcid uint8) map[uint16][]byte // ordered by sn
}

// Sender is the narrow egress half of the Transport collaborator that the
// S1-U/M1-U endpoints need (spec.md §2): fire-and-forget sendto.
type Sender interface {
	SendTo(pkt []byte, addr uint32, port int)
}

// S1U is the S1-U Endpoint (spec.md §4.2).
type S1U struct {
	reg    *Registry
	radio  Radio
	send   Sender
	errDup *lru.Cache[errDupKey, time.Time] // rate-limits repeated Error Indications
}

type errDupKey struct {
	peer uint32
	teid uint32
}

const errDupWindow = 5 * time.Second

func NewS1U(reg *Registry, radio Radio, send Sender) *S1U {
	cache, err := lru.New[errDupKey, time.Time](1024)
	if err != nil {
		log.fatal("s1u: cannot create error-indication rate-limit cache: %v", err)
	}
	return &S1U{reg: reg, radio: radio, send: send, errDup: cache}
}

// WritePDU is the uplink entry point: upper layer -> primary tunnel.
func (s *S1U) WritePDU(rnti uint16, lcid uint8, pkt []byte) {

	teidIn := s.reg.PrimaryTeid(rnti, lcid)
	if teidIn == 0 {
		log.err("s1u: write_pdu, no primary tunnel for %v, dropping", fmtBearer(rnti, lcid))
		return
	}
	t := s.reg.Lookup(teidIn)
	if t == nil {
		log.err("s1u: write_pdu, primary tunnel 0x%x vanished for %v", teidIn, fmtBearer(rnti, lcid))
		return
	}
	s.SendOnTunnel(pkt, t.TeidOut, t.PeerAddr, nil)
}

// SendOnTunnel builds and transmits a G-PDU (spec.md §4.2 step 1-3).
func (s *S1U) SendOnTunnel(pkt []byte, teidOut, peerAddr uint32, pdcpSN *uint16) {

	if len(pkt) < 1 {
		log.err("s1u: send_on_tunnel, empty payload, dropping")
		return
	}
	ver := pkt[0] >> 4
	if ver != 4 && ver != 6 {
		log.err("s1u: send_on_tunnel, invalid IP version %v, dropping", ver)
		return
	}
	if ver == 4 && len(pkt) >= 4 {
		totLen := int(be.Uint16(pkt[2:4]))
		if totLen != len(pkt) {
			// logged, not dropped: matches the original's own treatment of
			// this exact mismatch at both its send and receive call sites
			// (SPEC_FULL.md §10).
			log.err("s1u: IP total-length field (%v) disagrees with buffer length (%v)", totLen, len(pkt))
		}
	}

	buf := make([]byte, GTPHdrMinLen+GTPHdrOptLen+4+len(pkt))
	n := BuildGPDU(buf, teidOut, pkt, pdcpSN)
	s.send.SendTo(buf[:n], peerAddr, S1UPort)
}

// OnRxS1U dispatches an inbound S1-U datagram (spec.md §4.2 dispatch table).
func (s *S1U) OnRxS1U(pkt []byte, srcAddr uint32, srcPort int) {

	hdr, err := ParseHeader(pkt)
	if err != nil {
		log.err("s1u: malformed ingress: %v", err)
		return
	}

	if hdr.MsgType == MsgGPDU && hdr.TEID != 0 {
		if s.reg.Lookup(hdr.TEID) == nil {
			s.sendErrorIndication(srcAddr, srcPort, hdr.TEID)
			return
		}
	}

	switch hdr.MsgType {
	case MsgEchoRequest:
		s.echoResponse(srcAddr, srcPort, hdr.Seq)
	case MsgErrorIndication:
		log.info("s1u: received error indication from 0x%x, teid=0x%x", srcAddr, hdr.TEID)
	case MsgGPDU:
		s.onGPDU(hdr, srcAddr, srcPort)
	case MsgEndMarker:
		s.onEndMarker(hdr)
	default:
		log.debug("s1u: ignoring message type 0x%02x", hdr.MsgType)
	}
}

func (s *S1U) onGPDU(hdr Header, srcAddr uint32, srcPort int) {

	if hdr.TEID == 0 {
		s.sendErrorIndication(srcAddr, srcPort, hdr.TEID)
		return
	}

	payload := hdr.Payload
	if len(payload) < 1 {
		log.err("s1u: g-pdu with empty payload, dropping")
		return
	}
	ver := payload[0] >> 4
	if ver != 4 && ver != 6 {
		log.err("s1u: g-pdu invalid IP version %v, dropping", ver)
		return
	}

	r := s.reg.Lookup(hdr.TEID)
	if r == nil {
		s.sendErrorIndication(srcAddr, srcPort, hdr.TEID)
		return
	}
	if int(r.Lcid) >= NumRadioBearers {
		log.err("s1u: g-pdu, invalid lcid for %v teid_in=0x%x, dropping", fmtBearer(r.Rnti, r.Lcid), r.TeidIn)
		return
	}

	switch {
	case r.forwarding():
		target := s.reg.Lookup(r.ForwardTo)
		if target == nil {
			log.err("s1u: forward_to names vanished tunnel 0x%x, dropping", r.ForwardTo)
			return
		}
		log.info("s1u: forwarding g-pdu %v teid_in=0x%x -> teid_in=0x%x",
			fmtBearer(r.Rnti, r.Lcid), r.TeidIn, target.TeidIn)
		s.SendOnTunnel(payload, target.TeidOut, target.PeerAddr, nil)

	case r.flushing():
		log.debug("s1u: buffering g-pdu %v teid_in=0x%x, %v bytes",
			fmtBearer(r.Rnti, r.Lcid), r.TeidIn, len(payload))
		buf := make([]byte, len(payload))
		copy(buf, payload)
		s.reg.appendPending(r.TeidIn, buf)

	default:
		s.radio.Deliver(r.Rnti, r.Lcid, payload, hdr.PDCPSN)
	}
}

func (s *S1U) onEndMarker(hdr Header) {

	o := s.reg.Lookup(hdr.TEID)
	if o == nil {
		log.err("s1u: end marker for unknown teid_in=0x%x, ignored", hdr.TEID)
		return
	}

	if o.forwarding() {
		target := s.reg.Lookup(o.ForwardTo)
		if target != nil {
			s.endMarker(target)
		}
		o.ForwardTo = 0
		return
	}

	log.info("s1u: received end marker for %v teid_in=0x%x, flushing", fmtBearer(o.Rnti, o.Lcid), o.TeidIn)
	drained := s.reg.drainFlushed(o.TeidIn)
	for _, pkt := range drained {
		s.radio.Deliver(o.Rnti, o.Lcid, pkt, nil)
	}
}

// sweepErrDup expires rate-limit cache entries older than errDupWindow.
// Entries that are still fresh are also reachable lazily via sendErrorIndication's
// own Get check; this sweep only matters for peers/TEIDs that stop sending
// altogether and would otherwise linger in the cache until evicted by LRU
// pressure (SPEC_FULL.md §14).
func (s *S1U) sweepErrDup() {
	now := time.Now()
	for _, key := range s.errDup.Keys() {
		last, ok := s.errDup.Peek(key)
		if ok && now.Sub(last) >= errDupWindow {
			s.errDup.Remove(key)
		}
	}
}

func (s *S1U) sendErrorIndication(addr uint32, port int, errTeid uint32) {

	if port == 0 {
		port = S1UPort
	}
	key := errDupKey{peer: addr, teid: errTeid}
	if last, ok := s.errDup.Get(key); ok && time.Since(last) < errDupWindow {
		return // rate-limited: same (peer, teid) warned recently
	}
	s.errDup.Add(key, time.Now())

	seq := s.reg.NextErrSeq()
	buf := make([]byte, 12)
	n := BuildErrorIndication(buf, errTeid, seq)
	log.info("s1u: tx error indication to %v:%v, seq=%v, err_teid=0x%x", IPv4String(addr), port, seq, errTeid)
	s.send.SendTo(buf[:n], addr, port)
}

func (s *S1U) echoResponse(addr uint32, port int, seq uint16) {
	buf := make([]byte, 12)
	n := BuildEchoResponse(buf, seq)
	s.send.SendTo(buf[:n], addr, port)
}

// endMarker sends a header-only End Marker to t's peer using t's TeidOut
// (spec.md §4.2 header writers).
func (s *S1U) endMarker(t *Tunnel) {
	buf := make([]byte, GTPHdrMinLen)
	n := BuildEndMarker(buf, t.TeidOut)
	s.send.SendTo(buf[:n], t.PeerAddr, S1UPort)
}

// AddBearer allocates a new tunnel and wires the forwarding side-effect of
// forward_from_teidin (spec.md §4.1): draining the upper layer's pending
// uplink packets for the source's (rnti, lcid) and retransmitting each on
// the new tunnel with its PDCP sequence number.
func (s *S1U) AddBearer(rnti uint16, lcid uint8, peerAddr, teidOut uint32, props BearerProps) uint32 {

	teidIn := s.reg.Allocate(rnti, lcid, peerAddr, teidOut, props)
	if teidIn == 0 || !props.ForwardFromTeidInSet {
		return teidIn
	}

	t := s.reg.Lookup(teidIn)
	if t == nil {
		return teidIn
	}
	f := s.reg.Lookup(props.ForwardFromTeidIn)
	if f == nil {
		log.err("s1u: forward_from_teidin names vanished tunnel 0x%x, nothing drained", props.ForwardFromTeidIn)
		return teidIn
	}
	for sn, pkt := range s.radio.DrainPending(f.Rnti, f.Lcid) {
		sn := sn
		s.SendOnTunnel(pkt, t.TeidOut, t.PeerAddr, &sn)
	}
	return teidIn
}

// RemBearer removes an entire bearer, emitting End Markers for any tunnel
// that was forwarding, via the registry's End-Marker callback.
func (s *S1U) RemBearer(rnti uint16, lcid uint8) {
	s.reg.RemoveBearer(rnti, lcid, func(targetTeidIn uint32) {
		if target := s.reg.Lookup(targetTeidIn); target != nil {
			s.endMarker(target)
		}
	})
}

// RemTunnel removes a single tunnel.
func (s *S1U) RemTunnel(teidIn uint32) {
	s.reg.Remove(teidIn, func(targetTeidIn uint32) {
		if target := s.reg.Lookup(targetTeidIn); target != nil {
			s.endMarker(target)
		}
	})
}

// RemUser removes every tunnel of every bearer of rnti.
func (s *S1U) RemUser(rnti uint16) {
	s.reg.RemoveUser(rnti, func(targetTeidIn uint32) {
		if target := s.reg.Lookup(targetTeidIn); target != nil {
			s.endMarker(target)
		}
	})
}
