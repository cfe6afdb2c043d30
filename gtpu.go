/* Copyright (c) 2013-2020 Software Radio Systems Limited (original C++)
 * Go reimplementation */

package main

import (
	"fmt"
)

// Mandatory 8-byte GTP-U header, plus the three optional 4-byte fields that
// appear when any of E|S|PN is set, plus an extension-header chain. Layout
// and field names follow spec.md §6.

const (
	GTPHdrMinLen = 8
	GTPHdrOptLen = 4 // seq(2) + n-pdu(1) + next-ext-type(1)

	FlagVersionV1   = 0x20
	FlagGTPProtocol = 0x10
	FlagExtHdr      = 0x04
	FlagSeq         = 0x02
	FlagNPDU        = 0x01

	MsgEchoRequest     = 0x01
	MsgEchoResponse    = 0x02
	MsgErrorIndication = 0x1A
	MsgGPDU            = 0xFF
	MsgEndMarker       = 0xFE

	ExtPDCPPDUNumber = 0xC0

	S1UPort = 2152
	M1UPort = S1UPort + 1
)

// Header is the decoded form of a GTP-U datagram's control fields; Payload
// points into the original buffer (no copy).
type Header struct {
	Flags     byte
	MsgType   byte
	TEID      uint32
	Seq       uint16
	HasSeq    bool
	NPDU      byte
	PDCPSN    *uint16 // set if a PDCP PDU Number extension was present
	Payload   []byte
}

// extTable maps known extension-header type codes to a decoder. Data-driven
// per spec.md §9's design note, rather than hard-coding the PDCP extension
// as the only possibility the parser understands.
var extTable = map[byte]func(body []byte, h *Header){
	ExtPDCPPDUNumber: func(body []byte, h *Header) {
		if len(body) < 2 {
			return
		}
		// Open Question #1 (SPEC_FULL.md §6): big-endian, matching the
		// original writer (sn>>8 then sn), not the original reader's bug.
		sn := uint16(body[0])<<8 | uint16(body[1])
		h.PDCPSN = &sn
	},
}

// ParseHeader decodes the GTP-U header (including any extension-header
// chain) at the front of pkt. It returns an error on a short or malformed
// header; callers treat that as malformed ingress (spec.md §7).
func ParseHeader(pkt []byte) (Header, error) {

	var h Header

	if len(pkt) < GTPHdrMinLen {
		return h, fmt.Errorf("gtpu: short header, %v bytes", len(pkt))
	}

	h.Flags = pkt[0]
	if h.Flags&0xE0 != FlagVersionV1 {
		return h, fmt.Errorf("gtpu: unsupported version, flags=0x%02x", h.Flags)
	}
	if h.Flags&FlagGTPProtocol == 0 {
		return h, fmt.Errorf("gtpu: not GTP protocol (GTP'?), flags=0x%02x", h.Flags)
	}

	h.MsgType = pkt[1]
	length := be.Uint16(pkt[2:4])
	h.TEID = be.Uint32(pkt[4:8])

	off := GTPHdrMinLen
	hasOpt := h.Flags&(FlagExtHdr|FlagSeq|FlagNPDU) != 0

	if hasOpt {
		if len(pkt) < off+GTPHdrOptLen {
			return h, fmt.Errorf("gtpu: short optional header fields")
		}
		h.Seq = be.Uint16(pkt[off : off+2])
		h.HasSeq = h.Flags&FlagSeq != 0
		h.NPDU = pkt[off+2]
		nextExt := pkt[off+3]
		off += GTPHdrOptLen

		for nextExt != 0 {
			if len(pkt) < off+1 {
				return h, fmt.Errorf("gtpu: truncated extension header")
			}
			extLen := int(pkt[off]) * 4 // includes the length byte and the next-type byte
			if extLen < 4 || len(pkt) < off+extLen {
				return h, fmt.Errorf("gtpu: malformed extension header, len=%v", extLen)
			}
			body := pkt[off+1 : off+extLen-1]
			if dec, ok := extTable[nextExt]; ok {
				dec(body, &h)
			}
			nextExt = pkt[off+extLen-1]
			off += extLen
		}
	}

	// length counts everything after the mandatory 8-byte header (spec.md
	// §6): optional fields, extensions, and payload alike. The UDP
	// datagram boundary is the authoritative framing, so the remainder of
	// the buffer is taken as the payload outright; a disagreement is
	// logged, not enforced (SPEC_FULL.md §10).
	if declared := len(pkt) - GTPHdrMinLen; int(length) != declared {
		log.err("gtpu: header length field (%v) disagrees with buffer remainder (%v)", length, declared)
	}
	h.Payload = pkt[off:]

	return h, nil
}

// writeBaseHeader fills the 8-byte mandatory header into pkt[0:8].
func writeBaseHeader(pkt []byte, flags, msgType byte, length uint16, teid uint32) {
	pkt[0] = flags
	pkt[1] = msgType
	be.PutUint16(pkt[2:4], length)
	be.PutUint32(pkt[4:8], teid)
}

// BuildGPDU serializes a G-PDU datagram carrying payload, optionally with a
// PDCP PDU Number extension, into dst. dst must have room for the header
// plus len(payload); the payload bytes themselves are copied in. Returns
// the total datagram length.
func BuildGPDU(dst []byte, teidOut uint32, payload []byte, pdcpSN *uint16) int {

	flags := byte(FlagVersionV1 | FlagGTPProtocol)
	hdrLen := GTPHdrMinLen

	if pdcpSN != nil {
		flags |= FlagExtHdr
		hdrLen = GTPHdrMinLen + GTPHdrOptLen + 4 // opt fields + one 4-byte extension

		// length counts everything after the mandatory 8-byte header
		// (spec.md §6), which here is the optional fields, the extension,
		// and the payload.
		length := uint16(GTPHdrOptLen + 4 + len(payload))
		writeBaseHeader(dst, flags, MsgGPDU, length, teidOut)
		be.PutUint16(dst[8:10], 0) // seq unused when only E is set
		dst[10] = 0                // n-pdu
		dst[11] = ExtPDCPPDUNumber // next extension header type

		ext := dst[12:16]
		ext[0] = 0x01 // length, in 4-byte units
		ext[1] = byte(*pdcpSN >> 8)
		ext[2] = byte(*pdcpSN)
		ext[3] = 0x00 // next extension header type: none
	} else {
		writeBaseHeader(dst, flags, MsgGPDU, uint16(len(payload)), teidOut)
	}

	copy(dst[hdrLen:], payload)
	return hdrLen + len(payload)
}

// BuildEchoResponse serializes a 12-byte Echo Response echoing seq.
func BuildEchoResponse(dst []byte, seq uint16) int {
	flags := byte(FlagVersionV1 | FlagGTPProtocol | FlagSeq)
	writeBaseHeader(dst, flags, MsgEchoResponse, 4, 0)
	be.PutUint16(dst[8:10], seq)
	dst[10] = 0
	dst[11] = 0
	return 12
}

// BuildErrorIndication serializes a 12-byte Error Indication naming
// errTEID, with the process-wide monotonic seq.
func BuildErrorIndication(dst []byte, errTEID uint32, seq uint16) int {
	flags := byte(FlagVersionV1 | FlagGTPProtocol | FlagSeq)
	writeBaseHeader(dst, flags, MsgErrorIndication, 4, errTEID)
	be.PutUint16(dst[8:10], seq)
	dst[10] = 0
	dst[11] = 0
	return 12
}

// BuildEndMarker serializes a header-only End Marker addressed to teidOut.
func BuildEndMarker(dst []byte, teidOut uint32) int {
	flags := byte(FlagVersionV1 | FlagGTPProtocol)
	writeBaseHeader(dst, flags, MsgEndMarker, 0, teidOut)
	return GTPHdrMinLen
}
