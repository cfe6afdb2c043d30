/* Copyright (c) 2013-2020 Software Radio Systems Limited (original C++)
 * Go reimplementation */

package main

import (
	"bytes"
	"testing"
)

func TestBuildParseGPDURoundTrip(t *testing.T) {
	payload := []byte{0x45, 0x00, 0x00, 0x14, 0, 0, 0, 0, 64, 17, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}
	dst := make([]byte, 128)
	n := BuildGPDU(dst, 0xAA, payload, nil)

	hdr, err := ParseHeader(dst[:n])
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if hdr.MsgType != MsgGPDU || hdr.TEID != 0xAA {
		t.Fatalf("unexpected header: %+v", hdr)
	}
	if !bytes.Equal(hdr.Payload, payload) {
		t.Fatalf("payload mismatch: got %v want %v", hdr.Payload, payload)
	}
	if hdr.PDCPSN != nil {
		t.Fatal("did not expect a PDCP SN")
	}
}

func TestBuildParseGPDUWithPDCPExtension(t *testing.T) {
	payload := []byte{0x45, 0x00, 0x00, 0x08, 1, 2, 3, 4}
	sn := uint16(0x1234)
	dst := make([]byte, 128)
	n := BuildGPDU(dst, 0xBB, payload, &sn)

	// scenario S1-like byte check: flags carry the extension bit.
	if dst[0] != FlagVersionV1|FlagGTPProtocol|FlagExtHdr {
		t.Fatalf("unexpected flags byte: 0x%02x", dst[0])
	}

	// length must count the optional fields and the extension too, not
	// just the payload, or a real GTP-U peer trusting the field misframes
	// the datagram.
	wantLen := uint16(GTPHdrOptLen + 4 + len(payload))
	if got := be.Uint16(dst[2:4]); got != wantLen {
		t.Fatalf("length field = %v, want %v", got, wantLen)
	}

	hdr, err := ParseHeader(dst[:n])
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if hdr.PDCPSN == nil {
		t.Fatal("expected a PDCP SN")
	}
	if *hdr.PDCPSN != sn {
		t.Fatalf("sn mismatch: got 0x%04x want 0x%04x", *hdr.PDCPSN, sn)
	}
	if !bytes.Equal(hdr.Payload, payload) {
		t.Fatalf("payload mismatch with extension present: got %v want %v", hdr.Payload, payload)
	}
}

func TestEchoResponseWireFormat(t *testing.T) {
	// S3 scenario: request 0x32 01 00 04 00 00 00 00 00 2A 00 00, response
	// flips message type 0x01 -> 0x02 and echoes seq=42.
	dst := make([]byte, 12)
	n := BuildEchoResponse(dst, 42)
	want := []byte{0x32, 0x02, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x2A, 0x00, 0x00}
	if n != 12 || !bytes.Equal(dst, want) {
		t.Fatalf("got %x want %x", dst[:n], want)
	}
}

func TestEchoRequestParses(t *testing.T) {
	req := []byte{0x32, 0x01, 0x00, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0x2A, 0x00, 0x00}
	hdr, err := ParseHeader(req)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if hdr.MsgType != MsgEchoRequest || hdr.Seq != 42 {
		t.Fatalf("unexpected header: %+v", hdr)
	}
}

func TestBuildGPDUBasicWireFormat(t *testing.T) {
	// S1 scenario: first 8 bytes 0x30 FF <len_be> 00 00 00 AA
	payload := make([]byte, 20)
	dst := make([]byte, 64)
	n := BuildGPDU(dst, 0xAA, payload, nil)
	if dst[0] != 0x30 || dst[1] != 0xFF {
		t.Fatalf("unexpected flags/msgtype: %x %x", dst[0], dst[1])
	}
	if be.Uint16(dst[2:4]) != uint16(len(payload)) {
		t.Fatalf("unexpected length field")
	}
	if be.Uint32(dst[4:8]) != 0xAA {
		t.Fatalf("unexpected teid field")
	}
	_ = n
}

func TestErrorIndicationWireFormat(t *testing.T) {
	dst := make([]byte, 12)
	n := BuildErrorIndication(dst, 0xDEAD, 7)
	hdr, err := ParseHeader(dst[:n])
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if hdr.MsgType != MsgErrorIndication || hdr.TEID != 0xDEAD || hdr.Seq != 7 {
		t.Fatalf("unexpected header: %+v", hdr)
	}
}

func TestEndMarkerWireFormat(t *testing.T) {
	dst := make([]byte, 8)
	n := BuildEndMarker(dst, 0x55)
	hdr, err := ParseHeader(dst[:n])
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if hdr.MsgType != MsgEndMarker || hdr.TEID != 0x55 {
		t.Fatalf("unexpected header: %+v", hdr)
	}
}

func TestParseHeaderRejectsShort(t *testing.T) {
	_, err := ParseHeader([]byte{0x30, 0xFF, 0, 0})
	if err == nil {
		t.Fatal("expected an error for a short header")
	}
}

func TestParseHeaderRejectsBadVersion(t *testing.T) {
	pkt := make([]byte, 8)
	pkt[0] = 0x10 // PT set but version bits wrong
	pkt[1] = MsgGPDU
	_, err := ParseHeader(pkt)
	if err == nil {
		t.Fatal("expected an error for a bad version")
	}
}
