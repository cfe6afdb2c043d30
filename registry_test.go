/* Copyright (c) 2013-2020 Software Radio Systems Limited (original C++)
 * Go reimplementation */

package main

import "testing"

func noEndMarker(uint32) {}

func TestAllocateBasic(t *testing.T) {
	reg := NewRegistry()

	teidIn := reg.Allocate(0x1234, 3, 0x0A000001, 0xAA, BearerProps{})
	if teidIn != 1 {
		t.Fatalf("expected teid_in=1, got %v", teidIn)
	}

	tun := reg.Lookup(teidIn)
	if tun == nil {
		t.Fatal("lookup failed for freshly allocated tunnel")
	}
	if tun.Rnti != 0x1234 || tun.Lcid != 3 || tun.TeidOut != 0xAA {
		t.Fatalf("unexpected tunnel contents: %+v", tun)
	}
	if reg.PrimaryTeid(0x1234, 3) != teidIn {
		t.Fatalf("primary teid mismatch")
	}
}

func TestAllocateForwardFromUnknownRollsBack(t *testing.T) {
	reg := NewRegistry()

	teidIn := reg.Allocate(5, 3, 0x01020304, 0xBB, BearerProps{
		ForwardFromTeidIn: 0x999, ForwardFromTeidInSet: true,
	})
	if teidIn != 0 {
		t.Fatalf("expected rollback (teid_in=0), got %v", teidIn)
	}
	if reg.UserExists(5) {
		t.Fatal("rolled-back allocation should not leave a user behind")
	}
}

func TestForwardFromWiresForwardTo(t *testing.T) {
	reg := NewRegistry()

	t1 := reg.Allocate(5, 3, 0x01, 0x10, BearerProps{})
	t2 := reg.Allocate(5, 3, 0x02, 0x20, BearerProps{
		ForwardFromTeidIn: t1, ForwardFromTeidInSet: true,
	})
	if t2 == 0 {
		t.Fatal("expected successful allocation")
	}
	tun1 := reg.Lookup(t1)
	if tun1.ForwardTo != t2 {
		t.Fatalf("expected tunnel %v to forward to %v, got %v", t1, t2, tun1.ForwardTo)
	}
}

func TestFlushBeforeWiresFlushAfter(t *testing.T) {
	reg := NewRegistry()

	tOld := reg.Allocate(5, 3, 0x01, 0x10, BearerProps{})
	tNew := reg.Allocate(5, 3, 0x02, 0x20, BearerProps{
		FlushBeforeTeidIn: tOld, FlushBeforeTeidInSet: true,
	})
	tunOld := reg.Lookup(tOld)
	if tunOld.FlushAfter != tNew {
		t.Fatalf("expected tunnel %v to flush_after %v, got %v", tOld, tNew, tunOld.FlushAfter)
	}
}

func TestRemoveIdempotent(t *testing.T) {
	reg := NewRegistry()
	teidIn := reg.Allocate(1, 0, 0x01, 0x01, BearerProps{})

	reg.Remove(teidIn, noEndMarker)
	if reg.Lookup(teidIn) != nil {
		t.Fatal("tunnel should be gone after remove")
	}
	reg.Remove(teidIn, noEndMarker) // must not panic, must stay a no-op
	if reg.UserExists(1) {
		t.Fatal("user should be gone after its only tunnel is removed")
	}
}

func TestRemoveBearerCascadesForwarding(t *testing.T) {
	reg := NewRegistry()

	base := reg.Allocate(5, 3, 0x01, 0x10, BearerProps{})
	fwd := reg.Allocate(5, 3, 0x02, 0x20, BearerProps{
		ForwardFromTeidIn: base, ForwardFromTeidInSet: true,
	})

	var markedTo []uint32
	reg.RemoveBearer(5, 3, func(target uint32) { markedTo = append(markedTo, target) })

	if reg.UserExists(5) {
		t.Fatal("user should be gone after remove_bearer drains all its tunnels")
	}
	_ = fwd
	if len(markedTo) == 0 {
		t.Fatal("expected an end marker to be sent for the forwarding tunnel")
	}
}

func TestRenameMovesAllTunnels(t *testing.T) {
	reg := NewRegistry()

	reg.Allocate(0x100, 0, 0x01, 0x01, BearerProps{})
	reg.Allocate(0x100, 1, 0x02, 0x02, BearerProps{})

	if !reg.Rename(0x100, 0x200) {
		t.Fatal("rename should succeed")
	}
	if reg.UserExists(0x100) {
		t.Fatal("old rnti should no longer exist")
	}
	for _, lcid := range []uint8{0, 1} {
		list := reg.BearerTeids(0x200, lcid)
		if len(list) != 1 {
			t.Fatalf("expected one tunnel under new rnti for lcid=%v, got %v", lcid, list)
		}
		if reg.Lookup(list[0]).Rnti != 0x200 {
			t.Fatalf("tunnel rnti not rewritten")
		}
	}
}

func TestRenameConflict(t *testing.T) {
	reg := NewRegistry()
	reg.Allocate(1, 0, 0x01, 0x01, BearerProps{})
	reg.Allocate(2, 0, 0x02, 0x02, BearerProps{})

	if reg.Rename(1, 2) {
		t.Fatal("rename should fail when new rnti already exists")
	}
	if !reg.UserExists(1) {
		t.Fatal("state should be unchanged after a failed rename")
	}
}

func TestNextTeidInMonotonic(t *testing.T) {
	reg := NewRegistry()
	prev := reg.Allocate(1, 0, 0, 0, BearerProps{})
	for i := 0; i < 10; i++ {
		next := reg.Allocate(uint16(i+2), 0, 0, 0, BearerProps{})
		if next <= prev {
			t.Fatalf("teid_in did not strictly increase: %v -> %v", prev, next)
		}
		prev = next
	}
}

func TestPendingBoundDropsOldest(t *testing.T) {
	reg := NewRegistry()
	teidIn := reg.Allocate(1, 0, 0x01, 0x01, BearerProps{})

	for i := 0; i < MaxPendingPerTunnel+10; i++ {
		reg.appendPending(teidIn, []byte{byte(i)})
	}
	tun := reg.Lookup(teidIn)
	if len(tun.Pending) != MaxPendingPerTunnel {
		t.Fatalf("expected pending to be bounded at %v, got %v", MaxPendingPerTunnel, len(tun.Pending))
	}
	if tun.Pending[0][0] != 10 {
		t.Fatalf("expected drop-head eviction, oldest surviving entry should be index 10, got %v", tun.Pending[0][0])
	}
}
