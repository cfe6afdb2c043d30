/* Copyright (c) 2013-2020 Software Radio Systems Limited (original C++)
 * Go reimplementation */

package main

import "sync"

// NumRadioBearers is the fixed bearer-array arity (SPEC_FULL.md §6, Open
// Question #2): SRB0/SRB1/SRB2 plus up to 8 data radio bearers.
const NumRadioBearers = 11

// MaxPendingPerTunnel bounds the FIFO of packets buffered while a tunnel
// is in the flushing state (SPEC_FULL.md §5, Open Question #3). When the
// bound is hit the oldest buffered packet is dropped: it is the stalest
// and least useful to deliver once the flush finally arrives.
const MaxPendingPerTunnel = 512

// Tunnel is keyed by TeidIn everywhere; no code should hold a *Tunnel
// across a call that can mutate the registry (spec.md §9) — re-lookup by
// TeidIn instead.
type Tunnel struct {
	TeidIn     uint32
	Rnti       uint16
	Lcid       uint8
	PeerAddr   uint32 // IPv4, big-endian value
	TeidOut    uint32
	ForwardTo  uint32 // 0 if unset; names another tunnel's TeidIn
	FlushAfter uint32 // 0 if unset; set on the old tunnel of a path switch,
	// naming the new tunnel. The old tunnel buffers its own arrivals and
	// releases them on receiving its own End Marker (direction is subtle,
	// see original design notes).
	Pending    [][]byte
}

func (t *Tunnel) forwarding() bool { return t.ForwardTo != 0 }
func (t *Tunnel) flushing() bool   { return t.FlushAfter != 0 }

// BearerProps carries the optional handover wiring for Allocate.
type BearerProps struct {
	FlushBeforeTeidIn     uint32
	FlushBeforeTeidInSet  bool
	ForwardFromTeidIn     uint32
	ForwardFromTeidInSet  bool
}

// Registry is the authoritative teid_in -> Tunnel map plus the secondary
// (rnti, lcid) -> ordered [teid_in] index. Both are one relation and are
// mutated together behind this type's methods only (spec.md §9).
type Registry struct {
	mtx         sync.Mutex
	tunnels     map[uint32]*Tunnel
	bearers     map[uint16][NumRadioBearers][]uint32
	nextTeidIn  uint32 // pre-incremented; 0 is reserved (spec.md §3)
	errSeq      uint16
}

func NewRegistry() *Registry {
	return &Registry{
		tunnels: make(map[uint32]*Tunnel),
		bearers: make(map[uint16][NumRadioBearers][]uint32),
	}
}

// allocTeid returns the next TEID, skipping any value currently live in
// the registry. Wrap-around is not expected in a realistic session
// (spec.md §4.1) but is handled rather than ignored.
func (r *Registry) allocTeid() uint32 {
	for {
		r.nextTeidIn++
		if r.nextTeidIn == 0 {
			continue // skip the reserved zero TEID on wrap-around
		}
		if _, live := r.tunnels[r.nextTeidIn]; !live {
			return r.nextTeidIn
		}
	}
}

// Allocate creates a new tunnel for (rnti, lcid) and interprets props per
// spec.md §4.1. Returns the new TeidIn, or 0 on failure (control-plane
// misuse: a forward_from_teidin naming a tunnel that does not exist).
func (r *Registry) Allocate(rnti uint16, lcid uint8, peerAddr, teidOut uint32, props BearerProps) uint32 {

	r.mtx.Lock()
	defer r.mtx.Unlock()

	teidIn := r.allocTeid()
	t := &Tunnel{TeidIn: teidIn, Rnti: rnti, Lcid: lcid, PeerAddr: peerAddr, TeidOut: teidOut}
	r.tunnels[teidIn] = t

	arr := r.bearers[rnti]
	arr[lcid] = append(arr[lcid], teidIn)
	r.bearers[rnti] = arr

	if props.FlushBeforeTeidInSet {
		if after, ok := r.tunnels[props.FlushBeforeTeidIn]; ok {
			after.FlushAfter = teidIn
		} else {
			log.err("registry: flush_before_teidin names unknown tunnel 0x%x", props.FlushBeforeTeidIn)
		}
	}

	if props.ForwardFromTeidInSet {
		from, ok := r.tunnels[props.ForwardFromTeidIn]
		if !ok {
			log.err("registry: forward_from_teidin names unknown tunnel 0x%x, rolling back", props.ForwardFromTeidIn)
			r.removeLocked(teidIn)
			return 0
		}
		from.ForwardTo = teidIn
	}

	log.info("registry: allocate %v peer=%v %v", fmtBearer(rnti, lcid), IPv4String(peerAddr), fmtTunnel(teidIn, teidOut))

	return teidIn
}

// Remove erases a tunnel. If it was forwarding, an End Marker is sent to
// the forwarding target first (spec.md §4.1); the caller supplies the
// sender since Registry has no transport dependency.
func (r *Registry) Remove(teidIn uint32, sendEndMarker func(targetTeidIn uint32)) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.removeWithForward(teidIn, sendEndMarker)
}

func (r *Registry) removeWithForward(teidIn uint32, sendEndMarker func(targetTeidIn uint32)) {
	t, ok := r.tunnels[teidIn]
	if !ok {
		log.err("registry: remove of unknown teid_in=0x%x, ignored", teidIn)
		return
	}
	if t.forwarding() && sendEndMarker != nil {
		sendEndMarker(t.ForwardTo)
		t.ForwardTo = 0
	}
	r.removeLocked(teidIn)
}

// removeLocked erases the record and unlinks it from the bearer index.
// Caller must hold r.mtx.
func (r *Registry) removeLocked(teidIn uint32) {
	t, ok := r.tunnels[teidIn]
	if !ok {
		return
	}
	arr := r.bearers[t.Rnti]
	list := arr[t.Lcid]
	for i, v := range list {
		if v == teidIn {
			arr[t.Lcid] = append(list[:i], list[i+1:]...)
			break
		}
	}
	r.bearers[t.Rnti] = arr
	delete(r.tunnels, teidIn)
	log.debug("registry: removed teid_in=0x%x", teidIn)

	if r.userEmptyLocked(t.Rnti) {
		delete(r.bearers, t.Rnti)
	}
}

func (r *Registry) userEmptyLocked(rnti uint16) bool {
	arr, ok := r.bearers[rnti]
	if !ok {
		return true
	}
	for _, list := range arr {
		if len(list) != 0 {
			return false
		}
	}
	return true
}

// RemoveBearer drops every tunnel of (rnti, lcid), back-to-front so that
// any forwarding cascades fire in reverse insertion order (spec.md §4.1).
func (r *Registry) RemoveBearer(rnti uint16, lcid uint8, sendEndMarker func(targetTeidIn uint32)) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	arr, ok := r.bearers[rnti]
	if !ok {
		log.err("registry: remove_bearer of unknown rnti=0x%x, ignored", rnti)
		return
	}
	list := arr[lcid]
	for len(list) != 0 {
		teidIn := list[len(list)-1]
		r.removeWithForward(teidIn, sendEndMarker)
		list = r.bearers[rnti][lcid]
	}
	log.info("registry: remove_bearer %v", fmtBearer(rnti, lcid))
}

// RemoveUser drops every tunnel of every bearer belonging to rnti.
func (r *Registry) RemoveUser(rnti uint16, sendEndMarker func(targetTeidIn uint32)) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	arr, ok := r.bearers[rnti]
	if !ok {
		return
	}
	for lcid := range arr {
		list := arr[lcid]
		for len(list) != 0 {
			teidIn := list[len(list)-1]
			r.removeWithForward(teidIn, sendEndMarker)
			list = r.bearers[rnti][lcid]
		}
	}
	log.info("registry: remove_user rnti=0x%x", rnti)
}

// Rename moves every tunnel owned by oldRnti to newRnti. Fails silently
// (logged) if newRnti already exists or oldRnti does not (spec.md §4.1).
func (r *Registry) Rename(oldRnti, newRnti uint16) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	if _, exists := r.bearers[newRnti]; exists {
		log.err("registry: rename target rnti=0x%x already exists, aborting", newRnti)
		return false
	}
	arr, ok := r.bearers[oldRnti]
	if !ok {
		log.err("registry: rename source rnti=0x%x does not exist, aborting", oldRnti)
		return false
	}

	r.bearers[newRnti] = arr
	delete(r.bearers, oldRnti)

	for _, list := range arr {
		for _, teidIn := range list {
			r.tunnels[teidIn].Rnti = newRnti
		}
	}

	log.info("registry: rename rnti 0x%x -> 0x%x", oldRnti, newRnti)
	return true
}

// Lookup returns the tunnel for teidIn, or nil if absent. The returned
// pointer must not be retained across any registry mutation.
func (r *Registry) Lookup(teidIn uint32) *Tunnel {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	t, ok := r.tunnels[teidIn]
	if !ok {
		log.err("registry: lookup of unknown teid_in=0x%x", teidIn)
		return nil
	}
	return t
}

// PrimaryTeid returns the position-0 (primary) TeidIn for (rnti, lcid), or
// 0 if the bearer has no tunnels.
func (r *Registry) PrimaryTeid(rnti uint16, lcid uint8) uint32 {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if int(lcid) >= NumRadioBearers {
		return 0
	}
	list := r.bearers[rnti][lcid]
	if len(list) == 0 {
		return 0
	}
	return list[0]
}

// UserExists reports whether rnti owns at least one tunnel.
func (r *Registry) UserExists(rnti uint16) bool {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return !r.userEmptyLocked(rnti)
}

// BearerTeids returns a copy of the ordered TEID list for (rnti, lcid).
func (r *Registry) BearerTeids(rnti uint16, lcid uint8) []uint32 {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if int(lcid) >= NumRadioBearers {
		return nil
	}
	list := r.bearers[rnti][lcid]
	out := make([]uint32, len(list))
	copy(out, list)
	return out
}

// NextErrSeq returns the next monotonic Error Indication sequence number.
func (r *Registry) NextErrSeq() uint16 {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	seq := r.errSeq
	r.errSeq++
	return seq
}

// appendPending appends pkt to t's pending FIFO, enforcing
// MaxPendingPerTunnel with drop-head and a rate-limited warning (the rate
// limiting itself lives in s1u.go, grounded on the golang-lru/v2 cache).
func (r *Registry) appendPending(teidIn uint32, pkt []byte) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	t, ok := r.tunnels[teidIn]
	if !ok {
		return
	}
	t.Pending = append(t.Pending, pkt)
	if len(t.Pending) > MaxPendingPerTunnel {
		log.err("registry: teid_in=0x%x pending overflow, dropping oldest buffered packet", teidIn)
		t.Pending = t.Pending[1:]
	}
}

// drainFlushed clears and returns teidIn's own pending FIFO, provided it
// was flushing (spec.md §8 S5): the tunnel that queued packets releases
// that same queue on receiving its own End Marker. No-op if teidIn is
// absent or was not flushing.
func (r *Registry) drainFlushed(teidIn uint32) [][]byte {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	t, ok := r.tunnels[teidIn]
	if !ok || !t.flushing() {
		return nil
	}
	drained := t.Pending
	t.Pending = nil
	t.FlushAfter = 0
	return drained
}

// sweepPending is called by the housekeeping ticker (timer.go) to enforce
// MaxPendingPerTunnel as a backstop in case appendPending's inline check
// somehow falls behind (e.g. after a bulk config change raising pressure).
func (r *Registry) sweepPending() {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	for _, t := range r.tunnels {
		if len(t.Pending) > MaxPendingPerTunnel {
			excess := len(t.Pending) - MaxPendingPerTunnel
			log.err("registry: housekeeping trim teid_in=0x%x, dropping %v stale pending packets", t.TeidIn, excess)
			t.Pending = t.Pending[excess:]
		}
	}
}
