/* Copyright (c) 2018-2020 Waldemar Augustyn */

package main

import (
	prng "math/rand"
	"time"
)

// Housekeeping ticker: (a) sweeps pending-queue overflow as a backstop (the
// inline bound in registry.appendPending is the primary enforcement) and
// (b) expires stale golang-lru/v2 rate-limit cache entries, see
// SPEC_FULL.md §14. Jittered-sleep pattern grounded on the teacher's
// timer_tick/sleep.

const (
	HousekeepingTick = 4000 // [ms]
	HousekeepingFuzz = 500  // [ms]
)

func sleepFuzzed(dlyMs, fuzzMs int) {
	if fuzzMs <= 0 {
		time.Sleep(time.Duration(dlyMs) * time.Millisecond)
		return
	}
	time.Sleep(time.Duration(dlyMs-fuzzMs/2+prng.Intn(fuzzMs)) * time.Millisecond)
}

func housekeeping(reg *Registry, s1u *S1U, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}
		sleepFuzzed(HousekeepingTick, HousekeepingFuzz)
		reg.sweepPending()
		s1u.sweepErrDup()
	}
}
