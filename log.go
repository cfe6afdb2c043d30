/* Copyright (c) 2018-2020 Waldemar Augustyn */

package main

import (
	"fmt"
	golog "log"
	"os"
	"runtime"
	"strings"
)

const (
	TRACE = iota
	DEBUG
	INFO
	ERROR
	FATAL
	NONE
)

type Log struct {
	level uint
}

var log = Log{INFO}

func (l *Log) set(level uint, stamps bool) {

	l.level = level

	if stamps {
		golog.SetFlags(golog.Ltime | golog.Lmicroseconds)
	} else {
		golog.SetFlags(0)
	}
}

func (l *Log) fatal(msg string, params ...interface{}) {

	golog.Printf("F "+msg, params...)
	select {
	case goexit <- "fatal":
		select {}
	default: // if goexit not ready, just exit
		os.Exit(1)
	}
}

func (l *Log) err(msg string, params ...interface{}) {

	if l.level <= ERROR {
		golog.Printf("E "+msg, params...)
	}
}

func (l *Log) info(msg string, params ...interface{}) {

	if l.level <= INFO {
		golog.Printf("I "+msg, params...)
	}
}

func (l *Log) debug(msg string, params ...interface{}) {

	if len(cli.debug) == 0 {
		return
	}

	_, fname, line, ok := runtime.Caller(1)
	if !ok {
		return
	}

	bix := 0
	eix := len(fname)
	if ix := strings.LastIndex(fname, "/"); ix >= 0 {
		bix = ix + 1
	}
	if ix := strings.LastIndex(fname, "."); ix >= 0 {
		eix = ix
	}

	if cli.debug[fname[bix:eix]] || cli.debug["all"] {
		msg = fmt.Sprintf("%v(%v): ", fname[bix:], line) + msg
		golog.Printf("D "+msg, params...)
	}
}

func (l *Log) trace(msg string, params ...interface{}) {

	if l.level <= TRACE {
		golog.Printf("T "+msg, params...)
	}
}

// fmtBearer renders a radio bearer identity the same way at every log call
// site that names one (spec.md §10: rnti/lcid appear together at every
// deliver/buffer/forward point), instead of each site choosing its own
// %x/%v layout.
func fmtBearer(rnti uint16, lcid uint8) string {
	return fmt.Sprintf("rnti=0x%x lcid=%v", rnti, lcid)
}

// fmtTunnel renders a tunnel's teid_in/teid_out pair the same way at every
// log call site that names both halves of a tunnel (spec.md §10).
func fmtTunnel(teidIn, teidOut uint32) string {
	return fmt.Sprintf("teid_in=0x%x teid_out=0x%x", teidIn, teidOut)
}
