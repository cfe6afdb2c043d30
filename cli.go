/* Copyright (c) 2018-2021 Waldemar Augustyn */

package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// cli mirrors spec.md §6's "three strings and a boolean", plus the ambient
// fields (debug/trace/log level/buffer sizing) every long-running daemon
// in this codebase carries regardless of what its own Non-goals exclude.
var cli struct { // set once at startup, then read-only except via reload()
	s1uBind     string
	mmeAddr     string
	m1uGroup    string
	m1uIface    string
	mbsfnEnable bool

	debuglist string
	trace     bool
	stamps    bool
	maxbuf    int
	confPath  string

	// derived
	debug     map[string]bool
	mmeAddrIP uint32
	pktbuflen int
	log_level uint
}

func parse_cli() {

	flag.StringVar(&cli.s1uBind, "s1u-bind", "0.0.0.0", "local IPv4 address to bind the S1-U socket to")
	flag.StringVar(&cli.mmeAddr, "mme-addr", "", "MME IPv4 address, retained only for logging")
	flag.StringVar(&cli.m1uGroup, "m1u-group", "239.255.0.1", "M1-U multicast group address")
	flag.StringVar(&cli.m1uIface, "m1u-iface", "", "IPv4 address of the interface M1-U listens on")
	flag.BoolVar(&cli.mbsfnEnable, "mbsfn", false, "enable the M1-U MBSFN endpoint")

	flag.StringVar(&cli.debuglist, "debug", "", "enable debug in listed files, comma separated")
	flag.BoolVar(&cli.trace, "trace", false, "enable packet trace")
	flag.BoolVar(&cli.stamps, "time-stamps", false, "print logs with time stamps")
	flag.IntVar(&cli.maxbuf, "max-buffers", 256, "max number of packet buffers")
	flag.StringVar(&cli.confPath, "conf", "", "directory to watch for hot-reloadable settings (debug/trace)")

	flag.Usage = func() {
		toks := strings.Split(os.Args[0], "/")
		prog := toks[len(toks)-1]
		fmt.Println("GTP-U user-plane endpoint for an LTE eNB (S1-U/M1-U).")
		fmt.Println("")
		fmt.Println("   ", prog, "[FLAGS]")
		fmt.Println("")
		flag.PrintDefaults()
	}
	flag.Parse()

	cli.debug = parseDebugList(cli.debuglist)

	if cli.trace {
		cli.log_level = TRACE
	} else {
		cli.log_level = INFO
	}
	log.set(cli.log_level, cli.stamps)

	if cli.mmeAddr != "" {
		addr, err := ParseIPv4(cli.mmeAddr)
		if err != nil {
			log.fatal("invalid mme address: %v", cli.mmeAddr)
		}
		cli.mmeAddrIP = addr
	}

	if _, err := ParseIPv4(cli.s1uBind); err != nil {
		log.fatal("invalid s1u-bind address: %v", cli.s1uBind)
	}

	if cli.mbsfnEnable {
		if _, err := ParseIPv4(cli.m1uGroup); err != nil {
			log.fatal("invalid m1u-group address: %v", cli.m1uGroup)
		}
		if _, err := ParseIPv4(cli.m1uIface); err != nil {
			log.fatal("invalid m1u-iface address: %v (required when -mbsfn is set)", cli.m1uIface)
		}
	}

	cli.pktbuflen = 65536 // a single UDP datagram never exceeds this

	if cli.maxbuf < 16 {
		cli.maxbuf = 16
	}
	if cli.maxbuf > 4096 {
		cli.maxbuf = 4096
	}
}

func parseDebugList(debuglist string) map[string]bool {

	debug := make(map[string]bool)
	for _, fname := range strings.Split(debuglist, ",") {
		if len(fname) == 0 {
			continue
		}
		bix := 0
		eix := len(fname)
		if ix := strings.LastIndex(fname, "/"); ix >= 0 {
			bix = ix + 1
		}
		if ix := strings.LastIndex(fname, "."); ix >= 0 {
			eix = ix
		}
		debug[fname[bix:eix]] = true
	}
	return debug
}

// watchConf hot-reloads cli.debug/cli.trace from a "debug.conf" file in
// cli.confPath: one comma-separated debuglist line, optionally followed
// by "trace" on its own line. Modeled on the teacher's dns.go debounced
// fsnotify watch loop, applied to this daemon's own config instead of a
// hosts file.
func watchConf(done <-chan struct{}) {

	if cli.confPath == "" {
		return
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.err("cli: cannot start config watcher: %v", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(cli.confPath); err != nil {
		log.err("cli: cannot watch %v: %v", cli.confPath, err)
		return
	}

	confFile := filepath.Join(cli.confPath, "debug.conf")

	for {
		select {
		case <-done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Name != confFile {
				continue
			}
			reloadConf(confFile)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.err("cli: config watcher error: %v", err)
		}
	}
}

func reloadConf(path string) {

	data, err := os.ReadFile(path)
	if err != nil {
		log.err("cli: cannot read %v: %v", path, err)
		return
	}

	lines := strings.Split(string(data), "\n")
	debuglist := ""
	trace := false
	if len(lines) > 0 {
		debuglist = strings.TrimSpace(lines[0])
	}
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "trace" {
			trace = true
		}
	}

	cli.debug = parseDebugList(debuglist)
	cli.trace = trace
	if trace {
		log.set(TRACE, cli.stamps)
	} else {
		log.set(INFO, cli.stamps)
	}
	log.info("cli: reloaded config from %v", path)
}
