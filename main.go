// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package main

import (
	"flag"
	"fmt"
	"io"
	"io/ioutil"
	"math/rand"
	"os"
	"time"

	"github.com/llir/llvm/asm"
	"github.com/llir/llvm/ir"

	"github.com/bradleyjkemp/neuzz-cover/config"
	"github.com/bradleyjkemp/neuzz-cover/diag"
	"github.com/bradleyjkemp/neuzz-cover/instrument"
)

const version = "1.0"

var (
	flagOut     = flag.String("o", "", "write the instrumented module to this file instead of stdout")
	flagSeed    = flag.Int64("seed", 0, "seed for the instrumentation location draws, 0 uses the current time")
	flagVerbose = flag.Bool("v", false, "print instrumentation statistics")
)

// main reads an LLVM IR module, adds edge coverage and basic-block value
// probes to it and writes the result.
func main() {
	flag.Parse()
	tty := config.StderrIsTerminal()

	cfg, err := config.FromEnv(os.LookupEnv, tty)
	if err != nil {
		c := &Context{rep: diag.New(os.Stderr, true, tty)}
		c.failf("%v", err)
	}
	c := &Context{
		cfg:     cfg,
		rep:     diag.New(os.Stderr, cfg.Quiet, tty),
		seed:    *flagSeed,
		verbose: *flagVerbose,
		stdin:   os.Stdin,
	}
	if flag.NArg() != 1 {
		c.failf("usage: neuzz-cover [flags] input.ll")
	}
	c.rep.Banner("neuzz-cover", version)

	m, stats, err := c.run(flag.Arg(0))
	if err != nil {
		c.failf("%v", err)
	}
	c.summary(stats)

	// Nothing is written unless instrumentation succeeded.
	out := []byte(m.String())
	if *flagOut == "" {
		if _, err := os.Stdout.Write(out); err != nil {
			c.failf("failed to write output: %v", err)
		}
		return
	}
	if err := ioutil.WriteFile(*flagOut, out, 0644); err != nil {
		c.failf("failed to write output: %v", err)
	}
}

// Context holds state for a neuzz-cover run.
type Context struct {
	cfg     *config.Config
	rep     *diag.Reporter
	seed    int64 // 0 means seed from the clock
	verbose bool
	stdin   io.Reader // read when the input is "-"
}

// run parses and instruments the module at path.
func (c *Context) run(path string) (*ir.Module, instrument.Stats, error) {
	m, err := c.parse(path)
	if err != nil {
		return nil, instrument.Stats{}, err
	}
	seed := c.seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	in := instrument.New(c.cfg, rand.New(rand.NewSource(seed)))
	stats, err := in.Module(m)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to instrument %v: %w", path, err)
	}
	return m, stats, nil
}

func (c *Context) parse(path string) (*ir.Module, error) {
	if path != "-" {
		m, err := asm.ParseFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %v: %w", path, err)
		}
		return m, nil
	}
	data, err := ioutil.ReadAll(c.stdin)
	if err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	m, err := asm.ParseBytes("<stdin>", data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse stdin: %w", err)
	}
	return m, nil
}

func (c *Context) summary(stats instrument.Stats) {
	if c.verbose && !c.rep.Quiet() {
		c.rep.OKf("%v functions, %v of %v blocks instrumented (%v switch, %v conditional branch, %v other).",
			stats.Funcs, stats.Instrumented, stats.Blocks, stats.Switches, stats.CondBrs, stats.Other)
		c.rep.OKf("%v comparisons folded, %v of them reach a conditional branch.", stats.Cmps, stats.BranchCmps)
	}
	if stats.Instrumented == 0 {
		c.rep.Warnf("No instrumentation targets found.")
		return
	}
	c.rep.OKf("Instrumented %v locations (%v mode, ratio %v%%).", stats.Instrumented, c.cfg.Mode, c.cfg.Ratio)
}

func (c *Context) failf(str string, args ...interface{}) {
	c.rep.Fatalf(str, args...)
	os.Exit(1)
}
