// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package config reads the instrumentation settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
)

const (
	EnvRatio   = "AFL_INST_RATIO"
	EnvQuiet   = "AFL_QUIET"
	EnvHarden  = "AFL_HARDEN"
	EnvUseASAN = "AFL_USE_ASAN"
	EnvUseMSAN = "AFL_USE_MSAN"

	DefaultRatio = 100
)

// Config holds settings that are read once before instrumenting.
type Config struct {
	// Ratio is the percentage of basic blocks that receive probes, 1..100.
	Ratio int
	// Quiet suppresses the banner and the summary.
	Quiet bool
	// Mode is the hardening mode reported in the summary.
	Mode string
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// FromEnv builds a Config from environment variables.
// stderrTTY tells whether diagnostics go to a terminal; output is quiet otherwise.
func FromEnv(lookup LookupFunc, stderrTTY bool) (*Config, error) {
	cfg := &Config{
		Ratio: DefaultRatio,
		Quiet: !stderrTTY,
		Mode:  "non-hardened",
	}
	if _, ok := lookup(EnvQuiet); ok {
		cfg.Quiet = true
	}
	if s, ok := lookup(EnvRatio); ok {
		ratio, err := ParseRatio(s)
		if err != nil {
			return nil, err
		}
		cfg.Ratio = ratio
	}
	_, harden := lookup(EnvHarden)
	_, asan := lookup(EnvUseASAN)
	_, msan := lookup(EnvUseMSAN)
	switch {
	case harden:
		cfg.Mode = "hardened"
	case asan || msan:
		cfg.Mode = "ASAN/MSAN"
	}
	return cfg, nil
}

// StderrIsTerminal reports whether os.Stderr is a terminal, the stderrTTY argument of FromEnv.
func StderrIsTerminal() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ParseRatio parses an instrumentation ratio. Values outside 1..100 are rejected, not clamped.
func ParseRatio(s string) (int, error) {
	ratio, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || ratio < 1 || ratio > 100 {
		return 0, fmt.Errorf("Bad value of %v (must be between 1 and 100)", EnvRatio)
	}
	return ratio, nil
}
