// Copyright 2015 go-fuzz project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package diag prints AFL-style diagnostics for human operators.
package diag

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Reporter writes diagnostics to w. A quiet Reporter only prints fatal errors.
type Reporter struct {
	w     io.Writer
	quiet bool

	cyan   *color.Color
	bright *color.Color
	ok     *color.Color
	warn   *color.Color
	fatal  *color.Color
}

func New(w io.Writer, quiet, colored bool) *Reporter {
	r := &Reporter{
		w:      w,
		quiet:  quiet,
		cyan:   color.New(color.FgCyan),
		bright: color.New(color.Bold),
		ok:     color.New(color.FgGreen, color.Bold),
		warn:   color.New(color.FgYellow, color.Bold),
		fatal:  color.New(color.FgRed, color.Bold),
	}
	for _, c := range []*color.Color{r.cyan, r.bright, r.ok, r.warn, r.fatal} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

func (r *Reporter) Quiet() bool {
	return r.quiet
}

func (r *Reporter) Banner(tool, version string) {
	if r.quiet {
		return
	}
	fmt.Fprintf(r.w, "%s %s by <bradleyjkemp>\n", r.cyan.Sprint(tool), r.bright.Sprint(version))
}

func (r *Reporter) OKf(msg string, args ...interface{}) {
	if r.quiet {
		return
	}
	fmt.Fprintf(r.w, "%s "+msg+"\n", append([]interface{}{r.ok.Sprint("[+]")}, args...)...)
}

func (r *Reporter) Warnf(msg string, args ...interface{}) {
	if r.quiet {
		return
	}
	fmt.Fprintf(r.w, "%s "+msg+"\n", append([]interface{}{r.warn.Sprint("[!] WARNING:")}, args...)...)
}

// Fatalf prints msg even in quiet mode. Exiting is left to the caller.
func (r *Reporter) Fatalf(msg string, args ...interface{}) {
	fmt.Fprintf(r.w, "%s "+msg+"\n", append([]interface{}{r.fatal.Sprint("[-] PROGRAM ABORT :")}, args...)...)
}
