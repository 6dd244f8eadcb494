// Package debug holds environment switches for verbose tracing.
package debug

import (
	"os"
	"strconv"
)

type debug struct {
	Wire   bool
	Tokens bool
	Crawl  bool
}

var d *debug

func init() {
	d = &debug{}
	d.Wire = boolEnv("RAEDIT_DEBUG_WIRE")
	d.Tokens = boolEnv("RAEDIT_DEBUG_TOKENS")
	d.Crawl = boolEnv("RAEDIT_DEBUG_CRAWL")
}

func boolEnv(v string) bool {
	x := os.Getenv(v)
	if x == "" {
		return false
	}
	b, _ := strconv.ParseBool(x)
	return b
}

// Wire reports whether every command read or written is logged.
func Wire() bool {
	return d.Wire
}

// Tokens reports whether token table changes are logged.
func Tokens() bool {
	return d.Tokens
}

// Crawl reports whether the revision crawler logs each entry it visits.
func Crawl() bool {
	return d.Crawl
}
