// SPDX-License-Identifier: AGPL-3.0-only

package pager

import (
	"flag"

	"github.com/coldstore/pagecache/pkg/pagecache/asyncio"
)

// Config configures a Pager.
type Config struct {
	// RotateEveryNRequests is how many get_page/try_page calls pass before
	// the current access generation advances. The core algorithm only
	// requires that rotation advance monotonically mod
	// NumberOfAccessGenerations; this picks a request-count-based policy
	// over a time-based one so tests are deterministic.
	RotateEveryNRequests uint64 `yaml:"rotate_every_n_requests"`

	AsyncIO asyncio.Config `yaml:"async_io"`
}

// RegisterFlags registers CLI flags for Config with no prefix.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	c.RegisterFlagsWithPrefix("", f)
}

// RegisterFlagsWithPrefix registers CLI flags for Config, prefixing every
// flag name with prefix.
func (c *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.Uint64Var(&c.RotateEveryNRequests, prefix+"rotate-every-n-requests", 4096, "Number of get_page/try_page calls between access-generation rotations.")
	c.AsyncIO.RegisterFlagsWithPrefix(prefix+"async-io.", f)
}
