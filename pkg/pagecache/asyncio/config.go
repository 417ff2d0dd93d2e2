// SPDX-License-Identifier: AGPL-3.0-only

package asyncio

import "flag"

// Config configures a Reader.
type Config struct {
	// QueueSize is the number of submission/completion-queue entries the
	// ring is created with. Must be a power of two.
	QueueSize uint `yaml:"io_ring_queue_size"`

	// PendingQueueCapacity is the initial capacity reserved for the queue of
	// requests buffered between calls to Read and the next time the worker
	// drains it. It is not a limit: the queue is a slice that grows past it
	// on demand. Zero reserves nothing up front.
	PendingQueueCapacity int `yaml:"pending_queue_capacity"`
}

// RegisterFlags registers CLI flags for Config with no prefix.
func (c *Config) RegisterFlags(f *flag.FlagSet) {
	c.RegisterFlagsWithPrefix("", f)
}

// RegisterFlagsWithPrefix registers CLI flags for Config, prefixing every
// flag name with prefix.
func (c *Config) RegisterFlagsWithPrefix(prefix string, f *flag.FlagSet) {
	f.UintVar(&c.QueueSize, prefix+"io-ring-queue-size", 32, "Number of submission/completion queue entries for the async block reader's io_uring instance.")
	f.IntVar(&c.PendingQueueCapacity, prefix+"pending-queue-capacity", 0, "Initial capacity reserved for the async block reader's pending request queue. 0 lets it grow on demand.")
}
