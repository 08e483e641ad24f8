package fsd

import (
	"log/slog"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/fsd/schema"
)

// DefaultFooterConcurrency bounds parallel sub-index footer reads in a MultiIndex.
const DefaultFooterConcurrency = 4

// Option configures a loader.
type Option func(*config)

type config struct {
	logger            *slog.Logger
	offset            int64
	maxSchemaSize     uint64
	schemaDigest      digest.Digest
	footerConcurrency int
}

func newConfig(opts []Option) *config {
	c := &config{
		maxSchemaSize:     schema.DefaultMaxSchemaSize,
		footerConcurrency: DefaultFooterConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// log returns the logger, falling back to a discard logger if nil.
func (c *config) log() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// WithLogger sets the logger for load and lookup diagnostics.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithOffset sets the position of the container inside the file.
// Only LoadIndexFromFile honors it.
func WithOffset(off int64) Option {
	return func(c *config) {
		c.offset = off
	}
}

// WithMaxSchemaSize limits the decompressed size of embedded schema blobs.
// Set limit to 0 to disable the limit.
func WithMaxSchemaSize(limit uint64) Option {
	return func(c *config) {
		c.maxSchemaSize = limit
	}
}

// WithSchemaDigest requires embedded schemas to have the given digest.
// A different schema fails with ErrSchemaMismatch.
func WithSchemaDigest(d digest.Digest) Option {
	return func(c *config) {
		c.schemaDigest = d
	}
}

// WithFooterConcurrency sets how many sub-index footers a MultiIndex reads in parallel.
// Values < 1 read them serially.
func WithFooterConcurrency(n int) Option {
	return func(c *config) {
		c.footerConcurrency = n
	}
}
