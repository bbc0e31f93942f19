package rpcmux

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nullchannel/rpcmux/internal/metrics"
)

// defaultSubmissionCapacity is deliberately modest: this queue blocks
// producers under backpressure rather than dropping frames, so a large
// default would just hide a slow transport behind a deep buffer.
const defaultSubmissionCapacity = 256

// Options configures a Multiplexer at construction time.
type Options struct {
	// RequestTimeout is the per-request deadline, measured from Send's
	// entry. Must be strictly positive.
	RequestTimeout time.Duration

	// SubmissionCapacity bounds the submission queue. Must be >= 0; zero
	// selects a default of 256.
	SubmissionCapacity int

	// Logger receives structured diagnostics (late-response discards,
	// bulkhead-absorbed write failures, channel-fatal read failures).
	// Defaults to a no-op logger.
	Logger *zap.Logger

	// Metrics receives submission-queue depth, pending-table size, and
	// per-outcome counters. Defaults to a no-op registry.
	Metrics *metrics.Registry
}

func (o Options) withDefaults() Options {
	if o.SubmissionCapacity == 0 {
		o.SubmissionCapacity = defaultSubmissionCapacity
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Metrics == nil {
		o.Metrics = metrics.NewNop()
	}
	return o
}

func (o Options) validate() error {
	if o.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be strictly positive: %w", ErrInvalidArgument)
	}
	if o.SubmissionCapacity < 0 {
		return fmt.Errorf("submission capacity must be >= 0 (0 selects the default): %w", ErrInvalidArgument)
	}
	return nil
}
