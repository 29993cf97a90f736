package store

import (
	"context"
	"time"

	"github.com/AustinEral/agent-reach/internal/metrics"
)

// Instrumented wraps a KV and records per-operation latency. Scan is left
// unobserved: it runs only at startup and would skew the histogram.
type Instrumented struct {
	KV
}

// Instrument wraps kv with latency instrumentation.
func Instrument(kv KV) *Instrumented {
	return &Instrumented{KV: kv}
}

func (s *Instrumented) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := s.KV.Get(ctx, key)
	metrics.StoreLatency.Observe(time.Since(start).Seconds())
	return value, err
}

func (s *Instrumented) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := s.KV.Put(ctx, key, value)
	metrics.StoreLatency.Observe(time.Since(start).Seconds())
	return err
}

func (s *Instrumented) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.KV.Delete(ctx, key)
	metrics.StoreLatency.Observe(time.Since(start).Seconds())
	return err
}
