// Package config loads the engine's recognized options from the
// environment, with typed defaults scaled to host RAM via pkg/hostres.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/chanzuckerberg/s3mi/pkg/hostres"
)

// Environment variable names (single source of truth).
const (
	EnvSegmentSize   = "S3MI_SEGMENT_SIZE"
	EnvConcurrency   = "S3MI_CONCURRENCY"
	EnvMemoryCap     = "S3MI_MEMORY_CAP"
	EnvFetchTimeout  = "S3MI_FETCH_TIMEOUT_SECONDS"
	EnvRefreshMargin = "S3MI_CREDENTIAL_REFRESH_MARGIN_SECONDS"
	EnvQuiet         = "S3MI_QUIET"
	EnvRegion        = "S3MI_REGION"
	EnvEndpoint      = "S3MI_ENDPOINT"
)

// Options holds the recognized configuration (segment size, concurrency
// cap, memory cap, per-fetch timeout, credential refresh margin, quiet).
type Options struct {
	SegmentSize    int64
	ConcurrencyCap int
	MemoryCap      int
	FetchTimeout   time.Duration
	RefreshMargin  time.Duration
	Quiet          bool
	Region         string
	Endpoint       string
}

// Defaults returns the built-in defaults, with concurrency/memory caps
// scaled to the detected host RAM.
func Defaults() Options {
	tier := hostres.Defaults()
	return Options{
		SegmentSize:    hostres.DefaultSegmentSize,
		ConcurrencyCap: tier.ConcurrencyCap,
		MemoryCap:      tier.MemoryCapSegments,
		FetchTimeout:   120 * time.Second,
		RefreshMargin:  5 * time.Minute,
		Quiet:          false,
		Region:         "us-east-1",
		Endpoint:       "https://s3.amazonaws.com",
	}
}

// Load returns Defaults() overridden by any recognized environment
// variables. Callers (e.g. cmd/s3mi) layer flag overrides on top.
func Load() (Options, error) {
	opts := Defaults()

	if v := os.Getenv(EnvSegmentSize); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return Options{}, fmt.Errorf("invalid %s: %q", EnvSegmentSize, v)
		}
		opts.SegmentSize = n
	}
	if v := os.Getenv(EnvConcurrency); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Options{}, fmt.Errorf("invalid %s: %q", EnvConcurrency, v)
		}
		opts.ConcurrencyCap = n
	}
	if v := os.Getenv(EnvMemoryCap); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Options{}, fmt.Errorf("invalid %s: %q", EnvMemoryCap, v)
		}
		opts.MemoryCap = n
	}
	if v := os.Getenv(EnvFetchTimeout); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Options{}, fmt.Errorf("invalid %s: %q", EnvFetchTimeout, v)
		}
		opts.FetchTimeout = time.Duration(n) * time.Second
	}
	if v := os.Getenv(EnvRefreshMargin); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Options{}, fmt.Errorf("invalid %s: %q", EnvRefreshMargin, v)
		}
		opts.RefreshMargin = time.Duration(n) * time.Second
	}
	if v := os.Getenv(EnvQuiet); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Options{}, fmt.Errorf("invalid %s: %q", EnvQuiet, v)
		}
		opts.Quiet = b
	}
	if v := os.Getenv(EnvRegion); v != "" {
		opts.Region = v
	}
	if v := os.Getenv(EnvEndpoint); v != "" {
		opts.Endpoint = v
	}

	return opts, nil
}
