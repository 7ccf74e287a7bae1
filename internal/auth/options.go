// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tenantkit Contributors

package auth

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tenantkit/tenantkit/internal/auth"

// Recorder receives authentication metrics. observability.Metrics implements it.
type Recorder interface {
	// LoginAttempt counts a login by result ("success", "invalid", "locked", "error").
	LoginAttempt(result string)

	// PasswordReset counts a reset-flow stage ("requested", "unknown_email", "completed", "rejected").
	PasswordReset(stage string)

	// EmailFailure counts a failed email delivery.
	EmailFailure()
}

type nopRecorder struct{}

func (nopRecorder) LoginAttempt(string)  {}
func (nopRecorder) PasswordReset(string) {}
func (nopRecorder) EmailFailure()        {}

// Option configures a service.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	recorder Recorder
	tracer   trace.Tracer
	now      func() time.Time
}

func newOptions(opts []Option) options {
	o := options{
		logger:   slog.Default(),
		recorder: nopRecorder{},
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder. Nil keeps the no-op recorder.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		if r != nil {
			o.recorder = r
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
