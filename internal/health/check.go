package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds each probe when no timeout is configured.
const DefaultTimeout = 5 * time.Second

// CheckStatus represents the result of a single probe.
type CheckStatus int

const (
	// StatusPass indicates the dependency is usable.
	StatusPass CheckStatus = iota
	// StatusWarn indicates a usable but degraded dependency.
	StatusWarn
	// StatusFail indicates the dependency is not usable.
	StatusFail
)

// String returns the string representation of a CheckStatus.
func (s CheckStatus) String() string {
	switch s {
	case StatusPass:
		return "PASS"
	case StatusWarn:
		return "WARN"
	case StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the status as its lower-case name.
func (s CheckStatus) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(s.String())), nil
}

// CheckResult holds the result of one probe.
type CheckResult struct {
	Name     string        `json:"name"`
	OK       bool          `json:"ok"`
	Status   CheckStatus   `json:"status"`
	Message  string        `json:"message,omitempty"`
	Error    string        `json:"error,omitempty"`
	Latency  time.Duration `json:"latency"`
	Required bool          `json:"required"`
}

// IsCritical returns true if this is a required check that failed.
func (r CheckResult) IsCritical() bool {
	return r.Required && r.Status == StatusFail
}

// Overall status values of a Report.
const (
	Healthy   = "healthy"
	Degraded  = "degraded"
	Unhealthy = "unhealthy"
)

// Report is the outcome of one health run.
type Report struct {
	Status    string        `json:"status"`
	Checks    []CheckResult `json:"checks"`
	CheckedAt time.Time     `json:"checked_at"`
	Duration  time.Duration `json:"duration"`
}

// Healthy reports whether no required probe failed.
func (r *Report) Healthy() bool {
	return r.Status != Unhealthy
}

// Check returns the named result.
func (r *Report) Check(name string) (CheckResult, bool) {
	for _, c := range r.Checks {
		if c.Name == name {
			return c, true
		}
	}
	return CheckResult{}, false
}

// ProbeFunc checks one dependency and returns a short description on
// success. Returning an error wrapped with AsWarning reports a warning
// instead of a failure.
type ProbeFunc func(ctx context.Context) (string, error)

// Probe is one named dependency check.
type Probe struct {
	Name     string
	Required bool
	Check    ProbeFunc
}

type degradedError struct{ err error }

func (e *degradedError) Error() string { return e.err.Error() }
func (e *degradedError) Unwrap() error { return e.err }

// AsWarning marks err as a warning rather than a failure.
func AsWarning(err error) error {
	if err == nil {
		return nil
	}
	return &degradedError{err: err}
}

// Monitor runs probes.
type Monitor struct {
	probes  []Probe
	timeout time.Duration
	now     func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithTimeout bounds each probe.
func WithTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithProbes adds probes. Results keep the order probes were added in.
func WithProbes(probes ...Probe) Option {
	return func(m *Monitor) {
		m.probes = append(m.probes, probes...)
	}
}

// New creates a Monitor with the given options.
func New(opts ...Option) *Monitor {
	m := &Monitor{timeout: DefaultTimeout, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run executes every probe concurrently and returns the report.
func (m *Monitor) Run(ctx context.Context) *Report {
	start := m.now()
	results := make([]CheckResult, len(m.probes))

	var g errgroup.Group
	for i, p := range m.probes {
		g.Go(func() error {
			results[i] = m.run(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	report := &Report{
		Status:    summarize(results),
		Checks:    results,
		CheckedAt: start,
		Duration:  m.now().Sub(start),
	}
	slog.Debug("health_checked",
		slog.String("status", report.Status),
		slog.Int("checks", len(results)),
		slog.Duration("duration", report.Duration))
	return report
}

type probeOutcome struct {
	msg string
	err error
}

// run executes one probe under its own deadline. A probe that ignores
// its context is abandoned when the deadline passes.
func (m *Monitor) run(ctx context.Context, p Probe) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.now()
	done := make(chan probeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probeOutcome{err: fmt.Errorf("probe panicked: %v", r)}
			}
		}()
		msg, err := p.Check(ctx)
		done <- probeOutcome{msg: msg, err: err}
	}()

	var out probeOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out.err = fmt.Errorf("timed out after %s: %w", m.timeout, ctx.Err())
	}

	result := CheckResult{
		Name:     p.Name,
		Required: p.Required,
		Message:  out.msg,
		Latency:  m.now().Sub(start),
	}
	var degraded *degradedError
	switch {
	case out.err == nil:
		result.Status = StatusPass
	case errors.As(out.err, &degraded):
		result.Status = StatusWarn
		result.Error = out.err.Error()
	default:
		result.Status = StatusFail
		result.Error = out.err.Error()
	}
	result.OK = result.Status != StatusFail

	if !result.OK {
		slog.Warn("health_check_failed",
			slog.String("check", p.Name),
			slog.Bool("required", p.Required),
			slog.String("error", result.Error))
	}
	return result
}

func summarize(results []CheckResult) string {
	status := Healthy
	for _, r := range results {
		if r.IsCritical() {
			return Unhealthy
		}
		if r.Status != StatusPass {
			status = Degraded
		}
	}
	return status
}
