// Package health tracks the liveness of tierstore's external dependencies
// (catalog database, cache, broker, backends) and aggregates them into one
// overall status for the health endpoint.
package health

import (
	"context"
	"sync"
	"time"
)

// Status is a dependency's health state.
type Status int

const (
	// StatusHealthy means the last checks succeeded.
	StatusHealthy Status = iota
	// StatusDegraded means recent checks failed but not enough to call
	// the dependency gone.
	StatusDegraded
	// StatusUnavailable means the dependency is considered down.
	StatusUnavailable
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText renders the status for JSON reports.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// Component is the tracked state of one dependency.
type Component struct {
	Name              string    `json:"name"`
	Status            Status    `json:"status"`
	ConsecutiveErrors int       `json:"consecutive_errors,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
	LastChecked       time.Time `json:"last_checked"`
}

// Report aggregates all components; the overall status is the worst one.
type Report struct {
	Status     Status      `json:"status"`
	Components []Component `json:"components"`
	CheckedAt  time.Time   `json:"checked_at"`
}

// Config sets the failure thresholds.
type Config struct {
	// DegradedThreshold is the number of consecutive failures before a
	// component is reported degraded.
	DegradedThreshold int `yaml:"degraded_threshold"`

	// UnavailableThreshold is the number of consecutive failures before a
	// component is reported unavailable.
	UnavailableThreshold int `yaml:"unavailable_threshold"`

	// Interval drives the background check loop.
	Interval time.Duration `yaml:"interval"`

	// CheckTimeout bounds each individual probe.
	CheckTimeout time.Duration `yaml:"check_timeout"`
}

// DefaultConfig returns the health check defaults.
func DefaultConfig() Config {
	return Config{
		DegradedThreshold:    1,
		UnavailableThreshold: 3,
		Interval:             30 * time.Second,
		CheckTimeout:         5 * time.Second,
	}
}

type tracked struct {
	check     CheckFunc
	errors    int
	lastError string
	checked   time.Time
}

// Tracker runs registered checks and keeps per-dependency state.
type Tracker struct {
	config Config

	mu         sync.RWMutex
	components map[string]*tracked
	order      []string
}

// NewTracker creates a tracker, applying defaults for zero config values.
func NewTracker(config Config) *Tracker {
	if config.DegradedThreshold <= 0 {
		config.DegradedThreshold = 1
	}
	if config.UnavailableThreshold <= config.DegradedThreshold {
		config.UnavailableThreshold = config.DegradedThreshold + 2
	}
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 5 * time.Second
	}
	return &Tracker{
		config:     config,
		components: make(map[string]*tracked),
	}
}

// Register adds a dependency check. Registration order is preserved in
// reports.
func (t *Tracker) Register(name string, check CheckFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.components[name]; !exists {
		t.order = append(t.order, name)
	}
	t.components[name] = &tracked{check: check}
}

// CheckNow probes every dependency once and returns the report.
func (t *Tracker) CheckNow(ctx context.Context) Report {
	t.mu.RLock()
	names := make([]string, len(t.order))
	copy(names, t.order)
	t.mu.RUnlock()

	for _, name := range names {
		t.runCheck(ctx, name)
	}
	return t.Report()
}

func (t *Tracker) runCheck(ctx context.Context, name string) {
	t.mu.RLock()
	c, ok := t.components[name]
	t.mu.RUnlock()
	if !ok {
		return
	}

	checkCtx, cancel := context.WithTimeout(ctx, t.config.CheckTimeout)
	err := c.check(checkCtx)
	cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	c.checked = time.Now()
	if err != nil {
		c.errors++
		c.lastError = err.Error()
		return
	}
	c.errors = 0
	c.lastError = ""
}

// Report returns the current state without running checks.
func (t *Tracker) Report() Report {
	t.mu.RLock()
	defer t.mu.RUnlock()

	report := Report{Status: StatusHealthy, CheckedAt: time.Now()}
	for _, name := range t.order {
		c := t.components[name]
		comp := Component{
			Name:              name,
			Status:            t.statusFor(c.errors),
			ConsecutiveErrors: c.errors,
			LastError:         c.lastError,
			LastChecked:       c.checked,
		}
		if comp.Status > report.Status {
			report.Status = comp.Status
		}
		report.Components = append(report.Components, comp)
	}
	return report
}

func (t *Tracker) statusFor(errors int) Status {
	switch {
	case errors >= t.config.UnavailableThreshold:
		return StatusUnavailable
	case errors >= t.config.DegradedThreshold:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Run executes checks on the configured interval until the context is
// canceled. The first round runs immediately.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	t.CheckNow(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.CheckNow(ctx)
		}
	}
}
