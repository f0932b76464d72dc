package health

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pingsantohq/stamp/internal/metrics"
)

const defaultStaleAfter = 15 * time.Second

const (
	categorySocketPending  = "SOCKET_PENDING"
	categorySocketError    = "SOCKET_ERROR"
	categoryRepliesPending = "REPLIES_PENDING"
	categoryRepliesStale   = "REPLIES_STALE"
)

const (
	severityInfo     = "info"
	severityWarning  = "warning"
	severityCritical = "critical"
)

// Checker evaluates readiness of a reflector or sender.
type Checker struct {
	metrics         *metrics.Store
	staleAfter      time.Duration
	requireActivity bool

	mu           sync.RWMutex
	boundAt      time.Time
	bindErr      string
	lastActivity time.Time
}

type Option func(*Checker)

// WithRequireActivity makes readiness depend on recent exchanges. Senders
// use it; an idle reflector is still healthy.
func WithRequireActivity() Option {
	return func(c *Checker) {
		c.requireActivity = true
	}
}

// NewChecker constructs a readiness checker bound to the provided metrics store.
func NewChecker(store *metrics.Store, staleAfter time.Duration, opts ...Option) *Checker {
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	c := &Checker{
		metrics:    store,
		staleAfter: staleAfter,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// ObserveBind records the outcome of opening the measurement socket.
func (c *Checker) ObserveBind(ts time.Time, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.bindErr = err.Error()
		c.boundAt = time.Time{}
		return
	}
	c.bindErr = ""
	c.boundAt = ts
}

// ObserveActivity records a completed exchange.
func (c *Checker) ObserveActivity(ts time.Time) {
	c.mu.Lock()
	if ts.After(c.lastActivity) {
		c.lastActivity = ts
	}
	c.mu.Unlock()
}

// Ready evaluates all readiness conditions and returns the overall status and reasons for failure.
func (c *Checker) Ready(now time.Time) (bool, []string) {
	reasons := make([]string, 0, 2)
	categories := make([]metrics.ReadinessCategory, 0, 2)
	add := func(reason, name, severity string) {
		reasons = append(reasons, reason)
		categories = append(categories, metrics.ReadinessCategory{Name: name, Severity: severity})
	}

	c.mu.RLock()
	boundAt := c.boundAt
	bindErr := c.bindErr
	last := c.lastActivity
	c.mu.RUnlock()

	switch {
	case bindErr != "":
		add(fmt.Sprintf("socket bind failed: %s", bindErr), categorySocketError, severityCritical)
	case boundAt.IsZero():
		add("socket not bound", categorySocketPending, severityInfo)
	case c.requireActivity && last.IsZero():
		if now.Sub(boundAt) > c.staleAfter {
			add("no replies received", categoryRepliesPending, severityWarning)
		}
	case c.requireActivity && now.Sub(last) > c.staleAfter:
		add(fmt.Sprintf("replies stale (%s)", now.Sub(last).Round(time.Second)), categoryRepliesStale, severityWarning)
	}

	ready := len(reasons) == 0
	if c.metrics != nil {
		if ready {
			c.metrics.ObserveReadiness(true, "", nil)
		} else {
			c.metrics.ObserveReadiness(false, strings.Join(reasons, "; "), categories)
		}
	}
	if !ready {
		return false, reasons
	}
	return true, nil
}
