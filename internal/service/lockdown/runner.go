package lockdown

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ignite/compliance-gate/internal/domain"
	"github.com/ignite/compliance-gate/internal/notify"
	"github.com/ignite/compliance-gate/internal/pkg/distlock"
	"github.com/ignite/compliance-gate/internal/pkg/logger"
)

const (
	// DefaultInterval is how often the runner evaluates lockdown rules.
	DefaultInterval = 60 * time.Second

	// LockKey serialises runs across gate replicas.
	LockKey = "compliance:lockdown-monitor"
)

// Target is one (agent, action) pair evaluated per tick. An empty ActionType
// matches any action.
type Target struct {
	AgentType  string
	ActionType string
}

// Targets returns the distinct targets named by the rules, sorted.
func Targets(rules []domain.LockdownRule) []Target {
	seen := make(map[Target]bool)
	var out []Target
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		t := Target{AgentType: targetAgent(r)}
		if r.ActionType != nil {
			t.ActionType = *r.ActionType
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AgentType != out[j].AgentType {
			return out[i].AgentType < out[j].AgentType
		}
		return out[i].ActionType < out[j].ActionType
	})
	return out
}

// Runner evaluates every lockdown rule target on a fixed interval. Only one
// replica evaluates per tick.
type Runner struct {
	monitor  *Monitor
	lock     distlock.DistLock
	notifier notify.Notifier
	interval time.Duration
}

// NewRunner creates a runner. A nil lock runs unguarded.
func NewRunner(m *Monitor, lock distlock.DistLock, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{monitor: m, lock: lock, notifier: m.notifier, interval: interval}
}

// Lock returns the lock guarding each tick, or nil.
func (r *Runner) Lock() distlock.DistLock { return r.lock }

// Start runs once immediately and then on every tick. It blocks until ctx is
// cancelled.
func (r *Runner) Start(ctx context.Context) {
	logger.Info("lockdown runner starting", "interval", r.interval.String())

	r.tick(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("lockdown runner stopping")
			return
		case <-ticker.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	start := time.Now()
	var evals []Evaluation
	run := func(ctx context.Context) error {
		evals = r.RunOnce(ctx)
		return nil
	}

	if r.lock == nil {
		_ = run(ctx)
	} else {
		ran, err := distlock.WithLock(ctx, r.lock, run)
		if err != nil {
			logger.Error("lockdown runner lock failed", "error", err)
			return
		}
		if !ran {
			logger.Debug("lockdown runner skipped, another replica holds the lock")
			return
		}
	}

	blocked := 0
	for _, ev := range evals {
		if ev.Blocked {
			blocked++
		}
	}
	logger.Debug("lockdown runner tick complete",
		"targets", len(evals), "blocked", blocked, "duration", time.Since(start).Round(time.Millisecond).String())
}

// RunOnce evaluates every target once and raises a warning alert for targets
// over an alert_only threshold.
func (r *Runner) RunOnce(ctx context.Context) []Evaluation {
	targets := Targets(r.monitor.policies.Current(ctx).LockdownRules())
	evals := make([]Evaluation, 0, len(targets))

	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		ev := r.monitor.Evaluate(ctx, t.AgentType, t.ActionType)
		evals = append(evals, ev)

		if !ev.Blocked && len(ev.Warnings) > 0 {
			_ = r.notifier.Notify(ctx, notify.Alert{
				Severity: notify.SeverityWarning,
				Kind:     notify.KindLockdownWarning,
				Subject:  fmt.Sprintf("Lockdown threshold warning for %s", t.AgentType),
				Body:     strings.Join(ev.Warnings, "\n"),
				Fields: map[string]interface{}{
					"agent_type":  t.AgentType,
					"action_type": t.ActionType,
					"risk_score":  ev.RiskScore,
				},
			})
		}
	}
	return evals
}
