package monitoring

import (
	"context"
	"time"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
)

// DependencyChecker probes one external dependency.
type DependencyChecker interface {
	Name() string
	Check(ctx context.Context) error
}

// CheckFunc adapts a closure into a DependencyChecker.
type CheckFunc struct {
	DepName string
	Fn      func(ctx context.Context) error
}

func (c CheckFunc) Name() string                    { return c.DepName }
func (c CheckFunc) Check(ctx context.Context) error { return c.Fn(ctx) }

type DependencyStatus struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type HealthReport struct {
	Status       string                      `json:"status"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
}

type Health struct {
	log      *logger.Logger
	timeout  time.Duration
	checkers []DependencyChecker
}

func NewHealth(log *logger.Logger, timeout time.Duration, checkers ...DependencyChecker) *Health {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Health{
		log:      log.With("service", "Health"),
		timeout:  timeout,
		checkers: checkers,
	}
}

// Report runs every checker with a per-check timeout. Overall status degrades
// to "degraded" when any dependency fails.
func (h *Health) Report(ctx context.Context) HealthReport {
	report := HealthReport{
		Status:       "ok",
		Dependencies: make(map[string]DependencyStatus, len(h.checkers)),
	}
	for _, c := range h.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := c.Check(checkCtx)
		cancel()
		if err != nil {
			h.log.Warn("Dependency check failed", "dependency", c.Name(), "error", err)
			report.Status = "degraded"
			report.Dependencies[c.Name()] = DependencyStatus{Status: "error", Detail: err.Error()}
			continue
		}
		report.Dependencies[c.Name()] = DependencyStatus{Status: "ok"}
	}
	return report
}
