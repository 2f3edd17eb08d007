package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
	"github.com/yungbote/knowledgeflow-backend/internal/temporalx"
	"github.com/yungbote/knowledgeflow-backend/internal/temporalx/taskrun"
	"github.com/yungbote/knowledgeflow-backend/internal/utils"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// Runner hosts one Temporal worker per logical queue. Every worker serves
// the same generic task workflow and activity; routing happens by queue.
type Runner struct {
	log *logger.Logger

	tc       temporalsdkclient.Client
	registry *tasks.Registry
	results  *tasks.ResultStore
	queues   []string
}

func NewRunner(
	log *logger.Logger,
	tc temporalsdkclient.Client,
	registry *tasks.Registry,
	results *tasks.ResultStore,
	queues []string,
) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if registry == nil {
		return nil, fmt.Errorf("temporal worker missing task registry")
	}
	if len(queues) == 0 {
		queues = registry.Queues()
	}
	if len(queues) == 0 {
		return nil, fmt.Errorf("temporal worker has no queues to serve")
	}
	return &Runner{
		log:      log,
		tc:       tc,
		registry: registry,
		results:  results,
		queues:   queues,
	}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.tc == nil {
		return fmt.Errorf("temporal worker not initialized")
	}

	cfg := temporalx.LoadConfig()
	r.log.Info("Starting Temporal workers", "address", cfg.Address, "namespace", cfg.Namespace, "queues", strings.Join(r.queues, ","))

	if envTrue("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
		baseCtx := ctx
		if baseCtx == nil {
			baseCtx = context.Background()
		}
		if err := temporalx.EnsureNamespace(baseCtx, r.tc, cfg.Namespace, r.log); err != nil {
			r.log.Warn("Temporal namespace ensure failed; worker will retry on start", "namespace", cfg.Namespace, "error", err)
		}
	}

	maxWait := durationSecondsFromEnv("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60)
	backoff := durationMillisFromEnv("TEMPORAL_WORKER_START_BACKOFF_MS", 250)
	backoffMax := durationMillisFromEnv("TEMPORAL_WORKER_START_BACKOFF_MAX_MS", 5000)

	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		workers, startErr := r.startWorkers()
		if startErr == nil {
			if ctx != nil {
				go func() {
					<-ctx.Done()
					for _, w := range workers {
						w.Stop()
					}
				}()
			}
			r.log.Info("Temporal workers started", "namespace", cfg.Namespace, "queues", len(workers), "attempts", attempt)
			return nil
		}

		for _, w := range workers {
			w.Stop()
		}

		var nfe *serviceerror.NamespaceNotFound
		if errors.As(startErr, &nfe) && envTrue("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
			baseCtx := ctx
			if baseCtx == nil {
				baseCtx = context.Background()
			}
			_ = temporalx.EnsureNamespace(baseCtx, r.tc, cfg.Namespace, r.log)
		}

		if maxWait <= 0 || time.Now().After(deadline) {
			var nfe2 *serviceerror.NamespaceNotFound
			if errors.As(startErr, &nfe2) {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}

		r.log.Warn("Temporal worker failed to start; retrying", "namespace", cfg.Namespace, "attempt", attempt, "error", startErr)

		sleep := clampBackoff(backoff, backoffMax, attempt)
		if sleep > 0 {
			time.Sleep(sleep)
		}
	}
}

// startWorkers brings up every queue's worker or none.
func (r *Runner) startWorkers() ([]worker.Worker, error) {
	concurrency := utils.GetEnvAsInt("WORKER_CONCURRENCY", 4, r.log)
	if concurrency < 1 {
		concurrency = 1
	}

	acts := &taskrun.Activities{
		Log:      r.log,
		Registry: r.registry,
		Results:  r.results,
	}

	started := make([]worker.Worker, 0, len(r.queues))
	for _, queue := range r.queues {
		w := worker.New(r.tc, queue, worker.Options{
			MaxConcurrentActivityExecutionSize:     concurrency,
			MaxConcurrentWorkflowTaskExecutionSize: concurrency,
		})
		w.RegisterWorkflowWithOptions(taskrun.Workflow, workflow.RegisterOptions{Name: tasks.WorkflowRunTask})
		w.RegisterActivityWithOptions(acts.Execute, activity.RegisterOptions{Name: tasks.ActivityRunTask})
		if err := w.Start(); err != nil {
			return started, fmt.Errorf("start worker for queue %s: %w", queue, err)
		}
		started = append(started, w)
	}
	return started, nil
}

func envTrue(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func durationSecondsFromEnv(key string, defSeconds int) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(defSeconds) * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return time.Duration(defSeconds) * time.Second
	}
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * time.Second
}

func durationMillisFromEnv(key string, defMillis int) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(defMillis) * time.Millisecond
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return time.Duration(defMillis) * time.Millisecond
	}
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * time.Millisecond
}

func clampBackoff(base time.Duration, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	sleep := base
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if max > 0 && sleep >= max {
			return max
		}
	}
	if max > 0 && sleep > max {
		return max
	}
	return sleep
}
