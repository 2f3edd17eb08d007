package app

import (
	"context"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/yungbote/knowledgeflow-backend/internal/convert"
	"github.com/yungbote/knowledgeflow-backend/internal/monitoring"
	"github.com/yungbote/knowledgeflow-backend/internal/pipeline"
	"github.com/yungbote/knowledgeflow-backend/internal/pkg/logger"
	"github.com/yungbote/knowledgeflow-backend/internal/security"
	"github.com/yungbote/knowledgeflow-backend/internal/storage"
	"github.com/yungbote/knowledgeflow-backend/internal/tasks"
	"github.com/yungbote/knowledgeflow-backend/internal/temporalx"
	"github.com/yungbote/knowledgeflow-backend/internal/utils"
)

// App is the shared object graph for the API server and the task worker.
// Both binaries construct the same components so a payload accepted by the
// API always matches what the worker deserializes.
type App struct {
	Log          *logger.Logger
	Cfg          convert.Settings
	Registry     *convert.Registry
	Worker       *convert.Worker
	TaskRegistry *tasks.Registry
	Dispatcher   tasks.Dispatcher
	Store        *storage.Store
	Attach       *storage.AttachClient
	Pipeline     *pipeline.Service
	Validator    *security.AppKeyValidator
	Health       *monitoring.Health

	TemporalClient temporalsdkclient.Client
	Results        *tasks.ResultStore

	rdb   *goredis.Client
	eager bool
}

// Eager reports whether tasks run in-process instead of through Temporal.
// Callers must register handlers before dispatching in this mode.
func (a *App) Eager() bool { return a.eager }

func New(ctx context.Context, log *logger.Logger) (*App, error) {
	cfg, err := convert.LoadConfig(log)
	if err != nil {
		return nil, err
	}

	log.Info("Setting up conversion registry from main...")
	registry := convert.NewRegistry()
	toolbox := convert.NewToolbox()
	modules, err := convert.ReadPluginModuleFile(cfg.PluginModulesFile)
	if err != nil {
		log.Warn("Plugin module file unreadable, loading all known modules", "path", cfg.PluginModulesFile, "error", err)
		modules = convert.KnownModules()
	}
	if err := convert.LoadPlugins(log, registry, toolbox, modules); err != nil {
		return nil, err
	}

	log.Info("Setting up object storage from main...")
	store, err := storage.NewStore(log, cfg.Minio)
	if err != nil {
		log.Warn("MinIO init failed, storage-backed operations will error", "error", err)
		store = nil
	} else if err := store.EnsureBucket(ctx); err != nil {
		log.Warn("Bucket ensure failed", "bucket", store.Bucket(), "error", err)
	}
	attach := storage.NewAttachClient(log, storage.LoadAttachSettings(log))

	worker, err := convert.NewWorker(log, cfg, registry, attach)
	if err != nil {
		return nil, err
	}

	a := &App{
		Log:          log,
		Cfg:          cfg,
		Registry:     registry,
		Worker:       worker,
		TaskRegistry: tasks.NewRegistry(),
		Store:        store,
		Attach:       attach,
	}
	if err := a.setupDispatcher(ctx); err != nil {
		return nil, err
	}

	a.Pipeline = pipeline.NewService(log, pipeline.LoadSettings(log), store, a.Dispatcher)

	if cfg.Auth.Required {
		validator, err := security.NewAppKeyValidator(log, cfg.Auth.AppSecretsPath)
		if err != nil {
			log.Warn("App key file unreadable, all authenticated requests will be rejected",
				"path", cfg.Auth.AppSecretsPath, "error", err)
		}
		a.Validator = validator
	}

	a.Health = monitoring.NewHealth(log, 3*time.Second, a.healthCheckers()...)
	monitoring.EnsureMetricsServer(log, cfg.PrometheusPort)
	return a, nil
}

// setupDispatcher picks the task backend. TASKS_MODE=eager keeps everything
// in-process; otherwise Temporal plus a Redis result store. A missing
// TEMPORAL_ADDRESS degrades to eager so a bare deployment still works.
func (a *App) setupDispatcher(ctx context.Context) error {
	mode := strings.ToLower(utils.GetEnv("TASKS_MODE", "temporal", a.Log))
	if mode != "eager" {
		tc, err := temporalx.NewClient(a.Log)
		if err != nil {
			return err
		}
		if tc != nil {
			rdb, err := tasks.NewRedisClient(ctx, a.Log)
			if err != nil {
				a.Log.Warn("Redis init failed, task results will not be persisted", "error", err)
				rdb = nil
			}
			ttl := time.Duration(utils.GetEnvAsInt("TASK_RESULT_TTL_SEC", 86400, a.Log)) * time.Second
			a.Results = tasks.NewResultStore(a.Log, rdb, ttl)
			a.rdb = rdb
			a.TemporalClient = tc
			dispatcher, err := tasks.NewTemporalDispatcher(a.Log, tc, a.Results)
			if err != nil {
				return err
			}
			a.Dispatcher = dispatcher
			return nil
		}
		a.Log.Warn("Temporal not configured, falling back to eager in-process tasks")
	}
	a.eager = true
	a.Dispatcher = tasks.NewEagerDispatcher(a.Log, a.TaskRegistry)
	return nil
}

func (a *App) healthCheckers() []monitoring.DependencyChecker {
	var checkers []monitoring.DependencyChecker
	if a.Store != nil {
		checkers = append(checkers, monitoring.CheckFunc{DepName: "minio", Fn: a.Store.Check})
	}
	if a.Results != nil {
		checkers = append(checkers, monitoring.CheckFunc{DepName: "redis", Fn: a.Results.Check})
	}
	if a.TemporalClient != nil {
		checkers = append(checkers, monitoring.CheckFunc{DepName: "temporal", Fn: func(ctx context.Context) error {
			_, err := a.TemporalClient.CheckHealth(ctx, &temporalsdkclient.CheckHealthRequest{})
			return err
		}})
	}
	return checkers
}

// Close releases backend connections. Safe on a partially built App.
func (a *App) Close() {
	if a.TemporalClient != nil {
		a.TemporalClient.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}
