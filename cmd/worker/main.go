package main

import (
	"context"

	"github.com/hibiken/asynq"
	"go.temporal.io/sdk/worker"
	sdkworkflow "go.temporal.io/sdk/workflow"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"salesbi-dataplane/pkg/config"
	"salesbi-dataplane/pkg/db"
	"salesbi-dataplane/pkg/gen"
	"salesbi-dataplane/pkg/logger"
	"salesbi-dataplane/pkg/task"
	wf "salesbi-dataplane/pkg/workflow"
	"salesbi-dataplane/services/alert"
	"salesbi-dataplane/services/importjob"
	"salesbi-dataplane/services/pipeline"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		wf.ProvideEngine,
		task.Client,
		task.Server,
		importjob.Module,
		pipeline.Module,
		alert.Module,
		fx.Invoke(
			registerAlertHandlers,
			runWorker,
		),
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func registerAlertHandlers(mux *asynq.ServeMux, h *alert.Handler) {
	mux.HandleFunc(alert.TaskLowSalesAlert, h.HandleLowSalesAlert)
}

// runWorker starts the Temporal worker on the import task queue. When the
// engine is unreachable the process stays up to drain alert tasks, but no
// workflow tasks are polled until a restart with a reachable server.
func runWorker(lc fx.Lifecycle, engine *wf.Engine, cfg *config.Config, activities *pipeline.Activities) {
	c, ok := engine.Client()
	if !ok {
		zap.L().Warn("Temporal unavailable, workflow worker not started",
			zap.String("task_queue", cfg.Temporal.TaskQueue))
		return
	}

	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(pipeline.ImportSales, sdkworkflow.RegisterOptions{
		Name: wf.WorkflowImportSales,
	})
	w.RegisterWorkflowWithOptions(pipeline.CheckLowSales, sdkworkflow.RegisterOptions{
		Name: wf.WorkflowCheckLowSales,
	})
	w.RegisterActivity(activities)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			zap.L().Info("Starting Temporal worker...",
				zap.String("task_queue", cfg.Temporal.TaskQueue))
			return w.Start()
		},
		OnStop: func(ctx context.Context) error {
			w.Stop()
			return nil
		},
	})
}
