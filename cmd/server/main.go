package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"salesbi-dataplane/internal/httpapi"
	"salesbi-dataplane/pkg/config"
	"salesbi-dataplane/pkg/db"
	"salesbi-dataplane/pkg/gen"
	"salesbi-dataplane/pkg/health"
	"salesbi-dataplane/pkg/logger"
	"salesbi-dataplane/pkg/otelcol"
	"salesbi-dataplane/pkg/profiling"
	"salesbi-dataplane/pkg/redis"
	"salesbi-dataplane/pkg/server"
	wf "salesbi-dataplane/pkg/workflow"
	"salesbi-dataplane/services/importjob"
	"salesbi-dataplane/services/schedule"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		wf.ProvideEngine,
		importjob.Module,
		importjob.SweeperModule,
		schedule.Module,
		health.Module,
		httpapi.Module,
		server.Module,
		fxLogger,
	)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
