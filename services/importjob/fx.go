package importjob

import (
	"go.uber.org/fx"
)

var Module = fx.Module("importjob.module",
	fx.Provide(
		NewStore,
		NewService,
	),
	fx.Invoke(Migrate),
)

var SweeperModule = fx.Module("importjob.sweeper",
	fx.Provide(NewSweeper),
	fx.Invoke(StartSweeper),
)
