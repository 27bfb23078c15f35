package reporter

import "go.uber.org/fx"

var Module = fx.Module("reporter",
	fx.Provide(New),
)
