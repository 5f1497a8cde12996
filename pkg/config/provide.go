package config

import "go.uber.org/fx"

func ProvideSource() Source { return Env{} }

var Module = fx.Options(
	fx.Provide(ProvideSource),
)
