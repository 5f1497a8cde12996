package main

import (
	"github.com/joho/godotenv"
	"go.uber.org/fx"

	"github.com/joeydtaylor/steeze-gate/pkg/serverfx"
)

func main() {
	// .env is optional; real deployments configure through the environment.
	_ = godotenv.Load()

	fx.New(
		serverfx.Module(
			serverfx.WithService("gate"),
			serverfx.WithDefaultManifest("manifest.toml"),
		),
	).Run()
}
