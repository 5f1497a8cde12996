// bundlefx/bundlefx.go
package bundlefx

import (
	"go.uber.org/fx"

	"github.com/joeydtaylor/steeze-gate/pkg/config"
	"github.com/joeydtaylor/steeze-gate/pkg/kv"
	"github.com/joeydtaylor/steeze-gate/pkg/middleware/csrf"
	"github.com/joeydtaylor/steeze-gate/pkg/middleware/logger"
	"github.com/joeydtaylor/steeze-gate/pkg/middleware/metrics"
	"github.com/joeydtaylor/steeze-gate/pkg/middleware/ratelimit"
	"github.com/joeydtaylor/steeze-gate/pkg/session"
)

// Module provided to fx
var Module = fx.Options(
	config.Module,
	logger.Module,
	kv.Module,
	session.Module,
	csrf.Module,
	ratelimit.Module,
	metrics.Module,
)
