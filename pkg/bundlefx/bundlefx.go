// bundlefx/bundlefx.go
package bundlefx

import (
	"go.uber.org/fx"

	"github.com/joeydtaylor/hermes/pkg/middleware/logger"
	"github.com/joeydtaylor/hermes/pkg/middleware/metrics"
)

// Module provides the HTTP middleware stack: access and system loggers plus
// the named "metrics" handler.
var Module = fx.Options(
	logger.Module,
	metrics.Module,
)
