package common

import (
	"fmt"
	"io"

	"github.com/manetu/cedarengine/pkg/core"
	"github.com/manetu/cedarengine/pkg/core/accesslog"
	"github.com/manetu/cedarengine/pkg/core/engine"
	"github.com/manetu/cedarengine/pkg/core/options"
	"github.com/urfave/cli/v3"
)

// NewCliPolicyEngine creates a new PolicyEngine instance configured from CLI command flags.
// It sets up access logging, store paths, trust mode, and compiler options based on the
// provided command.
func NewCliPolicyEngine(cmd *cli.Command, stdout io.Writer) (core.PolicyEngine, error) {
	// Enable trace logging if requested (global flag from root command)
	traceEnabled := cmd.Root().Bool("trace")

	stores := cmd.StringSlice("store")
	if len(stores) == 0 {
		return nil, fmt.Errorf("at least one store must be specified")
	}

	engineOptions := []options.EngineOptionsFunc{
		options.WithAccessLog(accesslog.NewIoWriterFactory(stdout)),
		options.WithStorePaths(stores...),
		options.WithCompilerOptions(
			engine.WithDefaultTracing(traceEnabled)),
	}

	if mode := cmd.String("trust-mode"); mode != "" {
		engineOptions = append(engineOptions, options.WithTrustMode(mode))
	}

	return core.NewPolicyEngine(engineOptions...)
}
