//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package validate checks policy-store documents for schema, policy,
// and trusted-issuer errors without starting a service.
package validate

import (
	"context"
	"fmt"
	"os"

	"github.com/manetu/cedarengine/pkg/core/engine"
	"github.com/manetu/cedarengine/pkg/core/policystore"
	"github.com/urfave/cli/v3"
)

// Result represents the outcome of validating a single store document.
type Result struct {
	File  string
	Store *policystore.Store
	Error error
}

// File validates a single policy-store document.
func File(compiler *engine.Compiler, path string) Result {
	store, err := policystore.Load(compiler, path)
	return Result{File: path, Store: store, Error: err}
}

// Execute runs the validate command with the provided context and CLI command.
func Execute(ctx context.Context, cmd *cli.Command) error {
	files := cmd.StringSlice("store")
	if len(files) == 0 {
		return fmt.Errorf("no files specified, use --store/-s to specify store documents to validate")
	}

	compiler := engine.NewCompiler()

	failures := 0
	for _, file := range files {
		result := File(compiler, file)
		if result.Error != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", file, result.Error)
			failures++
			continue
		}
		fmt.Fprintf(os.Stdout, "✓ %s: store %q, %d policies, %d trusted issuers\n",
			file, result.Store.Name(), result.Store.Policies().Len(), len(result.Store.Origins()))
	}

	if failures > 0 {
		return fmt.Errorf("%d of %d documents failed validation", failures, len(files))
	}

	return nil
}
