//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package decide implements one-shot authorization decisions from the
// command line, simplifying policy-store authoring and verification.
package decide

import (
	"context"
	"os"

	"github.com/manetu/cedarengine/cmd/mce/common"
	pkgcommon "github.com/manetu/cedarengine/pkg/common"
	"github.com/manetu/cedarengine/pkg/core/options"
	"github.com/urfave/cli/v3"
)

// Execute evaluates a token-based authorization request and prints the result
func Execute(ctx context.Context, cmd *cli.Command) error {
	pe, err := common.NewCliPolicyEngine(cmd, os.Stdout)
	if err != nil {
		return err
	}
	defer pe.Close()

	result, err := pe.Authorize(ctx,
		getInputExpression(cmd.String("input")),
		options.SetProbeMode(cmd.Bool("probe")))
	if err != nil {
		return err
	}

	pkgcommon.PrettyPrint(result)
	return nil
}

// ExecuteUnsigned evaluates an authorization request with caller-asserted
// principals and prints the result
func ExecuteUnsigned(ctx context.Context, cmd *cli.Command) error {
	pe, err := common.NewCliPolicyEngine(cmd, os.Stdout)
	if err != nil {
		return err
	}
	defer pe.Close()

	result, err := pe.AuthorizeUnsigned(ctx,
		getInputExpression(cmd.String("input")),
		options.SetProbeMode(cmd.Bool("probe")))
	if err != nil {
		return err
	}

	pkgcommon.PrettyPrint(result)
	return nil
}
