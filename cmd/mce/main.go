//
//  Copyright © Manetu Inc. All rights reserved.
//

package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/manetu/cedarengine/cmd/mce/subcommands/decide"
	"github.com/manetu/cedarengine/cmd/mce/subcommands/serve"
	"github.com/manetu/cedarengine/cmd/mce/subcommands/validate"
	"github.com/manetu/cedarengine/cmd/mce/version"
	"github.com/manetu/cedarengine/internal/logging"
	"github.com/urfave/cli/v3"
)

var logger = logging.GetLogger("mce")

func storeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:    "store",
			Aliases: []string{"s"},
			Usage:   "Load a policy-store document from `FILE`.  Can be specified multiple times.",
		},
		&cli.StringFlag{
			Name:  "trust-mode",
			Usage: "Token trust mode.  Must be one of 'none' or 'strict'.  Overrides the configured value.",
		},
	}
}

func decideFlags() []cli.Flag {
	return append(storeFlags(),
		&cli.StringFlag{
			Name:    "input",
			Aliases: []string{"i"},
			Usage:   "Load the request from 'FILE', or use '-' for stdin",
		},
		&cli.BoolFlag{
			Name:  "probe",
			Usage: "Evaluate without emitting an audit record",
		})
}

func main() {
	cmd := &cli.Command{
		Name:    "mce",
		Usage:   "A CLI application for working with the Manetu CedarEngine",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "trace",
				Aliases: []string{"t"},
				Usage:   "Enable Cedar evaluation diagnostics output for commands that evaluate policies",
				Value:   logger.IsTraceEnabled(),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "decide",
				Usage: "Invokes various aspects of the decision flow, simplifying policy-store authoring and verification",
				Commands: []*cli.Command{
					{
						Name:   "tokens",
						Usage:  "Evaluates a token-based authorization request against one or more policy-store documents",
						Flags:  decideFlags(),
						Action: decide.Execute,
					},
					{
						Name:   "unsigned",
						Usage:  "Evaluates an authorization request with caller-asserted principals",
						Flags:  decideFlags(),
						Action: decide.ExecuteUnsigned,
					},
				},
			},
			{
				Name:  "serve",
				Usage: "Creates a decision-point service",
				Flags: append(storeFlags(),
					&cli.IntFlag{
						Name:  "port",
						Usage: "The TCP port to serve on.",
						Value: 9000,
					},
					&cli.StringFlag{
						Name:    "protocol",
						Aliases: []string{"p"},
						Usage:   "The protocol to serve.  Must be one of 'generic' or 'envoy'",
						Value:   "generic",
						Action: func(ctx context.Context, command *cli.Command, s string) error {
							if s != "generic" && s != "envoy" {
								return fmt.Errorf("unsupported protocol: %s", s)
							}
							return nil
						},
					},
					&cli.StringFlag{
						Name:  "resource-type",
						Usage: "The Cedar entity type assigned to checked routes when serving the envoy protocol",
					}),
				Action: serve.Execute,
			},
			{
				Name:  "validate",
				Usage: "Validate policy-store documents for schema, policy, and trusted-issuer errors",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "store",
						Aliases:  []string{"s"},
						Usage:    "Policy-store document to validate (.yml, .yaml). Can be specified multiple times.",
						Required: true,
					},
				},
				Action: validate.Execute,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
