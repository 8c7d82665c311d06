//
//  Copyright © Manetu Inc. All rights reserved.
//

package test

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/manetu/cedarengine/internal/core/accesslog"
	"github.com/manetu/cedarengine/pkg/core"
	coreaccesslog "github.com/manetu/cedarengine/pkg/core/accesslog"
	"github.com/manetu/cedarengine/pkg/core/config"
	"github.com/manetu/cedarengine/pkg/core/options"
)

// TestConfigFilename is the name of the test configuration file (without extension).
const TestConfigFilename = "mce-config"

// GetTestdataPath returns the absolute path to the testdata directory.
// This uses runtime.Caller to locate the source file and compute the path
// relative to it, ensuring tests work regardless of the working directory.
func GetTestdataPath() string {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		// Fallback to relative path if runtime.Caller fails
		return "testdata"
	}
	// thisFile is internal/core/test/instance.go
	// We need to go up 3 levels to reach the project root, then into testdata
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(filepath.Dir(thisFile))))
	return filepath.Join(projectRoot, "testdata")
}

// SetupTestConfig configures the environment to use the test configuration.
// This sets both MCE_CONFIG_PATH and MCE_CONFIG_FILENAME to ensure tests
// use the correct configuration regardless of user environment variables.
func SetupTestConfig() error {
	if err := os.Setenv(config.ConfigPathEnv, GetTestdataPath()); err != nil {
		return err
	}
	if err := os.Setenv(config.ConfigFileNameEnv, TestConfigFilename); err != nil {
		return err
	}
	return nil
}

// NewTestPolicyEngine - instantiates an engine suitable for unit-testing.
// It loads the demo policy store from the testdata directory and routes
// decision records to the returned channel.
func NewTestPolicyEngine(depth int) (core.PolicyEngine, chan *coreaccesslog.Record, error) {
	if err := SetupTestConfig(); err != nil {
		return nil, nil, err
	}
	config.ResetConfig()

	ch := make(chan *coreaccesslog.Record, depth)
	engine, err := core.NewPolicyEngine(
		options.WithAccessLog(accesslog.NewChannelLogger(ch)),
		options.WithStorePaths(filepath.Join(GetTestdataPath(), "stores")),
	)
	if err != nil {
		return nil, nil, err
	}

	return engine, ch, nil
}
