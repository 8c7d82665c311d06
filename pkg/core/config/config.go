//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package config provides configuration management for the decision engine
// using [Viper] for flexible configuration sources.
//
// Configuration can be provided via:
//   - YAML configuration files
//   - Environment variables with the MCE_ prefix
//   - Programmatic defaults
//
// # Configuration File
//
// By default, the engine looks for mce-config.yaml in the current directory.
// Override the location using environment variables:
//
//	MCE_CONFIG_PATH=/etc/cedarengine
//	MCE_CONFIG_FILENAME=production-config
//
// Example configuration file:
//
//	log:
//	  level: ".:info"
//	trust:
//	  mode: strict
//	principal:
//	  mode: any
//	store:
//	  paths:
//	    - /etc/cedarengine/stores
//	audit:
//	  env:
//	    pod: HOSTNAME
//	    region: AWS_REGION
//
// # Environment Variables
//
// All configuration keys can be set via environment variables with the MCE_
// prefix. Dots in key names become underscores:
//
//	MCE_LOG_LEVEL=.:debug
//	MCE_TRUST_MODE=strict
//	MCE_MOCK_ENABLED=true
//
// # Configuration Keys
//
// Available configuration options:
//   - log.level: Log level configuration (default: ".:info")
//   - trust.mode: Token trust mode, "none" or "strict" (default: "none")
//   - principal.mode: Decision combination across principals, "any" or "all"
//     (default: "any")
//   - store.paths: Policy store files or directories to load at startup
//   - mock.enabled: Use a permissive built-in store instead of configured stores
//   - entities.workload / entities.user / entities.role / entities.issuer /
//     entities.action: Cedar entity type name overrides
//   - audit.env: Map of decision record metadata keys to environment variable names
//   - audit.k8s.podinfo: Downward API directory for pod labels/annotations
//
// [Viper]: https://github.com/spf13/viper
package config

import (
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/manetu/cedarengine/internal/logging"
	"github.com/spf13/viper"
)

// Environment variable and default path constants for configuration loading.
const (
	// EnvVarPrefix is the prefix for all engine environment variables.
	// For example, the key "log.level" becomes MCE_LOG_LEVEL.
	EnvVarPrefix string = "MCE"

	// ConfigPathEnv is the environment variable that specifies the directory
	// containing the configuration file.
	ConfigPathEnv string = "MCE_CONFIG_PATH"

	// ConfigFileNameEnv is the environment variable that specifies the
	// configuration file name (without extension).
	ConfigFileNameEnv string = "MCE_CONFIG_FILENAME"

	// ConfigDefaultPath is the default directory to search for config files.
	ConfigDefaultPath string = "."

	// ConfigDefaultFilename is the default configuration file name (without extension).
	ConfigDefaultFilename string = "mce-config"
)

// Configuration key constants for use with [VConfig].
const (
	logLevel string = "log.level"

	// MockEnabled when set to true causes the engine to load a permissive
	// built-in policy store regardless of any store configured via
	// [options.WithStore]. This is useful for unit testing applications
	// that embed the engine.
	//
	// Set via environment: MCE_MOCK_ENABLED=true
	MockEnabled string = "mock.enabled"

	// TrustMode selects the token trust validation mode applied before
	// entity construction. Valid values are "none" and "strict".
	//
	// Default: "none"
	// Set via environment: MCE_TRUST_MODE=strict
	TrustMode string = "trust.mode"

	// PrincipalMode controls how per-principal outcomes combine into the
	// final decision when both a workload and a user principal were built.
	// "any" allows the request if any principal is allowed; "all" requires
	// every built principal to be allowed.
	//
	// Default: "any"
	// Set via environment: MCE_PRINCIPAL_MODE=all
	PrincipalMode string = "principal.mode"

	// StorePaths lists policy store files or directories loaded at engine
	// startup when no store is supplied programmatically.
	StorePaths string = "store.paths"

	// EntityWorkload overrides the Cedar entity type used for workload
	// principals. Companion keys exist for the other built entity kinds.
	EntityWorkload string = "entities.workload"
	// EntityUser overrides the user principal entity type.
	EntityUser string = "entities.user"
	// EntityRole overrides the role entity type.
	EntityRole string = "entities.role"
	// EntityIssuer overrides the trusted-issuer entity type.
	EntityIssuer string = "entities.issuer"
	// EntityAction names the entity type assumed when a request names an
	// action by its short id rather than the full Type::"id" form.
	EntityAction string = "entities.action"

	// AuditEnv defines a mapping from decision record metadata keys to
	// environment variable names. The values of the specified environment
	// variables are included in every decision record.
	//
	// Example config:
	//
	//	audit:
	//	  env:
	//	    pod: HOSTNAME
	//	    region: AWS_REGION
	AuditEnv string = "audit.env"

	// AuditK8sPodinfo is the directory holding Kubernetes Downward API
	// files (labels, annotations). When present, audit.env values may use
	// the k8s.label:NAME and k8s.annotation:NAME forms to resolve record
	// metadata from pod metadata instead of process environment.
	AuditK8sPodinfo string = "audit.k8s.podinfo"
)

// Default entity type names applied when no override is configured.
const (
	DefaultEntityWorkload string = "Authz::Workload"
	DefaultEntityUser     string = "Authz::User"
	DefaultEntityRole     string = "Authz::Role"
	DefaultEntityIssuer   string = "Authz::TrustedIssuer"
	DefaultEntityAction   string = "Authz::Action"
)

var (
	once     sync.Once
	loadOnce sync.Once
	loadErr  error

	// VConfig is the global Viper configuration instance for the engine.
	//
	// Use the configuration key constants ([MockEnabled], [TrustMode], etc.)
	// to access specific settings:
	//
	//	if config.VConfig.GetBool(config.MockEnabled) {
	//	    // Using the built-in permissive store
	//	}
	//
	// VConfig is initialized automatically when [Load] or [Init] is called.
	// In most cases, applications don't need to access VConfig directly;
	// configuration is handled automatically by [core.NewPolicyEngine].
	VConfig *viper.Viper
	logger  = logging.GetLogger("cedarengine.config")
)

// Init initializes the configuration system without loading config files.
//
// Init sets up Viper with:
//   - Configuration file paths and names
//   - Environment variable handling (MCE_ prefix)
//   - Default values for all configuration keys
//
// This function is safe to call multiple times; subsequent calls are no-ops.
// Most applications don't need to call Init directly; it's called automatically
// by [Load], which is called by [core.NewPolicyEngine].
//
// Call Init explicitly only if you need to set Viper defaults before [Load]
// reads the configuration file.
func Init() {
	once.Do(func() {
		doInitialize()
	})
}

func getConfigPath() string {
	configPath, ok := os.LookupEnv(ConfigPathEnv)
	if ok {
		return configPath
	}

	return ConfigDefaultPath
}

func getConfigFileName() string {
	configName, ok := os.LookupEnv(ConfigFileNameEnv)
	if ok {
		return configName
	}

	return ConfigDefaultFilename
}

func doInitialize() {
	VConfig = viper.New()

	// set up config-file loading:  default is './mce-config.yaml' but can be overridden with $(MCE_CONFIG_PATH)/$(MCE_CONFIG_FILENAME).yaml
	VConfig.AddConfigPath(getConfigPath())
	VConfig.SetConfigName(getConfigFileName())
	VConfig.SetConfigType("yaml")

	// set up envvar handling:  keys such as 'log.level' become 'MCE_LOG_LEVEL'
	VConfig.SetEnvPrefix(EnvVarPrefix)
	VConfig.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	VConfig.AutomaticEnv()

	// set up VConfig defaults
	VConfig.SetDefault(logLevel, ".:info")
	VConfig.SetDefault(TrustMode, "none")
	VConfig.SetDefault(PrincipalMode, "any")
	VConfig.SetDefault(EntityWorkload, DefaultEntityWorkload)
	VConfig.SetDefault(EntityUser, DefaultEntityUser)
	VConfig.SetDefault(EntityRole, DefaultEntityRole)
	VConfig.SetDefault(EntityIssuer, DefaultEntityIssuer)
	VConfig.SetDefault(EntityAction, DefaultEntityAction)
}

// Load initializes configuration and loads settings from files and environment.
//
// Load performs the following steps:
//  1. Calls [Init] if not already called
//  2. Reads the configuration file (if present; missing files are not an error)
//  3. Applies environment variable overrides
//  4. Updates log levels based on configuration
//
// This function is safe to call concurrently from multiple goroutines.
// Subsequent calls after the first successful load are no-ops that return nil.
//
// Load is called automatically by [core.NewPolicyEngine]. Most applications
// don't need to call it directly.
//
// Returns an error if log level configuration is invalid.
func Load() error {
	loadOnce.Do(func() {
		Init()

		// Early log level update from environment variable allows us to debug the config loading.
		earlyLoglevel := os.Getenv("MCE_LOG_LEVEL")
		if earlyLoglevel != "" {
			if err := logging.UpdateLogLevels(earlyLoglevel); err != nil {
				logger.SysErrorf("Failed updating early log level %s: %+v", earlyLoglevel, err)
				loadErr = err
				return
			}
		}

		logger.SysDebugf("Loading configuration from %s/%s.yaml", getConfigPath(), getConfigFileName())
		// Add the path specified by the env var.
		err := VConfig.ReadInConfig()
		if err != nil {
			// Only log if it's an actual error, not just a missing config file
			var configNotFound viper.ConfigFileNotFoundError
			if !errors.As(err, &configNotFound) {
				logger.SysWarnf("error reading config; using defaults: %+v", err)
			}
			// fall through to continue loading
			logger.SysDebugf("No config file found at %s/%s.yaml", getConfigPath(), getConfigFileName())
		}

		// Update log levels based on final configuration
		loglevel := VConfig.GetString(logLevel)
		if err := logging.UpdateLogLevels(loglevel); err != nil {
			logger.SysErrorf("Failed updating log level %s: %+v", loglevel, err)
			loadErr = err
			return
		}

		if logger.IsDebugEnabled() {
			VConfig.DebugTo(logger.Out())
		}
	})

	return loadErr
}

// ResetConfig clears all configuration and reinitializes with defaults.
//
// WARNING: This function is intended for testing only. It resets the global
// configuration state, which can cause race conditions in concurrent code.
//
// After calling ResetConfig, the configuration system is reinitialized with
// default values. Any previously loaded configuration file or environment
// variable overrides are discarded.
func ResetConfig() {
	VConfig = nil
	once = sync.Once{}     // reset the sync.Once to allow re-initialization
	loadOnce = sync.Once{} // reset the loadOnce to allow re-loading
	loadErr = nil          // reset any previous load error
	resetK8sCache()
	Init()
	// ignore any reset errors
	_ = Load()
}

// Prefixes for audit.env values resolved from Kubernetes pod metadata
// rather than process environment.
const (
	k8sLabelPrefix      = "k8s.label:"
	k8sAnnotationPrefix = "k8s.annotation:"
)

// GetAuditEnv returns resolved environment metadata for decision records.
//
// This function reads the audit.env configuration section and resolves each
// configured value to its current setting. The result is a map suitable for
// inclusion in decision records as metadata.
//
// Configuration format:
//
//	audit:
//	  env:
//	    pod: HOSTNAME
//	    region: AWS_REGION
//	    team: k8s.label:team
//
// Plain values name environment variables. Values prefixed with k8s.label:
// or k8s.annotation: resolve from the Downward API files under the
// audit.k8s.podinfo directory instead.
//
// Unset sources produce empty string values in the result. Returns an empty
// map if no audit.env configuration is present.
func GetAuditEnv() map[string]string {
	result := make(map[string]string)

	envConfig := VConfig.GetStringMapString(AuditEnv)
	if envConfig == nil {
		return result
	}

	for key, source := range envConfig {
		switch {
		case strings.HasPrefix(source, k8sLabelPrefix):
			result[key] = getK8sLabels()[strings.TrimPrefix(source, k8sLabelPrefix)]
		case strings.HasPrefix(source, k8sAnnotationPrefix):
			result[key] = getK8sAnnotations()[strings.TrimPrefix(source, k8sAnnotationPrefix)]
		default:
			result[key] = os.Getenv(source)
		}
	}

	return result
}
