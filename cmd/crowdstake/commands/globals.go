package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/crowdstake/crowdstake/internal/config"
	"github.com/crowdstake/crowdstake/internal/logging"
)

// Global CLI flags
var (
	// ConfigPath is the config file; empty means config.DefaultConfigPath()
	ConfigPath string

	// OutputFormat controls output format: "text" or "json"
	OutputFormat string
)

// ValidateGlobals checks the global flags before any command runs.
func ValidateGlobals() error {
	switch OutputFormat {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("invalid output format %q (want text or json)", OutputFormat)
	}
}

func jsonOutput() bool {
	return OutputFormat == "json"
}

// configPath returns the config file in effect.
func configPath() string {
	if ConfigPath != "" {
		return ConfigPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file and configures logging from it. Logs go
// to stderr so they never mix with command output.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	if err := logging.Configure(cfg.Log.Level, cfg.Log.Format, os.Stderr); err != nil {
		return nil, err
	}
	return cfg, nil
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// GetVersion returns the version string
func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

// GetCommit returns the git commit
func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

// GetGoVersion returns the Go version
func GetGoVersion() string {
	return runtime.Version()
}
