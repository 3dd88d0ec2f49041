// Package config resolves operator-facing CLI defaults (state directory,
// actor identity, output format) from flags and environment variables.
// This is a convenience layer in front of the CLI only: internal/engine
// never reads viper, an env var, or any process-wide singleton — every
// engine call takes its workspace root and state directory as explicit
// parameters; the workspace root and state directory are never globals.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultStateDirName is the directory created under the user's home
// directory when no state directory is configured.
const DefaultStateDirName = ".soulguard"

// CLI holds the resolved defaults for one invocation.
type CLI struct {
	v *viper.Viper
}

// New builds a CLI config resolver. It binds SOULGUARD_-prefixed
// environment variables and seeds defaults via a standard viper
// bootstrap (env prefix + SetDefault calls), while the actual
// policy/baseline state files stay on hand-rolled encoding/json.
func New() *CLI {
	v := viper.New()
	v.SetEnvPrefix("SOULGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("state-dir", defaultStateDir())
	v.SetDefault("actor", defaultActor())
	v.SetDefault("output-format", "json")

	return &CLI{v: v}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, DefaultStateDirName)
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	if u := os.Getenv("USERNAME"); u != "" {
		return u
	}
	return "unknown"
}

// StateDir returns the resolved state directory.
func (c *CLI) StateDir() string { return c.v.GetString("state-dir") }

// Actor returns the resolved actor identity.
func (c *CLI) Actor() string { return c.v.GetString("actor") }

// OutputFormat returns the resolved check output format ("json" or "alert").
func (c *CLI) OutputFormat() string { return c.v.GetString("output-format") }

// SetStateDir overrides the resolved state directory, used when --state-dir
// is passed explicitly on the command line.
func (c *CLI) SetStateDir(dir string) { c.v.Set("state-dir", dir) }

// SetActor overrides the resolved actor.
func (c *CLI) SetActor(actor string) { c.v.Set("actor", actor) }

// SetOutputFormat overrides the resolved output format.
func (c *CLI) SetOutputFormat(format string) { c.v.Set("output-format", format) }
