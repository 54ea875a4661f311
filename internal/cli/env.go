// Package cli holds small helpers shared by the finwire subcommands.
package cli

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// envFileVar overrides any --env flag value when set.
const envFileVar = "FINWIRE_ENV_FILE"

// EnvLoader resolves which .env file to load for a command. Resolution order:
// FINWIRE_ENV_FILE, then the --env flag value, then the command default.
// Values from the file override already-set process environment variables.
type EnvLoader struct {
	flagValue   *string
	defaultPath string
}

// AddEnvFlag registers an --env flag on fs and returns the loader bound to it.
func AddEnvFlag(fs *flag.FlagSet, defaultPath, description string) *EnvLoader {
	if fs == nil {
		fs = flag.CommandLine
	}
	if defaultPath == "" {
		defaultPath = ".env"
	}
	if description == "" {
		description = "Path to the .env file"
	}

	return &EnvLoader{
		flagValue:   fs.String("env", defaultPath, description),
		defaultPath: defaultPath,
	}
}

// Load reads the resolved env file and returns its path. A missing file is an
// error only when the caller asked for a non-default path; commands treat the
// error as a warning so a bare environment still works.
func (l *EnvLoader) Load() (string, error) {
	if l == nil {
		return "", fmt.Errorf("env loader is nil")
	}

	if override := strings.TrimSpace(os.Getenv(envFileVar)); override != "" {
		if err := godotenv.Overload(override); err != nil {
			return "", fmt.Errorf("load env file from %s=%q: %w", envFileVar, override, err)
		}
		return override, nil
	}

	path := l.defaultPath
	if l.flagValue != nil && strings.TrimSpace(*l.flagValue) != "" {
		path = strings.TrimSpace(*l.flagValue)
	}

	if err := godotenv.Overload(path); err != nil {
		return "", fmt.Errorf("load env file %q: %w", path, err)
	}
	return path, nil
}
