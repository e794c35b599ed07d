// Package config loads tool configuration with layered precedence:
// defaults, then leapmap.yaml, then LEAPMAP_ environment variables, then
// explicitly set command-line flags.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "leapmap.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "leapmap.yml"

// Default configuration values.
const (
	DefaultOutDir     = "out"
	DefaultStateFile  = ".leapmap/state.db"
	DefaultCodeSuffix = "_cd"
)

// Config is the resolved tool configuration.
type Config struct {
	OutDir         string            `koanf:"out_dir"`
	Malcode        string            `koanf:"malcode"`
	StatePath      string            `koanf:"state_path"`
	CodeSuffix     string            `koanf:"code_suffix"`
	DefaultAliases map[string]string `koanf:"default_aliases"`
	LookupCatalog  string            `koanf:"lookup_catalog"`
	Verbose        bool              `koanf:"verbose"`
}

// findConfigFile finds the config file to use.
// Priority: explicit path > leapmap.yaml > leapmap.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if _, err := os.Stat(ConfigFileName); err == nil {
		return ConfigFileName
	}
	if _, err := os.Stat(ConfigFileNameAlt); err == nil {
		return ConfigFileNameAlt
	}
	return ""
}

// Load resolves the configuration. cfgFile may be empty; flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"out_dir":     DefaultOutDir,
		"state_path":  DefaultStateFile,
		"code_suffix": DefaultCodeSuffix,
		"verbose":     false,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file, when one exists
	if path := findConfigFile(cfgFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// 3. Environment variables: LEAPMAP_OUT_DIR -> out_dir
	if err := k.Load(env.Provider("LEAPMAP_", ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, "LEAPMAP_"))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Explicitly set flags win over everything
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			if key == "state" {
				return "state_path", posflag.FlagVal(flags, f)
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	return &cfg, nil
}
