// Package config loads the Kestrel configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates nesting levels, so KESTREL_ENGINE__STORE_TIMEOUT sets
// engine.store_timeout.
const EnvPrefix = "KESTREL_"

// Load layers the built-in defaults, the YAML file at path and KESTREL_
// environment variables, in that order. An empty path or a missing file is
// not an error.
func Load(path string) (*domain.Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(domain.DefaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg domain.Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Scoring.Validate(); err != nil {
		return nil, err
	}
	if _, err := cfg.Engine.Location(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	return &cfg, nil
}

func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}
