// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix starts every environment override, e.g.
// COMPLYWATCH_STREAM_DELAY_MS or COMPLYWATCH_LOG_LEVEL.
const EnvPrefix = "COMPLYWATCH_"

// ApplyEnvOverrides overwrites fields whose COMPLYWATCH_* variable is set.
// Unset variables leave the field alone.
func (c *Config) ApplyEnvOverrides() error {
	return ParseEnv(c, env.Options{Prefix: EnvPrefix})
}

// ParseEnv loads target from environment variables.
func ParseEnv(target any, opts env.Options) error {
	if err := env.ParseWithOptions(target, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// EnvKeys lists every variable ApplyEnvOverrides reads.
func EnvKeys() []string {
	var keys []string
	params, err := env.GetFieldParamsWithOptions(&Config{}, env.Options{Prefix: EnvPrefix})
	if err != nil {
		return nil
	}
	for _, p := range params {
		keys = append(keys, p.Key)
	}
	return keys
}
