// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file is read.
const (
	EnvWebSocketURL = "GOVCHAT_WS_URL"
	EnvAPIURL       = "GOVCHAT_API_URL"
	EnvLogLevel     = "GOVCHAT_LOG_LEVEL"
)

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("wsurl", validateWebSocketURL)
}

// validateWebSocketURL accepts absolute ws:// and wss:// URLs.
func validateWebSocketURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "ws" || u.Scheme == "wss"
}

// DefaultPath returns ~/.govchat/govchat.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".govchat", "govchat.yaml"), nil
}

// Load reads the config at path, creating it with defaults on first run.
// An empty path means DefaultPath. A .env file in the working directory is
// loaded first so its variables can feed the environment overrides.
// Notices about first-run creation go to notice.
func Load(path string, notice io.Writer) (GovchatConfig, error) {
	_ = godotenv.Load(".env")

	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return GovchatConfig{}, err
		}
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if notice != nil {
			fmt.Fprintf(notice, " First run detected, creating the config at %s\n", path)
		}
		if err := createDefault(path); err != nil {
			return GovchatConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return GovchatConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return GovchatConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := Validate(cfg); err != nil {
		return GovchatConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *GovchatConfig) {
	if v := os.Getenv(EnvWebSocketURL); v != "" {
		cfg.Server.WebSocketURL = v
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.Server.APIURL = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}

// Validate checks field constraints.
func Validate(cfg GovchatConfig) error {
	return configValidate.Struct(cfg)
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
