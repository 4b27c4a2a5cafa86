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
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentConfigVersion is written into new config files.
const CurrentConfigVersion = "1"

type GovchatConfig struct {
	Meta MetaConfig `yaml:"meta"`

	// Endpoints of the dashboard backend (or a local hub)
	Server ServerConfig `yaml:"server"`

	// Chat: session controller tuning
	Chat ChatConfig `yaml:"chat"`

	// Auth: where the token accessor keeps the token
	Auth AuthConfig `yaml:"auth"`

	Logging LoggingConfig `yaml:"logging"`

	UI UIConfig `yaml:"ui"`

	// Hub: the development server started by `govchat serve`
	Hub HubConfig `yaml:"hub"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type ServerConfig struct {
	WebSocketURL string `yaml:"ws_url" validate:"required,wsurl"`  // e.g. ws://localhost:8090/v1/chat/ws
	APIURL       string `yaml:"api_url" validate:"required,http_url"` // e.g. http://localhost:8090
}

type ChatConfig struct {
	IdleWindow      Duration          `yaml:"idle_window" validate:"gt=0"`
	DefaultSession  string            `yaml:"default_session,omitempty"`
	RoutingMarkers  map[string]string `yaml:"routing_markers"`
	HistoryPageSize int               `yaml:"history_page_size" validate:"gte=1,lte=500"`
	HistoryRPS      float64           `yaml:"history_rps" validate:"gt=0"`
}

type AuthConfig struct {
	TokenFile string `yaml:"token_file" validate:"required"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

type UIConfig struct {
	Theme      string `yaml:"theme" validate:"oneof=dark light"`
	FullScreen bool   `yaml:"full_screen"`
}

type HubConfig struct {
	Listen        string `yaml:"listen" validate:"required,hostname_port"`
	MetricsListen string `yaml:"metrics_listen,omitempty" validate:"omitempty,hostname_port"`

	// DataDir holds the badger turn store. Empty with InMemory false means
	// ~/.govchat/hub.
	DataDir  string `yaml:"data_dir,omitempty"`
	InMemory bool   `yaml:"in_memory"`

	// Tokens maps accepted bearer tokens to role names.
	Tokens map[string][]string `yaml:"tokens"`

	// PermissionsFile overrides the built-in role capabilities (YAML).
	PermissionsFile string `yaml:"permissions_file,omitempty"`

	// CatalogFile overrides the built-in regulation catalog (YAML).
	CatalogFile string `yaml:"catalog_file,omitempty"`

	// RedactionFile overrides the patterns scrubbed from stored queries (YAML).
	RedactionFile string `yaml:"redaction_file,omitempty"`

	TokensPerSecond float64  `yaml:"tokens_per_second" validate:"gt=0"`
	PingInterval    Duration `yaml:"ping_interval" validate:"gt=0"`

	// SendDone false leaves turn completion to the client's idle window.
	SendDone bool `yaml:"send_done"`

	Tracing TracingConfig `yaml:"tracing"`
}

type TracingConfig struct {
	// Exporter is "none", "stdout" or "otlp".
	Exporter     string `yaml:"exporter" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty" validate:"required_if=Exporter otlp"`
}

// Duration is a time.Duration written as a string ("1s", "250ms") in YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"1s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func DefaultConfig() GovchatConfig {
	return GovchatConfig{
		Meta: MetaConfig{Version: CurrentConfigVersion},
		Server: ServerConfig{
			WebSocketURL: "ws://localhost:8090/v1/chat/ws",
			APIURL:       "http://localhost:8090",
		},
		Chat: ChatConfig{
			IdleWindow: Duration(time.Second),
			RoutingMarkers: map[string]string{
				"Generate a compliance gap report": "#gap_report ",
				"Build my AI risk score":           "#risk_score ",
			},
			HistoryPageSize: 50,
			HistoryRPS:      5,
		},
		Auth: AuthConfig{
			TokenFile: "~/.govchat/token",
		},
		Logging: LoggingConfig{
			Level: "info",
			Dir:   "~/.govchat/logs",
		},
		UI: UIConfig{
			Theme: "dark",
		},
		Hub: HubConfig{
			Listen: "localhost:8090",
			Tokens: map[string][]string{
				"dev-token": {"analyst"},
			},
			TokensPerSecond: 40,
			PingInterval:    Duration(30 * time.Second),
			SendDone:        true,
			Tracing:         TracingConfig{Exporter: "none"},
		},
	}
}
