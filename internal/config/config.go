// Package config parses the gateway's registry file and applies
// environment overrides. Following the teacher's
// internal/config/loader.go, the file format is dispatched by
// extension across YAML, JSON, and TOML so operators can author it in
// whatever their deployment tooling prefers.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/KarunKarguz/edge-infer-gateway/pkg/types"
)

// ServerConfig mirrors the `server:` block of the registry file.
// Zero values mean "unspecified" and are replaced by Defaults in
// main.
type ServerConfig struct {
	Port           int `json:"port" yaml:"port" toml:"port"`
	HTTPPort       int `json:"http_port" yaml:"http_port" toml:"http_port"`
	MaxClients     int `json:"max_clients" yaml:"max_clients" toml:"max_clients"`
	ReadTimeoutMS  int `json:"read_timeout_ms" yaml:"read_timeout_ms" toml:"read_timeout_ms"`
	WriteTimeoutMS int `json:"write_timeout_ms" yaml:"write_timeout_ms" toml:"write_timeout_ms"`
	QueueDepth     int `json:"queue_depth" yaml:"queue_depth" toml:"queue_depth"`
}

// Registry is the top-level shape of the gateway's registry file.
type Registry struct {
	Server ServerConfig        `json:"server" yaml:"server" toml:"server"`
	Models []types.ModelConfig `json:"models" yaml:"models" toml:"models"`
}

// Defaults applied to zero-value ServerConfig fields.
const (
	DefaultPort           = 8008
	DefaultHTTPPort       = 8080
	DefaultMaxClients     = 256
	DefaultReadTimeoutMS  = 30000
	DefaultWriteTimeoutMS = 30000
	DefaultQueueDepth     = 1024
)

// ApplyDefaults fills zero-value fields of the Server block with the
// documented defaults.
func (r *Registry) ApplyDefaults() {
	if r.Server.Port == 0 {
		r.Server.Port = DefaultPort
	}
	if r.Server.HTTPPort == 0 {
		r.Server.HTTPPort = DefaultHTTPPort
	}
	if r.Server.MaxClients == 0 {
		r.Server.MaxClients = DefaultMaxClients
	}
	if r.Server.ReadTimeoutMS == 0 {
		r.Server.ReadTimeoutMS = DefaultReadTimeoutMS
	}
	if r.Server.WriteTimeoutMS == 0 {
		r.Server.WriteTimeoutMS = DefaultWriteTimeoutMS
	}
	if r.Server.QueueDepth == 0 {
		r.Server.QueueDepth = DefaultQueueDepth
	}
}

// ApplyEnvOverrides applies EIG_PORT / EIG_HTTP_PORT over whatever was
// parsed from the file.
func (r *Registry) ApplyEnvOverrides() {
	if v := os.Getenv("EIG_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			r.Server.Port = n
		}
	}
	if v := os.Getenv("EIG_HTTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			r.Server.HTTPPort = n
		}
	}
}

// Load reads a registry file based on its extension. Supports
// .yaml/.yml, .json, .toml.
func Load(path string) (Registry, error) {
	var reg Registry
	if path == "" {
		return reg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return reg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &reg); err != nil {
			return reg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &reg); err != nil {
			return reg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &reg); err != nil {
			return reg, err
		}
	default:
		return reg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return reg, nil
}
