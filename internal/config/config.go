// Package config loads the team registry and pool/queue/timeout tunables,
// grounded on the teacher's internal/common/config (viper-based Load(),
// env-prefix binding, SetDefault/AddConfigPath conventions). Config *file*
// loading and hot-reload are consumed here for the typed TeamRegistry
// structure only; the MCP/CLI layer that installs and reloads config files
// is out of scope per the core spec.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/irisrun/iris/internal/team"
)

// remoteOptionsDoc mirrors team.RemoteOptions with the JSON/YAML field
// names the team registry document uses.
type remoteOptionsDoc struct {
	Port                     int    `mapstructure:"port"`
	IdentityFile             string `mapstructure:"identityFile"`
	Passphrase               string `mapstructure:"passphrase"`
	ConnectTimeoutSeconds    int    `mapstructure:"connectTimeoutSeconds"`
	KeepAliveIntervalSeconds int    `mapstructure:"keepAliveIntervalSeconds"`
	StrictHostKeyChecking    *bool  `mapstructure:"strictHostKeyChecking"`
}

type teamDoc struct {
	TeamName           string            `mapstructure:"teamName"`
	Path               string            `mapstructure:"path"`
	Remote             string            `mapstructure:"remote"`
	RemoteOptions      *remoteOptionsDoc `mapstructure:"remoteOptions"`
	IdleTimeoutSeconds int               `mapstructure:"idleTimeoutSeconds"`
	SkipPermissions    bool              `mapstructure:"skipPermissions"`
	AllowedTools       []string          `mapstructure:"allowedTools"`
	DisallowedTools    []string          `mapstructure:"disallowedTools"`
	AppendSystemPrompt string            `mapstructure:"appendSystemPrompt"`
	GrantPermission    string            `mapstructure:"grantPermission"`
}

// PoolConfig holds the process pool and per-task tunables (§4.4, §4.5).
type PoolConfig struct {
	MaxProcesses        int           `mapstructure:"-"`
	HealthSweepInterval time.Duration `mapstructure:"-"`
	SpawnTimeout        time.Duration `mapstructure:"-"`
	SessionInitTimeout  time.Duration `mapstructure:"-"`
}

type poolDoc struct {
	MaxProcesses               int `mapstructure:"maxProcesses"`
	HealthSweepIntervalSeconds int `mapstructure:"healthSweepIntervalSeconds"`
	SpawnTimeoutSeconds        int `mapstructure:"spawnTimeoutSeconds"`
	SessionInitTimeoutSeconds  int `mapstructure:"sessionInitTimeoutSeconds"`
}

type registryDoc struct {
	Teams []teamDoc `mapstructure:"teams"`
	Pool  poolDoc   `mapstructure:"pool"`
}

// Config is the fully decoded, defaulted, and validated configuration.
type Config struct {
	Teams []team.TeamConfig
	Pool  PoolConfig
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pool.maxProcesses", 10)
	v.SetDefault("pool.healthSweepIntervalSeconds", 30)
	v.SetDefault("pool.spawnTimeoutSeconds", 30)
	v.SetDefault("pool.sessionInitTimeoutSeconds", 30)
}

// Load reads a team registry document from path (yaml or json), validates
// it against the embedded JSON Schema, decodes it, and applies defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("IRIS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	raw, err := json.Marshal(v.AllSettings())
	if err != nil {
		return nil, fmt.Errorf("re-marshal config for schema validation: %w", err)
	}
	if err := validateTeamRegistryDocument(raw); err != nil {
		return nil, err
	}

	var doc registryDoc
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg := &Config{
		Teams: make([]team.TeamConfig, 0, len(doc.Teams)),
		Pool: PoolConfig{
			MaxProcesses:        doc.Pool.MaxProcesses,
			HealthSweepInterval: time.Duration(doc.Pool.HealthSweepIntervalSeconds) * time.Second,
			SpawnTimeout:        time.Duration(doc.Pool.SpawnTimeoutSeconds) * time.Second,
			SessionInitTimeout:  time.Duration(doc.Pool.SessionInitTimeoutSeconds) * time.Second,
		},
	}

	for _, t := range doc.Teams {
		cfg.Teams = append(cfg.Teams, toTeamConfig(t))
	}

	return cfg, nil
}

func toTeamConfig(t teamDoc) team.TeamConfig {
	tc := team.TeamConfig{
		TeamName:           t.TeamName,
		Path:               t.Path,
		Remote:             t.Remote,
		IdleTimeout:        time.Duration(t.IdleTimeoutSeconds) * time.Second,
		SkipPermissions:    t.SkipPermissions,
		AllowedTools:       t.AllowedTools,
		DisallowedTools:    t.DisallowedTools,
		AppendSystemPrompt: t.AppendSystemPrompt,
		GrantPermission:    team.GrantPermission(t.GrantPermission),
	}
	if t.RemoteOptions != nil {
		tc.RemoteOptions = &team.RemoteOptions{
			Port:                  t.RemoteOptions.Port,
			IdentityFile:          t.RemoteOptions.IdentityFile,
			Passphrase:            t.RemoteOptions.Passphrase,
			ConnectTimeout:        time.Duration(t.RemoteOptions.ConnectTimeoutSeconds) * time.Second,
			KeepAliveInterval:     time.Duration(t.RemoteOptions.KeepAliveIntervalSeconds) * time.Second,
			StrictHostKeyChecking: t.RemoteOptions.StrictHostKeyChecking,
		}
	}
	return tc
}
