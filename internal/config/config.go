package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"

	"github.com/minionctl/orchestrator/pkg/types"
)

// Load loads configuration from multiple sources, later sources
// overriding earlier ones:
//  1. Global config (~/.config/minionctl/minionctl.jsonc)
//  2. Project config (<directory>/.minionctl/minionctl.jsonc)
//  3. Project .env (<directory>/.minionctl/.env)
//  4. Environment variables
func Load(directory string) (*types.Config, error) {
	config := defaultConfig()

	loadConfigFile(GlobalConfigPath(), config)

	if directory != "" {
		loadConfigFile(ProjectConfigPath(directory), config)
		if env, err := godotenv.Read(ProjectEnvPath(directory)); err == nil {
			for k, v := range env {
				os.Setenv(k, v)
			}
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

func defaultConfig() *types.Config {
	return &types.Config{
		DefaultPermissionMode: types.ModeDefault,
		Server:                types.ServerConfig{Host: "127.0.0.1", Port: 4096},
		Scheduler:             types.SchedulerConfig{TickIntervalSeconds: 30, BackfillMissed: false},
		MaxPendingQueueItems:  types.DefaultMaxPending,
		SDK: types.SDKConfig{
			LaunchMaxRetries: 3,
		},
	}
}

// loadConfigFile reads one JSONC config file and merges it into config.
// A missing file is silently skipped.
func loadConfigFile(path string, config *types.Config) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	data = jsonc.ToJSON(data)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return
	}

	mergeConfig(config, &fileConfig)
}

// mergeConfig merges non-zero fields of source into target.
func mergeConfig(target, source *types.Config) {
	if source.DataDir != "" {
		target.DataDir = source.DataDir
	}
	if source.Server.Host != "" {
		target.Server.Host = source.Server.Host
	}
	if source.Server.Port != 0 {
		target.Server.Port = source.Server.Port
	}
	if source.DefaultPermissionMode != "" {
		target.DefaultPermissionMode = source.DefaultPermissionMode
	}
	if source.Scheduler.TickIntervalSeconds != 0 {
		target.Scheduler.TickIntervalSeconds = source.Scheduler.TickIntervalSeconds
	}
	if source.Scheduler.BackfillMissed {
		target.Scheduler.BackfillMissed = true
	}
	if source.MaxPendingQueueItems != 0 {
		target.MaxPendingQueueItems = source.MaxPendingQueueItems
	}
	if len(source.SDK.Command) > 0 {
		target.SDK.Command = source.SDK.Command
	}
	if source.SDK.MinVersion != "" {
		target.SDK.MinVersion = source.SDK.MinVersion
	}
	if source.SDK.LaunchMaxRetries != 0 {
		target.SDK.LaunchMaxRetries = source.SDK.LaunchMaxRetries
	}
	if len(source.SDK.Environment) > 0 {
		if target.SDK.Environment == nil {
			target.SDK.Environment = make(map[string]string)
		}
		for k, v := range source.SDK.Environment {
			target.SDK.Environment[k] = v
		}
	}
}

// applyEnvOverrides applies environment variable overrides, the final
// and highest-priority layer.
func applyEnvOverrides(config *types.Config) {
	if v := os.Getenv("MINIONCTL_DATA_DIR"); v != "" {
		config.DataDir = v
	}
	if v := os.Getenv("MINIONCTL_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("MINIONCTL_SDK_MIN_VERSION"); v != "" {
		config.SDK.MinVersion = v
	}
}

// Save writes config to path as indented JSON.
func Save(config *types.Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}
