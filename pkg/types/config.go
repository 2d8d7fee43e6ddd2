package types

// Config is the orchestrator's global configuration, layered from the
// global config file, the project-local config file, and environment
// overrides (see internal/config).
type Config struct {
	Schema string `json:"$schema,omitempty"`

	// DataDir overrides the XDG data directory root under which
	// data/projects, data/sessions, data/legions, data/archives live.
	DataDir string `json:"dataDir,omitempty"`

	// Server is the reference transport's bind configuration.
	Server ServerConfig `json:"server,omitempty"`

	// SDK configures how the agent SDK subprocess is launched.
	SDK SDKConfig `json:"sdk,omitempty"`

	// DefaultPermissionMode seeds new sessions absent an explicit choice.
	DefaultPermissionMode PermissionMode `json:"defaultPermissionMode,omitempty"`

	// Scheduler tuning.
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`

	// Queue tuning.
	MaxPendingQueueItems int `json:"maxPendingQueueItems,omitempty"`
}

// ServerConfig is the reference HTTP/SSE transport's bind settings.
type ServerConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// SDKConfig describes how to spawn the opaque agent SDK subprocess.
type SDKConfig struct {
	Command          []string `json:"command,omitempty"`
	Environment      map[string]string `json:"environment,omitempty"`
	MinVersion       string   `json:"minVersion,omitempty"`
	LaunchMaxRetries int      `json:"launchMaxRetries,omitempty"`
}

// SchedulerConfig holds the cron scheduler's tick and missed-window
// settings. internal/config loads and merges them, but internal/schedule
// does not read them: it ticks every schedule.TickInterval (30s) and
// never backfills missed fires.
type SchedulerConfig struct {
	TickIntervalSeconds int  `json:"tickIntervalSeconds,omitempty"`
	BackfillMissed      bool `json:"backfillMissed,omitempty"`
}
