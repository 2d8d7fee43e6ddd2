// Package config loads the orchestrator's configuration from a global
// file, a project-local file, a project .env, and environment
// overrides, in that priority order, with JSONC comment support and a
// file-watcher for hot-reloading the project-local file.
package config
