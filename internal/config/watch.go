package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/minionctl/orchestrator/pkg/types"
)

// Watcher hot-reloads the project config file, calling onChange with the
// freshly merged configuration whenever the file is written.
type Watcher struct {
	watcher   *fsnotify.Watcher
	directory string
	done      chan struct{}
}

// WatchProject starts watching <directory>/.minionctl/minionctl.jsonc
// for writes and invokes onChange with the reloaded config. Callers must
// call Close to stop the watcher.
func WatchProject(directory string, onChange func(*types.Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	path := ProjectConfigPath(directory)
	if err := fw.Add(path); err != nil {
		// The file may not exist yet; watch its parent directory instead.
		if err := fw.Add(path[:len(path)-len("/minionctl.jsonc")]); err != nil {
			fw.Close()
			return nil, err
		}
	}

	w := &Watcher{watcher: fw, directory: directory, done: make(chan struct{})}

	go func() {
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load(directory)
				if err != nil {
					log.Warn().Err(err).Str("directory", directory).Msg("config reload failed")
					continue
				}
				onChange(cfg)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watcher error")
			case <-w.done:
				return
			}
		}
	}()

	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
