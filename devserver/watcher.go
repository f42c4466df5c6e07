// Copyright 2025 The Gantry Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package devserver

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gantry-run/gantry/manifest"
)

// debounceInterval coalesces editor write bursts into one report.
const debounceInterval = 100 * time.Millisecond

// layoutWatcher watches the api/ and queues/ source trees and the
// project config. Handlers are compiled into the running binary, so the
// watcher cannot apply changes; it names what drifted from the running
// manifest and tells the developer to rebuild and restart.
type layoutWatcher struct {
	fsw      *fsnotify.Watcher
	services *manifest.Services
	logger   *slog.Logger
	root     string

	closeOnce sync.Once
	done      chan struct{}
}

func newLayoutWatcher(root string, services *manifest.Services, logger *slog.Logger) (*layoutWatcher, error) {
	if logger == nil {
		logger = noopLogger
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &layoutWatcher{
		fsw:      fsw,
		services: services,
		logger:   logger,
		root:     root,
		done:     make(chan struct{}),
	}

	if err := fsw.Add(root); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	for _, dir := range []string{manifest.RoutesDir, manifest.QueuesDir} {
		if err := w.watchTree(filepath.Join(root, dir)); err != nil {
			_ = fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// watchTree registers every directory under root. A missing tree is
// fine; the project may not use it.
func (w *layoutWatcher) watchTree(root string) error {
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if strings.HasPrefix(info.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (w *layoutWatcher) run() {
	debounce := time.NewTimer(debounceInterval)
	if !debounce.Stop() {
		<-debounce.C
	}

	var pending []fsnotify.Event
	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				w.maybeWatchDir(event.Name)
			}
			if !w.relevant(event) {
				continue
			}
			pending = append(pending, event)
			debounce.Reset(debounceInterval)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("layout watcher error", "error", err)

		case <-debounce.C:
			events := pending
			pending = nil
			w.report(events)
		}
	}
}

func (w *layoutWatcher) close() {
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
	})
}

// maybeWatchDir extends coverage to directories created after start.
func (w *layoutWatcher) maybeWatchDir(name string) {
	info, err := os.Stat(name)
	if err != nil || !info.IsDir() || strings.HasPrefix(info.Name(), ".") {
		return
	}
	if rel, ok := w.rel(name); ok && underLayout(rel) {
		if err := w.fsw.Add(name); err != nil {
			w.logger.Warn("failed to watch new directory", "dir", name, "error", err)
		}
	}
}

func (w *layoutWatcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	rel, ok := w.rel(event.Name)
	if !ok {
		return false
	}
	if strings.HasPrefix(filepath.Base(rel), ".") {
		return false
	}
	if isConfigFile(rel) {
		return true
	}
	return underLayout(rel) && strings.HasSuffix(rel, ".go")
}

// rel maps an event path onto a project-relative slash form.
func (w *layoutWatcher) rel(name string) (string, bool) {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (w *layoutWatcher) report(events []fsnotify.Event) {
	seen := make(map[string]bool, len(events))
	for _, event := range events {
		rel, ok := w.rel(event.Name)
		if !ok || seen[rel] {
			continue
		}
		seen[rel] = true
		w.describe(rel, event)
	}
}

// describe logs one drifted file with whatever the manifest knows about
// it: the route it backs, the route it would serve, or the queue it
// names.
func (w *layoutWatcher) describe(rel string, event fsnotify.Event) {
	gone := event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)

	switch {
	case isConfigFile(rel):
		w.logger.Warn("project configuration changed; restart to apply", "file", rel)

	case strings.HasPrefix(rel, manifest.RoutesDir+"/"):
		if template, ok := w.services.TemplateFor(rel); ok {
			if gone {
				w.logger.Warn("source of a served route was removed; rebuild and restart",
					"file", rel, "path", template.String())
				return
			}
			w.logger.Warn("source of a served route changed; rebuild and restart to apply",
				"file", rel, "path", template.String())
			return
		}
		if template, err := manifest.RouteTemplateFromSource(rel); err == nil && !gone {
			w.logger.Warn("route file is not in the running manifest; register its module, then rebuild and restart",
				"file", rel, "wouldServe", template.String())
			return
		}
		w.logger.Warn("routes tree changed; rebuild and restart to apply", "file", rel)

	case strings.HasPrefix(rel, manifest.QueuesDir+"/"):
		if name, _, err := manifest.QueueNameFromSource(rel); err == nil {
			if _, ok := w.services.QueueByName(name); ok {
				w.logger.Warn("source of a registered queue changed; rebuild and restart to apply",
					"file", rel, "queue", name)
				return
			}
			if !gone {
				w.logger.Warn("queue file is not in the running manifest; register its module, then rebuild and restart",
					"file", rel, "queue", name)
				return
			}
		}
		w.logger.Warn("queues tree changed; rebuild and restart to apply", "file", rel)
	}
}

func underLayout(rel string) bool {
	return strings.HasPrefix(rel, manifest.RoutesDir+"/") ||
		strings.HasPrefix(rel, manifest.QueuesDir+"/")
}

func isConfigFile(rel string) bool {
	switch rel {
	case "gantry.yaml", "gantry.yml", "gantry.toml":
		return true
	}
	return false
}
