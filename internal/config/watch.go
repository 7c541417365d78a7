package config

import (
	"github.com/rjeczalik/notify"

	"brld/internal/util"
)

// Watcher reloads a config file on change and hands the new value to a
// callback.
//
// Uses a buffered notify.EventInfo channel fed by notify.Watch, drained on
// its own goroutine, torn down with notify.Stop. Tracks a single config
// file and re-parses it whenever the filesystem reports it changed.
type Watcher struct {
	events chan notify.EventInfo
	stop   chan struct{}
}

// WatchFile starts watching path for writes and re-parses it on every
// change, calling onReload with the newly validated Config. Parse or
// validation failures are logged and skipped, leaving the previous config
// in effect, since a daemon mid-edit of its config file shouldn't be torn
// down by a transient invalid intermediate write.
func WatchFile(path string, onReload func(*Config)) (*Watcher, error) {
	w := &Watcher{
		events: make(chan notify.EventInfo, 16),
		stop:   make(chan struct{}),
	}
	if err := notify.Watch(path, w.events, notify.Write, notify.Create); err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case <-w.events:
				cfg, err := Load(path)
				if err != nil {
					util.Default.Printf("config watch: reload of %s failed, keeping previous config: %v\n", path, err)
					continue
				}
				onReload(cfg)
			case <-w.stop:
				return
			}
		}
	}()

	return w, nil
}

// Close stops watching and releases the underlying OS watch.
func (w *Watcher) Close() {
	notify.Stop(w.events)
	close(w.stop)
}
