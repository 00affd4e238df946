package teamguard

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDefault coalesces the rename-over-write burst the daemon's
// atomic descriptor publish produces.
const debounceDefault = 200 * time.Millisecond

// watchPollDefault is the fallback cadence when fsnotify is unavailable.
const watchPollDefault = 5 * time.Second

// RuntimeWatcher refreshes a client's discovery when the daemon's
// runtime descriptor changes, such as after a restart on a new port.
// Only works for clients discovered from a descriptor on disk.
type RuntimeWatcher struct {
	client   *Client
	debounce time.Duration
}

// NewRuntimeWatcher creates a watcher over the client's discovered
// runtime descriptor.
func NewRuntimeWatcher(c *Client) *RuntimeWatcher {
	return &RuntimeWatcher{client: c, debounce: debounceDefault}
}

// Run watches the descriptor's directory until ctx is cancelled.
// Returns an error when the client has no descriptor path or fsnotify
// cannot start; callers fall back to a PollWatcher then.
func (w *RuntimeWatcher) Run(ctx context.Context) error {
	path := w.client.Discovery().RuntimePath
	if path == "" {
		return fmt.Errorf("no runtime descriptor to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the parent: atomic publishes replace the file, which drops
	// a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	// Single debounce timer, reset on each burst of events.
	debounceTimer := time.NewTimer(w.debounce)
	debounceTimer.Stop()
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-debounceTimer.C:
			w.client.Rediscover()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(path) {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.debounce)

		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}

// PollWatcher re-runs discovery on a fixed interval. Used as a
// fallback when fsnotify is unavailable (e.g., NFS workspaces).
type PollWatcher struct {
	client   *Client
	interval time.Duration
}

// NewPollWatcher creates a polling-based discovery refresher.
func NewPollWatcher(c *Client, interval time.Duration) *PollWatcher {
	if interval == 0 {
		interval = watchPollDefault
	}
	return &PollWatcher{client: c, interval: interval}
}

// Run polls until ctx is cancelled. Blocks.
func (w *PollWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.client.Rediscover()
		}
	}
}
