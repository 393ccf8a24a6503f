// Package watcher provides the daemon that keeps external file edits
// flowing back into the database.
//
// The daemon:
// 1. Watches the docs tree for markdown file changes
// 2. Smart-syncs affected documents after a debounce window
// 3. Periodically sweeps the whole corpus to catch missed events
// 4. Handles graceful shutdown
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/docvault/docvault/internal/store"
	"github.com/docvault/docvault/internal/syncer"
)

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long a changed path sits in the queue before
	// it is synced. Rapid editor save bursts collapse into one sync.
	DebounceInterval time.Duration

	// SweepInterval is how often the daemon smart-syncs the whole corpus
	// regardless of events.
	SweepInterval time.Duration

	// SyncOptions is applied to every sync the daemon triggers.
	SyncOptions syncer.Options

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults. File-side changes are adopted
// automatically; true conflicts wait for a human.
func DefaultConfig() *Config {
	opts := syncer.DefaultOptions()
	opts.MissingDB = syncer.MissingDBCreate
	return &Config{
		DebounceInterval: 100 * time.Millisecond,
		SweepInterval:    5 * time.Minute,
		SyncOptions:      opts,
		Logger:           log.New(os.Stderr, "[watcher] ", log.LstdFlags),
	}
}

// Daemon watches the docs tree and reconciles changed documents.
type Daemon struct {
	store  *store.Store
	engine *syncer.Engine
	root   string
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // relative path -> queued at
	changeQueueMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon watching the docs tree rooted at root.
//
// Use Start() to begin watching and syncing.
func New(st *store.Store, engine *syncer.Engine, root string, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if root == "" {
		return nil, fmt.Errorf("root cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		store:       st,
		engine:      engine,
		root:        root,
		config:      config,
		watcher:     w,
		changeQueue: make(map[string]time.Time),
		ctx:         ctx,
		cancel:      cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// The daemon performs an initial full sweep, then watches every directory
// under the root (new directories are added as they appear) and processes
// queued changes with debouncing. Blocks until ctx is cancelled or an error
// occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting watcher daemon")

	// Catch up on anything that changed while the daemon was down.
	if err := d.sweep(); err != nil {
		return fmt.Errorf("initial sweep failed: %w", err)
	}

	if err := d.watchTree(d.root); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching: %s", d.root)

	d.wg.Add(3)
	go d.watchFileEvents()
	go d.processChangeQueue()
	go d.periodicSweep()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping watcher daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}

	d.wg.Wait()

	d.config.Logger.Println("Watcher daemon stopped")
	return nil
}

// watchTree registers root and every directory below it.
func (d *Daemon) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if err := d.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// sweep smart-syncs every document once.
func (d *Daemon) sweep() error {
	report, err := d.engine.SyncAll(d.ctx, d.config.SyncOptions)
	if err != nil {
		return err
	}
	d.config.Logger.Printf("Sweep: synced=%d skipped=%d conflicts=%d errors=%d",
		report.Synced, report.Skipped, report.Conflicts, report.Errors)
	return nil
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// New directories need their own watch before events in them
			// can be seen.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := d.watchTree(event.Name); err != nil {
						d.config.Logger.Printf("Error watching new directory %s: %v", event.Name, err)
					}
					continue
				}
			}

			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Ext(event.Name) != ".md" {
				continue
			}

			rel, err := filepath.Rel(d.root, event.Name)
			if err != nil {
				continue
			}

			d.config.Logger.Printf("File event: %s %s", event.Op, rel)
			d.queueChange(filepath.ToSlash(rel))

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// queueChange adds a path to the change queue with debouncing.
func (d *Daemon) queueChange(rel string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[rel] = time.Now()
}

// processChangeQueue processes queued changes once they have been stable for
// a full debounce interval.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			for _, rel := range d.takePending() {
				d.syncPath(rel)
			}
		}
	}
}

// takePending removes and returns the paths whose debounce window elapsed.
func (d *Daemon) takePending() []string {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	now := time.Now()
	var ready []string
	for rel, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, rel)
		delete(d.changeQueue, rel)
	}
	return ready
}

// syncPath smart-syncs the document mirrored at rel. Paths without a
// document row are not the daemon's to manage and are dropped.
func (d *Daemon) syncPath(rel string) {
	doc, err := d.store.GetByPath(d.ctx, rel)
	if errors.Is(err, store.ErrNotFound) {
		d.config.Logger.Printf("Ignoring untracked path: %s", rel)
		return
	}
	if err != nil {
		d.config.Logger.Printf("Error looking up %s: %v", rel, err)
		return
	}

	res, err := d.engine.SmartSync(d.ctx, doc.ID, d.config.SyncOptions)
	if err != nil {
		d.config.Logger.Printf("Error syncing %s: %v", rel, err)
		return
	}
	d.config.Logger.Printf("Synced %s: %s (%s)", rel, res.Outcome, res.Detail)
}

// periodicSweep re-syncs the whole corpus on a timer as a safety net for
// missed events.
func (d *Daemon) periodicSweep() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if err := d.sweep(); err != nil {
				d.config.Logger.Printf("Error during sweep: %v", err)
			}
		}
	}
}
