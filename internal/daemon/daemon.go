// Package daemon boots the coordination service: it scaffolds the team
// workspace, takes the per-team lock, mints a credential, binds the HTTP
// listener to loopback and publishes the runtime descriptor that guard
// clients discover.
package daemon

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mkdir700/pi-team/internal/fsio"
	"github.com/mkdir700/pi-team/internal/model"
	"github.com/mkdir700/pi-team/internal/server"
	"github.com/mkdir700/pi-team/internal/store"
)

// Config carries everything Start needs. Root and Team are required; an
// empty Token means a fresh 256-bit credential is minted, and Port 0 binds
// an ephemeral loopback port.
type Config struct {
	Root            string
	Team            string
	Port            int
	Token           string
	Version         string
	DefaultLeaseTTL time.Duration
	Logger          zerolog.Logger
}

// Daemon is a running instance. Close releases every resource Start
// acquired: listener, store queue, lock file and runtime descriptor.
type Daemon struct {
	cfg     Config
	log     zerolog.Logger
	store   *store.Store
	server  *server.Server
	lock    *teamLock
	teamDir string
	url     string
	token   string
	serveCh chan error

	closeOnce sync.Once
	closeErr  error
}

// Start brings the daemon up. On any failure it unwinds whatever it had
// already acquired before returning the error.
func Start(cfg Config) (*Daemon, error) {
	if cfg.Team == "" {
		return nil, fmt.Errorf("team id is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if err := fsio.SecureDir(root); err != nil {
		return nil, fmt.Errorf("failed to prepare workspace root: %w", err)
	}

	st, err := store.New(store.Config{Root: root, Logger: cfg.Logger})
	if err != nil {
		return nil, err
	}

	teamDir, err := st.EnsureTeamDirs(cfg.Team)
	if err != nil {
		st.Close()
		return nil, err
	}

	lock, err := acquireTeamLock(filepath.Join(teamDir, lockFileName))
	if err != nil {
		st.Close()
		return nil, err
	}

	token := cfg.Token
	if token == "" {
		token, err = mintToken()
		if err != nil {
			lock.release()
			st.Close()
			return nil, err
		}
	}

	lis, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Port))
	if err != nil {
		lock.release()
		st.Close()
		return nil, fmt.Errorf("failed to bind loopback listener: %w", err)
	}

	srv := server.New(server.Config{
		Store:           st,
		Token:           token,
		Version:         cfg.Version,
		DefaultLeaseTTL: cfg.DefaultLeaseTTL,
		Log:             cfg.Logger,
	})

	d := &Daemon{
		cfg:     cfg,
		log:     cfg.Logger,
		store:   st,
		server:  srv,
		lock:    lock,
		teamDir: teamDir,
		url:     fmt.Sprintf("http://%s", lis.Addr().String()),
		token:   token,
		serveCh: make(chan error, 1),
	}

	go func() {
		d.serveCh <- srv.Serve(lis)
	}()

	if err := d.writeRuntime(); err != nil {
		d.Close()
		return nil, err
	}

	d.log.Info().
		Str("team", cfg.Team).
		Str("url", d.url).
		Int("pid", os.Getpid()).
		Msg("daemon started")
	return d, nil
}

// URL returns the loopback base URL the daemon is serving on.
func (d *Daemon) URL() string { return d.url }

// Token returns the bearer credential clients must present.
func (d *Daemon) Token() string { return d.token }

// Store exposes the underlying store, mainly for embedding and tests.
func (d *Daemon) Store() *store.Store { return d.store }

// Close shuts the HTTP server down with a bounded grace period, stops the
// store queue and releases the lock and runtime descriptor. Safe to call
// more than once and after a partially failed Start.
func (d *Daemon) Close() error {
	d.closeOnce.Do(func() { d.closeErr = d.close() })
	return d.closeErr
}

func (d *Daemon) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var first error
	if err := d.server.Shutdown(ctx); err != nil && first == nil {
		first = err
	}
	select {
	case err := <-d.serveCh:
		if err != nil && first == nil {
			first = err
		}
	case <-ctx.Done():
	}
	if err := d.store.Close(); err != nil && first == nil {
		first = err
	}
	if err := os.Remove(filepath.Join(d.teamDir, runtimeFileName)); err != nil && !os.IsNotExist(err) && first == nil {
		first = err
	}
	d.lock.release()
	d.log.Info().Str("team", d.cfg.Team).Msg("daemon stopped")
	return first
}

const runtimeFileName = "runtime.json"

// writeRuntime publishes the descriptor guard clients discover. The file
// carries the credential, so it is written atomically and clamped to 0600.
func (d *Daemon) writeRuntime() error {
	path := filepath.Join(d.teamDir, runtimeFileName)
	rt := model.Runtime{
		SchemaVersion: model.SchemaVersion,
		URL:           d.url,
		Token:         d.token,
		PID:           os.Getpid(),
	}
	if err := fsio.WriteJSONAtomic(path, rt); err != nil {
		return fmt.Errorf("failed to write runtime descriptor: %w", err)
	}
	if err := fsio.SecureFile(path); err != nil {
		return fmt.Errorf("failed to restrict runtime descriptor: %w", err)
	}
	return nil
}

func mintToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to mint token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
