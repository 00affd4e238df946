package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/mkdir700/pi-team/internal/model"
)

const lockFileName = ".teamd.lock"

// teamLock is an exclusive-create lock file holding the owner's pid. Only
// one daemon per team directory may hold it at a time.
type teamLock struct {
	path string
}

// acquireTeamLock creates the lock file, reclaiming it when the recorded
// holder is demonstrably dead. Staleness is handled at most once; a second
// collision fails so two racing starters cannot both reclaim.
func acquireTeamLock(path string) (*teamLock, error) {
	for attempt := 0; ; attempt++ {
		err := createLockFile(path)
		if err == nil {
			return &teamLock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}
		pid, err := readLockHolder(path)
		if err != nil {
			return nil, err
		}
		if processAlive(pid) {
			return nil, fmt.Errorf("another daemon holds %s (PID %d)", path, pid)
		}
		if attempt > 0 {
			return nil, fmt.Errorf("failed to reclaim stale lock %s (PID %d)", path, pid)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock %s: %w", path, err)
		}
	}
}

// release removes the lock file. Best effort: a missing file means the
// lock is already gone.
func (l *teamLock) release() {
	if l == nil {
		return
	}
	_ = os.Remove(l.path)
}

func createLockFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(model.LockFile{
		PID:           os.Getpid(),
		StartedAt:     model.Timestamp(time.Now()),
		SchemaVersion: model.SchemaVersion,
	})
	if err == nil {
		_, err = f.Write(append(payload, '\n'))
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("failed to write lock %s: %w", path, err)
	}
	return nil
}

func readLockHolder(path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read lock %s: %w", path, err)
	}
	var lf model.LockFile
	if err := json.Unmarshal(raw, &lf); err != nil || lf.PID <= 0 {
		return 0, fmt.Errorf("lock %s has an unreadable payload; remove it manually if no daemon is running", path)
	}
	return lf.PID, nil
}

// processAlive probes the pid with signal 0. Only a definitive "no such
// process" counts as dead; a permission error means somebody is home.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return !errors.Is(err, os.ErrProcessDone) && !errors.Is(err, syscall.ESRCH)
}
