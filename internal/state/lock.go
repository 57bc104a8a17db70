package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	// LockFileName is the name of the lock file next to the state file
	LockFileName = "state.lock"

	// LockPollInterval is how often a waiting writer retries the lock
	LockPollInterval = 25 * time.Millisecond

	// MaxLockWait is the maximum time to wait for a lock
	MaxLockWait = 10 * time.Second
)

// errLocked is returned by tryLock when another handle holds the lock
var errLocked = errors.New("lock held")

// LockInfo contains information about who holds the lock
type LockInfo struct {
	ID        string    `json:"id"`
	Operation string    `json:"operation"` // deploy, logs, history, etc.
	Who       string    `json:"who"`       // user@hostname
	Created   time.Time `json:"created"`
	PID       int       `json:"pid"`
}

// fileLock serialises writers of the state file across processes. The OS
// lock is tied to the open handle, so a crashed holder never leaves it stale.
type fileLock struct {
	path string
	file *os.File
	info *LockInfo
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path}
}

func newLockInfo(operation string) *LockInfo {
	hostname, _ := os.Hostname()
	return &LockInfo{
		ID:        fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano()),
		Operation: operation,
		Who:       fmt.Sprintf("%s@%s", GetCurrentUser(), hostname),
		Created:   time.Now(),
		PID:       os.Getpid(),
	}
}

// acquire takes the lock, polling until ctx is done or MaxLockWait elapses
func (l *fileLock) acquire(ctx context.Context, operation string) error {
	ctx, cancel := context.WithTimeout(ctx, MaxLockWait)
	defer cancel()

	for {
		err := l.tryAcquire(operation)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errLocked) {
			return err
		}

		select {
		case <-ctx.Done():
			if holder, readErr := l.holder(); readErr == nil && holder != nil {
				return fmt.Errorf("state is locked by %s (operation: %s, started: %s ago). "+
					"If you believe this is stale, delete %s",
					holder.Who, holder.Operation,
					time.Since(holder.Created).Round(time.Second), l.path)
			}
			return fmt.Errorf("timed out waiting for state lock: %w", ctx.Err())
		case <-time.After(LockPollInterval):
		}
	}
}

func (l *fileLock) tryAcquire(operation string) error {
	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := tryLock(file); err != nil {
		file.Close()
		return err
	}

	info := newLockInfo(operation)
	if err := writeLockInfo(file, info); err != nil {
		unlock(file)
		file.Close()
		return err
	}
	l.file = file
	l.info = info
	return nil
}

// release drops the lock. The lock file itself stays in place.
func (l *fileLock) release() error {
	if l.file == nil {
		return nil
	}
	err := unlock(l.file)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	l.info = nil
	return err
}

// holder reads the lock info written by the current holder
func (l *fileLock) holder() (*LockInfo, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func writeLockInfo(file *os.File, info *LockInfo) error {
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek lock file: %w", err)
	}

	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}
