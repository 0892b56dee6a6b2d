package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrLockHeld is returned by TryLock while another holder owns the lock
var ErrLockHeld = errors.New("lock held by another process")

// FileLock guards a file shared between threadline processes, such as the
// chat history. The lock is a sibling "<path>.lock" file created exclusively
// and flocked while held.
type FileLock struct {
	path     string
	lockPath string
	file     *os.File
}

// LockConfig controls how long Lock waits
type LockConfig struct {
	Timeout    time.Duration
	RetryDelay time.Duration
	// StaleAfter is the age after which a lock whose owner is gone may be
	// taken over
	StaleAfter time.Duration
}

// DefaultLockConfig returns the lock timings used for history writes
func DefaultLockConfig() LockConfig {
	return LockConfig{
		Timeout:    5 * time.Second,
		RetryDelay: 50 * time.Millisecond,
		StaleAfter: time.Minute,
	}
}

// NewFileLock creates an unlocked lock for path
func NewFileLock(path string) *FileLock {
	return &FileLock{
		path:     path,
		lockPath: path + ".lock",
	}
}

// Lock retries TryLock until it succeeds, ctx is done, or cfg.Timeout passes
func (fl *FileLock) Lock(ctx context.Context, cfg LockConfig) error {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	for {
		err := fl.TryLock(cfg.StaleAfter)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return err
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout acquiring lock on %s: %w", fl.path, ctx.Err())
		case <-time.After(cfg.RetryDelay):
		}
	}
}

// TryLock takes the lock without waiting. A lock file older than staleAfter
// whose recorded pid is no longer running is removed first.
func (fl *FileLock) TryLock(staleAfter time.Duration) error {
	if fl.file != nil {
		return errors.New("file is already locked")
	}

	if err := os.MkdirAll(filepath.Dir(fl.lockPath), 0700); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	file, err := os.OpenFile(fl.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if errors.Is(err, os.ErrExist) {
		if !fl.isStale(staleAfter) {
			return ErrLockHeld
		}
		os.Remove(fl.lockPath)
		file, err = os.OpenFile(fl.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if errors.Is(err, os.ErrExist) {
			return ErrLockHeld
		}
	}
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		os.Remove(fl.lockPath)
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrLockHeld
		}
		return fmt.Errorf("failed to apply system lock: %w", err)
	}

	if _, err := fmt.Fprintf(file, "pid:%d\ntime:%s\n", os.Getpid(), time.Now().Format(time.RFC3339)); err != nil {
		fl.release(file)
		return fmt.Errorf("failed to write lock info: %w", err)
	}

	fl.file = file
	return nil
}

// Unlock releases the lock; unlocking an unheld lock is a no-op
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	err := fl.release(fl.file)
	fl.file = nil
	return err
}

// IsLocked reports whether this FileLock holds the lock
func (fl *FileLock) IsLocked() bool {
	return fl.file != nil
}

func (fl *FileLock) release(file *os.File) error {
	var errs []error
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("failed to release system lock: %w", err))
	}
	if err := file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close lock file: %w", err))
	}
	if err := os.Remove(fl.lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("failed to remove lock file: %w", err))
	}
	return errors.Join(errs...)
}

func (fl *FileLock) isStale(staleAfter time.Duration) bool {
	info, err := os.Stat(fl.lockPath)
	if err != nil {
		return true
	}
	if staleAfter <= 0 || time.Since(info.ModTime()) < staleAfter {
		return false
	}

	pid, ok := readLockPID(fl.lockPath)
	return !ok || !processRunning(pid)
}

func readLockPID(lockPath string) (int, bool) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, false
	}
	first, _, _ := strings.Cut(string(data), "\n")
	pid, err := strconv.Atoi(strings.TrimPrefix(first, "pid:"))
	if err != nil {
		return 0, false
	}
	return pid, true
}

func processRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// signal 0 only checks existence
	return process.Signal(syscall.Signal(0)) == nil
}

// WithLock runs fn while holding the lock for path
func WithLock(ctx context.Context, path string, cfg LockConfig, fn func() error) (err error) {
	lock := NewFileLock(path)
	if err := lock.Lock(ctx, cfg); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
	}()
	return fn()
}

// AtomicWrite replaces path with data through a temporary file while
// holding the path's lock
func AtomicWrite(ctx context.Context, path string, data []byte, perm os.FileMode) error {
	return WithLock(ctx, path, DefaultLockConfig(), func() error {
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, data, perm); err != nil {
			return fmt.Errorf("failed to write temporary file: %w", err)
		}
		if err := os.Rename(tmp, path); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("failed to rename temporary file: %w", err)
		}
		return nil
	})
}
