// Package lock keeps one chatsyncd per session with an advisory flock on
// the session directory's LOCK file.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file inside a session directory.
const FileName = "LOCK"

// ErrHeld matches any LockHeldError with errors.Is.
var ErrHeld = errors.New("session lock held")

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID     int
	Session string
	Since   time.Time
}

// LockHeldError is returned when another process holds the session lock.
type LockHeldError struct {
	Holder
	Path string
}

func (e *LockHeldError) Error() string {
	if e.PID == 0 {
		return fmt.Sprintf("session lock held by another process (%s)", e.Path)
	}
	return fmt.Sprintf("session %q already served by PID %d since %s (%s)",
		e.Session, e.PID, e.Since.Local().Format(time.DateTime), e.Path)
}

// Is reports ErrHeld.
func (e *LockHeldError) Is(target error) bool { return target == ErrHeld }

// Lock represents an acquired session lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock of a session directory, creating the
// directory if needed. Returns a *LockHeldError if another process holds it.
func Acquire(sessionDir string) (*Lock, error) {
	lockPath := filepath.Join(sessionDir, FileName)

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("flock %s: %w", lockPath, err)
		}
		held := &LockHeldError{Path: lockPath}
		if h, err := ReadHolder(sessionDir); err == nil {
			held.Holder = *h
		}
		return nil, held
	}

	h := Holder{PID: os.Getpid(), Session: filepath.Base(sessionDir), Since: time.Now().UTC()}
	if err := write(f, h); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: lockPath}, nil
}

func write(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nsession=%s\ntime=%s\n", h.PID, h.Session, h.Since.Format(time.RFC3339))
	return err
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove lock file before closing to avoid stale files.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadHolder parses the lock file of a session directory. A missing file
// returns an error wrapping fs.ErrNotExist.
func ReadHolder(sessionDir string) (*Holder, error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, FileName))
	if err != nil {
		return nil, err
	}
	return parse(string(data)), nil
}

// Running reports whether a process currently holds the session lock. It
// probes with a shared non-blocking flock, so it never disturbs the holder.
func Running(sessionDir string) bool {
	f, err := os.Open(filepath.Join(sessionDir, FileName))
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err != nil {
		return errors.Is(err, syscall.EWOULDBLOCK)
	}
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	return false
}

func parse(content string) *Holder {
	h := &Holder{}
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "session":
			h.Session = value
		case "time":
			h.Since, _ = time.Parse(time.RFC3339, value)
		}
	}
	return h
}
