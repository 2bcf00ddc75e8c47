package safebox

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
	"time"
)

const deleteAttempts = 3

type failureClass int

const (
	failGone failureClass = iota
	failPermission
	failBusy
	failFatal
)

// classify sorts a removal error into the classes the retry loop treats
// differently.
func classify(err error) failureClass {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return failGone
	case errors.Is(err, fs.ErrPermission):
		return failPermission
	case errors.Is(err, syscall.EBUSY),
		errors.Is(err, syscall.ETXTBSY),
		errors.Is(err, syscall.EAGAIN),
		errors.Is(err, syscall.ENOTEMPTY):
		return failBusy
	default:
		return failFatal
	}
}

// removeWithRetry calls remove up to deleteAttempts times. Permission errors
// back off 120ms per attempt, busy errors 150ms per attempt, and a target that
// is already gone counts as removed. Other errors fail immediately.
func (m *Manager) removeWithRetry(op, rel string, size int64, remove func() error) error {
	var (
		last   error
		reason string
	)
	for attempt := 1; attempt <= deleteAttempts; attempt++ {
		err := remove()
		if err == nil {
			return nil
		}
		last = err

		var backoff time.Duration
		switch classify(err) {
		case failGone:
			return nil
		case failPermission:
			reason = "access denied"
			backoff = time.Duration(attempt) * 120 * time.Millisecond
		case failBusy:
			reason = "file is in use or locked"
			backoff = time.Duration(attempt) * 150 * time.Millisecond
		default:
			return ioError(op, rel, err)
		}

		m.logger.Debug("delete attempt failed", "op", op, "path", rel, "attempt", attempt, "reason", reason, "error", err)
		if attempt < deleteAttempts {
			m.sleep(backoff)
		}
	}

	return &Error{
		Kind:    KindLockedOrInUse,
		Op:      op,
		Path:    rel,
		Size:    size,
		Message: fmt.Sprintf("failed to delete (size=%d bytes): %s", size, reason),
		Err:     last,
	}
}
