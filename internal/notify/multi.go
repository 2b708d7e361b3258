package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v5"
)

var ErrNoNotifier = errors.New("no emergency notifier configured")

// Multi fans a notice out to every notifier. A notifier that already
// delivered an alert is skipped when the same alert is retried.
type Multi struct {
	notifiers []Notifier

	mu        sync.Mutex
	delivered map[string]map[int]struct{}
}

func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{
		notifiers: notifiers,
		delivered: make(map[string]map[int]struct{}),
	}
}

func (m *Multi) Len() int {
	return len(m.notifiers)
}

func (m *Multi) Notify(ctx context.Context, notice EmergencyNotice) error {
	if len(m.notifiers) == 0 {
		return backoff.Permanent(ErrNoNotifier)
	}
	var errs []error
	retryable := false
	for i, n := range m.notifiers {
		if m.done(notice.AlertID, i) {
			continue
		}
		err := n.Notify(ctx, notice)
		if err == nil {
			m.markDone(notice.AlertID, i)
			continue
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		} else {
			retryable = true
		}
		errs = append(errs, fmt.Errorf("notifier %d: %w", i, err))
	}
	if len(errs) == 0 {
		m.Forget(notice.AlertID)
		return nil
	}
	// a permanent failure of one notifier must not stop retries of another
	if retryable {
		return errors.Join(errs...)
	}
	m.Forget(notice.AlertID)
	return backoff.Permanent(errors.Join(errs...))
}

func (m *Multi) done(alertID string, i int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.delivered[alertID][i]
	return ok
}

func (m *Multi) markDone(alertID string, i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delivered[alertID] == nil {
		m.delivered[alertID] = make(map[int]struct{})
	}
	m.delivered[alertID][i] = struct{}{}
}

func (m *Multi) Forget(alertID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.delivered, alertID)
}
