package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var errNoStore = errors.New("rate limiter store is nil")

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	WindowState(ctx context.Context, key string) (int64, time.Duration, error)
}

// window is one fixed-window budget. Keys look like checkout:<label>:<client>.
type window struct {
	label  string
	span   time.Duration
	budget int64
}

// Limiter caps how often one client may open checkouts. Every configured
// window must have room for an attempt to pass; a zero budget disables that
// window.
type Limiter struct {
	store   WindowStore
	windows []window
}

func NewLimiter(store WindowStore, perMinute, per10Sec int) *Limiter {
	l := &Limiter{store: store}
	if perMinute > 0 {
		l.windows = append(l.windows, window{label: "min", span: time.Minute, budget: int64(perMinute)})
	}
	if per10Sec > 0 {
		l.windows = append(l.windows, window{label: "10s", span: 10 * time.Second, budget: int64(per10Sec)})
	}
	return l
}

// AllowCheckout counts one attempt for clientKey in every window. When any
// window is over budget the attempt is refused and the returned seconds say
// when the longest blocked window reopens.
func (l *Limiter) AllowCheckout(ctx context.Context, clientKey string) (int64, bool, error) {
	clientKey, err := l.check(clientKey)
	if err != nil {
		return 0, false, err
	}

	var retryAfterSec int64
	for _, w := range l.windows {
		count, ttl, err := l.store.IncrementWindow(ctx, w.key(clientKey), w.span)
		if err != nil {
			return 0, false, fmt.Errorf("checkout window %s: %w", w.label, err)
		}
		if count > w.budget {
			retryAfterSec = max(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if retryAfterSec > 0 {
		return retryAfterSec, false, nil
	}
	return 0, true, nil
}

// RetryAfterCheckout reports how long clientKey must wait without counting an
// attempt. Zero means the next attempt would pass.
func (l *Limiter) RetryAfterCheckout(ctx context.Context, clientKey string) (int64, error) {
	clientKey, err := l.check(clientKey)
	if err != nil {
		return 0, err
	}

	var retryAfterSec int64
	for _, w := range l.windows {
		count, ttl, err := l.store.WindowState(ctx, w.key(clientKey))
		if err != nil {
			return 0, fmt.Errorf("checkout window %s: %w", w.label, err)
		}
		if count >= w.budget {
			retryAfterSec = max(retryAfterSec, ceilSeconds(ttl))
		}
	}
	return retryAfterSec, nil
}

func (l *Limiter) check(clientKey string) (string, error) {
	clientKey = strings.TrimSpace(clientKey)
	if clientKey == "" {
		return "", fmt.Errorf("invalid client key")
	}
	if l.store == nil {
		return "", errNoStore
	}
	return clientKey, nil
}

func (w window) key(clientKey string) string {
	return "checkout:" + w.label + ":" + clientKey
}

// ceilSeconds rounds up so a client is never told to retry early.
func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64((d + time.Second - 1) / time.Second)
	if sec <= 0 {
		sec = 1
	}
	return sec
}
