package ctxtimer

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"fknsrs.biz/p/catalogfill/internal/ctxclock"
	"fknsrs.biz/p/catalogfill/internal/ctxlogger"
)

// context registration

var timerKey int

// WithTimer attaches t to ctx, or a fresh timer if t is nil.
func WithTimer(ctx context.Context, t *Timer) context.Context {
	if t == nil {
		t = New()
	}

	return context.WithValue(ctx, &timerKey, t)
}

func GetTimer(ctx context.Context) *Timer {
	if v := ctx.Value(&timerKey); v != nil {
		return v.(*Timer)
	}

	return nil
}

// middleware

const (
	timerNameOuter = "ctxtimer.middleware"
)

// Register gives every request its own timer unless t is set.
func Register(t *Timer) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(WithTimer(r.Context(), t)))
	}
}

func AddLoggerHooks() func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		next(rw, r.WithContext(ctxlogger.AddHookPair(
			r.Context(),
			func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
				if err := Mark(r.Context(), timerNameOuter); err != nil {
					l.WithError(err).Warning("ctxtimer: could not mark request start")
				}

				return l
			},
			func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
				elapsed, err := Elapsed(r.Context(), timerNameOuter)
				if err != nil {
					l.WithError(err).Warning("ctxtimer: could not get elapsed time")
					return l
				}

				return l.WithFields(logrus.Fields{"http.duration": elapsed})
			},
		)))
	}
}

// main interface

var (
	ErrNoTimer = fmt.Errorf("ctxtimer: no timer found in context")
	ErrNoMark  = fmt.Errorf("ctxtimer: no mark found with this name")
)

// Mark records the current time, from the context's clock if it has one,
// under name.
func Mark(ctx context.Context, name string) error {
	t := GetTimer(ctx)
	if t == nil {
		return ErrNoTimer
	}

	t.Mark(name, ctxclock.NowOrReal(ctx))

	return nil
}

func Elapsed(ctx context.Context, name string) (time.Duration, error) {
	t := GetTimer(ctx)
	if t == nil {
		return 0, ErrNoTimer
	}

	d, err := t.Elapsed(name, ctxclock.NowOrReal(ctx))
	if err != nil {
		return 0, fmt.Errorf("ctxtimer.Elapsed: %w", err)
	}

	return d, nil
}

// timer

type Timer struct {
	rw    sync.RWMutex
	start map[string]time.Time
}

func New() *Timer {
	return &Timer{start: make(map[string]time.Time)}
}

func (t *Timer) Mark(name string, tt time.Time) {
	t.rw.Lock()
	defer t.rw.Unlock()

	t.start[name] = tt
}

func (t *Timer) Elapsed(name string, tt time.Time) (time.Duration, error) {
	t.rw.RLock()
	defer t.rw.RUnlock()

	start, ok := t.start[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrNoMark, name)
	}

	return tt.Sub(start), nil
}
