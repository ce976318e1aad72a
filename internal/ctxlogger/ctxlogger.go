package ctxlogger

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// context registration

var loggerKey int

func WithLogger(ctx context.Context, l logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, &loggerKey, l)
}

func GetLogger(ctx context.Context) logrus.FieldLogger {
	if v := ctx.Value(&loggerKey); v != nil {
		return v.(logrus.FieldLogger)
	}

	return logrus.StandardLogger()
}

// WithFields narrows the context's logger.
func WithFields(ctx context.Context, fields logrus.Fields) context.Context {
	return WithLogger(ctx, GetLogger(ctx).WithFields(fields))
}

// hooks

type Hook interface {
	Before(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger
	After(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger
}

type HookFunc func(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger

// HookPair adapts two optional funcs to Hook.
type HookPair struct {
	BeforeFunc HookFunc
	AfterFunc  HookFunc
}

func NewHookPair(beforeFunc, afterFunc HookFunc) *HookPair {
	return &HookPair{BeforeFunc: beforeFunc, AfterFunc: afterFunc}
}

func (p *HookPair) Before(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
	if p.BeforeFunc == nil {
		return l
	}

	return p.BeforeFunc(rw, r, l)
}

func (p *HookPair) After(rw http.ResponseWriter, r *http.Request, l logrus.FieldLogger) logrus.FieldLogger {
	if p.AfterFunc == nil {
		return l
	}

	return p.AfterFunc(rw, r, l)
}

// hooks registered by later middleware are appended to the same slice, so
// the request context carries a pointer to it.
type hookList []Hook

var hookListKey int

func getHookList(ctx context.Context) *hookList {
	if v := ctx.Value(&hookListKey); v != nil {
		return v.(*hookList)
	}

	return nil
}

func AddHook(ctx context.Context, hook Hook) context.Context {
	hooks := getHookList(ctx)
	if hooks == nil {
		hooks = &hookList{}
		ctx = context.WithValue(ctx, &hookListKey, hooks)
	}

	*hooks = append(*hooks, hook)

	return ctx
}

func AddHookPair(ctx context.Context, beforeFunc, afterFunc HookFunc) context.Context {
	return AddHook(ctx, NewHookPair(beforeFunc, afterFunc))
}

// middleware

const RequestIDHeader = "X-Request-Id"

var requestCounter uint64

func requestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" && len(id) <= 64 {
		return id
	}

	return strconv.FormatUint(atomic.AddUint64(&requestCounter, 1), 36)
}

func Register(l logrus.FieldLogger) func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		ctx := context.WithValue(r.Context(), &hookListKey, &hookList{})

		next(rw, r.WithContext(WithLogger(ctx, l)))
	}
}

// Log writes a line when the request starts and one when it finishes,
// with the request id echoed back in the response headers. Server errors
// are logged at error level and client errors at warning level.
func Log() func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
	return func(rw http.ResponseWriter, r *http.Request, next http.HandlerFunc) {
		id := requestID(r)
		rw.Header().Set(RequestIDHeader, id)

		var l logrus.FieldLogger = GetLogger(r.Context()).WithFields(logrus.Fields{
			"http.request_id": id,
			"http.method":     r.Method,
			"http.path":       r.URL.String(),
			"http.host":       r.Host,
			"http.referer":    r.Header.Get("referer"),
			"http.user_agent": r.Header.Get("user-agent"),
		})

		hooks := getHookList(r.Context())
		if hooks != nil {
			for _, h := range *hooks {
				l = h.Before(rw, r, l)
			}
		}

		r = r.WithContext(WithLogger(r.Context(), l))

		defer func() {
			status := 0
			if nrw, ok := rw.(interface {
				Status() int
				Size() int
			}); ok {
				status = nrw.Status()
				l = l.WithFields(logrus.Fields{
					"http.status_code":   status,
					"http.response_size": nrw.Size(),
				})
			}

			if hooks != nil {
				for _, h := range *hooks {
					l = h.After(rw, r, l)
				}
			}

			switch {
			case status >= 500:
				l.Error("http request finished")
			case status >= 400:
				l.Warn("http request finished")
			default:
				l.Info("http request finished")
			}
		}()

		l.Debug("http request started")

		next(rw, r)
	}
}
