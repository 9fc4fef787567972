package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "remindbot/pkg/logx"
)

// Middleware wraps a handler.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain applies m so that m[0] is the outermost wrapper.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := range m {
		h = m[len(m)-1-i](h)
	}
	return h
}

// slowRequest is the duration from which a successful request logs at INFO.
const slowRequest = 750 * time.Millisecond

func MWTimeout(d time.Duration) Middleware {
	if d <= 0 {
		return func(next HandlerFunc) HandlerFunc { return next }
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error and tells the user
// the command broke.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				reqLogger(req, log).Error("handler panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("handler panic: %v", r)
				if req != nil && req.sender != nil {
					_ = req.ReplyPlain(context.WithoutCancel(ctx), "internal error, the command did not finish")
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			l := reqLogger(req, log).With(logx.Duration("dur", time.Since(start)))
			switch {
			case err != nil:
				l.Warn("request failed", logx.Err(err))
			case time.Since(start) >= slowRequest:
				l.Info("request ok")
			default:
				l.Debug("request ok")
			}
			return err
		}
	}
}

func reqLogger(req *Request, fallback logx.Logger) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}
