package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "pullbot/pkg/logx"
	"pullbot/pkg/tgui"
)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					reqLogger(log, req).Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
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
			d := time.Since(start)

			logger := reqLogger(log, req)
			fields := []logx.Field{logx.Duration("dur", d)}
			if err != nil {
				logger.Warn("request failed", append(fields, logx.Err(err))...)
				return err
			}
			// Pulls legitimately take seconds; only slow ones reach INFO.
			if d >= 750*time.Millisecond {
				logger.Info("request ok", fields...)
			} else {
				logger.Debug("request ok", fields...)
			}
			return nil
		}
	}
}

// MWReplyOnError tells the user a command failed, with the request id so the
// operator can find the log line. It must wrap MWPanicRecover to see panics.
func MWReplyOnError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil || errors.Is(err, context.Canceled) || req == nil || req.Adapter == nil {
				return err
			}
			body := tgui.Esc("Something went wrong while running this command.")
			if errors.Is(err, context.DeadlineExceeded) {
				body = tgui.Esc("The command took too long and was stopped.")
			}
			_ = req.Reply(ctx, tgui.Card{
				Icon:   "⚠️",
				Title:  "Command failed",
				Body:   body,
				Footer: tgui.Concat(tgui.Esc("ref "), tgui.Code(req.ReqID)),
			}.HTML())
			return err
		}
	}
}

func reqLogger(log logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return log
}
