// Package dispatch turns request lines into handler calls. It consults the
// session gate before any handler runs and converts every failure, panics
// included, into an ERR response so the connection's worker keeps serving.
package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog"

	"github.com/habms/habms/internal/platform/session"
)

// HandlerFunc serves one action. The returned value becomes the response
// data. sess is the caller's own session; login and logout mutate it.
type HandlerFunc func(ctx context.Context, sess *session.Session, req *Request) (interface{}, error)

// Registrar is implemented by domain handlers that contribute actions.
type Registrar interface {
	RegisterActions(d *Dispatcher)
}

// Dispatcher routes actions to handlers.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   zerolog.Logger
}

// New creates a Dispatcher that logs through logger unless the request
// context carries its own zerolog logger.
func New(logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Handle registers fn for action. Every action must appear in the session
// gate's table and may be registered only once.
func (d *Dispatcher) Handle(action string, fn HandlerFunc) {
	if !session.Known(action) {
		panic(fmt.Sprintf("dispatch: action %q has no authorization rule", action))
	}
	if _, dup := d.handlers[action]; dup {
		panic(fmt.Sprintf("dispatch: action %q registered twice", action))
	}
	d.handlers[action] = fn
}

// Register lets each registrar add its actions.
func (d *Dispatcher) Register(regs ...Registrar) {
	for _, r := range regs {
		r.RegisterActions(d)
	}
}

// Has reports whether a handler exists for action.
func (d *Dispatcher) Has(action string) bool {
	_, ok := d.handlers[action]
	return ok
}

// Dispatch decodes line, authorizes it against sess, runs the handler and
// returns the encoded response.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, line []byte) []byte {
	return Encode(d.Serve(ctx, sess, line))
}

// Serve is Dispatch without the final encoding step.
func (d *Dispatcher) Serve(ctx context.Context, sess *session.Session, line []byte) (resp Response) {
	if sess == nil {
		sess = &session.Session{}
	}
	start := time.Now()
	logger := d.loggerFor(ctx)
	action := ""

	defer func() {
		if r := recover(); r != nil {
			var stack [4096]byte
			n := runtime.Stack(stack[:], false)
			logger.Error().
				Str("action", action).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(stack[:n])).
				Msg("panic recovered")
			resp = Fail(CodeInternal, "internal error")
		}

		evt := logger.Info()
		if resp.Status != StatusOK {
			evt = logger.Warn().Str("code", string(resp.Code))
			if resp.Code == CodeInternal {
				evt = logger.Error().Str("code", string(resp.Code))
			}
		}
		evt.
			Str("action", action).
			Str("identity", sess.Identity).
			Str("status", resp.Status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}()

	req, err := DecodeRequest(line)
	if err != nil {
		return d.failure(logger, err)
	}
	action = req.Action

	fn, ok := d.handlers[req.Action]
	if !ok {
		return Fail(CodeUnknownAction, fmt.Sprintf("unknown action %q", req.Action))
	}

	switch session.Authorize(sess, req.Action) {
	case session.AuthRequired:
		return Fail(CodeAuthRequired, "login required")
	case session.Forbidden:
		return Fail(CodeForbidden, "insufficient privileges")
	}

	data, err := fn(ctx, sess, req)
	if err != nil {
		return d.failure(logger, err)
	}
	return OK(data)
}

func (d *Dispatcher) failure(logger *zerolog.Logger, err error) Response {
	if e, ok := AsError(err); ok && e.Code != CodeInternal {
		return Fail(e.Code, e.Message)
	}
	logger.Error().Err(err).Msg("request failed")
	return Fail(CodeInternal, "internal error")
}

func (d *Dispatcher) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &d.logger
}

// Ping answers the liveness probe on the line protocol.
func Ping(_ context.Context, _ *session.Session, _ *Request) (interface{}, error) {
	return map[string]string{"pong": time.Now().UTC().Format(time.RFC3339)}, nil
}
