// Package transport serves the line protocol over TCP: one JSON request per
// line in, one JSON response per line out.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/habms/habms/internal/platform/dispatch"
	"github.com/habms/habms/internal/platform/session"
)

const (
	// MaxLineSize bounds a single request line. Longer lines close the
	// connection.
	MaxLineSize = 1 << 20

	writeTimeout = 10 * time.Second
)

// LineDispatcher runs one request line for a session and returns the
// encoded response.
type LineDispatcher interface {
	Dispatch(ctx context.Context, sess *session.Session, line []byte) []byte
}

type Options struct {
	Addr        string
	IdleTimeout time.Duration
	RateLimit   rate.Limit
	Burst       int
}

// Server accepts TCP connections and runs each on its own goroutine with a
// fresh anonymous session. Requests on a connection are handled in order.
type Server struct {
	opts       Options
	dispatcher LineDispatcher
	logger     zerolog.Logger

	listener net.Listener
	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

func NewServer(opts Options, dispatcher LineDispatcher, logger zerolog.Logger) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = rate.Inf
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:       opts,
		dispatcher: dispatcher,
		logger:     logger,
		conns:      make(map[net.Conn]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start listens on the configured address. The accept loop runs in the
// background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop()
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("line server listening")
	return nil
}

// Run starts the server and blocks until ctx is done, then stops it.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Stop()
}

// Stop closes the listener and every open connection, cancels in-flight
// requests and waits for all connection goroutines to return.
func (s *Server) Stop() error {
	s.cancel()

	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()

	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

// Addr returns the bound address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.logger.Error().Err(err).Msg("accept failed")
			return
		}

		s.trackConn(conn, true)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.trackConn(conn, false)
			defer conn.Close()
			s.handleConnection(conn)
		}()
	}
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	logger := s.logger.With().
		Str("conn_id", uuid.New().String()).
		Str("transport", "tcp").
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	ctx := logger.WithContext(s.ctx)

	logger.Info().Msg("connection opened")
	defer logger.Info().Msg("connection closed")

	sess := &session.Session{}
	limiter := rate.NewLimiter(s.opts.RateLimit, s.opts.Burst)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineSize)
	w := bufio.NewWriter(conn)

	for {
		if s.opts.IdleTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
		}
		if !scanner.Scan() {
			break
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var resp []byte
		if limiter.Allow() {
			resp = s.dispatcher.Dispatch(ctx, sess, line)
		} else {
			logger.Warn().Msg("rate limit exceeded")
			resp = dispatch.Encode(dispatch.Fail(dispatch.CodeRateLimited, "too many requests"))
		}

		if err := writeLine(conn, w, resp); err != nil {
			logger.Debug().Err(err).Msg("write failed")
			return
		}
	}

	if err := scanner.Err(); err != nil {
		var ne net.Error
		switch {
		case errors.Is(err, bufio.ErrTooLong):
			logger.Warn().Int("limit", MaxLineSize).Msg("request line too long")
		case errors.As(err, &ne) && ne.Timeout():
			logger.Info().Dur("idle_timeout", s.opts.IdleTimeout).Msg("idle connection closed")
		case errors.Is(err, net.ErrClosed):
		default:
			logger.Debug().Err(err).Msg("read failed")
		}
	}
}

func writeLine(conn net.Conn, w *bufio.Writer, resp []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := w.Write(resp); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
