package listener

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/localrest/internal/observability"
)

// Kind identifies one of the two listeners.
type Kind string

const (
	// KindSecure is the TLS listener.
	KindSecure Kind = "secure"
	// KindInsecure is the optional plaintext listener.
	KindInsecure Kind = "insecure"
)

// server is one bound listener and the HTTP server running on it.
type server struct {
	kind   Kind
	ln     net.Listener
	srv    *http.Server
	ready  chan struct{}
	done   chan struct{}
	logger observability.Logger
}

func newServer(kind Kind, ln net.Listener, handler http.Handler, tlsConfig *tls.Config, logger observability.Logger) *server {
	logger = logger.With(
		observability.String("listener", string(kind)),
		observability.String("address", ln.Addr().String()),
	)

	return &server{
		kind: kind,
		ln:   ln,
		srv: &http.Server{
			Handler:           handler,
			TLSConfig:         tlsConfig,
			ReadTimeout:       30 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20, // 1MB
			ErrorLog:          zap.NewStdLog(observability.Zap(logger)),
		},
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// addr returns the bound address.
func (s *server) addr() string {
	return s.ln.Addr().String()
}

// start serves on a new goroutine. ready is closed once the serve loop owns
// the socket.
func (s *server) start() {
	go s.serve()
}

func (s *server) serve() {
	defer close(s.done)

	close(s.ready)

	var err error
	if s.srv.TLSConfig != nil {
		err = s.srv.ServeTLS(s.ln, "", "")
	} else {
		err = s.srv.Serve(s.ln)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("listener error", observability.Error(err))
	}
}

// stop shuts the server down gracefully within ctx, then forces the socket
// closed and waits for the serve loop to exit.
func (s *server) stop(ctx context.Context) error {
	s.logger.Info("stopping listener")

	err := s.srv.Shutdown(ctx)
	if err != nil {
		if closeErr := s.srv.Close(); closeErr != nil {
			s.logger.Warn("failed to close listener", observability.Error(closeErr))
		}
	}

	// Serve may not have tracked the socket yet; release the port now.
	_ = s.ln.Close()
	<-s.done

	s.logger.Info("listener stopped")

	return err
}
