package facade

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
)

// Server wraps the façade router with the teacher's own logging middleware
// convention (gorilla/handlers.LoggingHandler writing to stdout).
type Server struct {
	inner *http.Server
	log   *slog.Logger
}

func NewServer(addr string, f *Facade, log *slog.Logger) *Server {
	logged := handlers.LoggingHandler(os.Stdout, f.NewRouter())
	return &Server{
		inner: &http.Server{
			Addr:         addr,
			Handler:      logged,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		log: log.With(slog.String("component", "facade-server")),
	}
}

// Run starts the server and blocks until it exits or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("facade listening", "addr", s.inner.Addr)
		errCh <- s.inner.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.inner.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
