// README: HTTP server lifecycle; serves until ctx is cancelled, then drains.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"foodbridge/internal/log"
)

const shutdownTimeout = 10 * time.Second

func Serve(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "http server listening", log.ID("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	log.Info(ctx, "http server shutting down")
	return server.Shutdown(shutdownCtx)
}
