package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/arl/statsviz"
	"github.com/okieraised/relay-controller/internal/config"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

func getMonitoringPort() int {
	port := viper.GetInt(config.ControllerMonitoringPort)
	if port <= 0 {
		return constants.ControllerDefaultMonitoringPort
	}
	return port
}

// NewMux serves statsviz under /debug/statsviz and, when metrics is non-nil,
// the prometheus registry at /metrics.
func NewMux(metrics http.Handler) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	if err := statsviz.Register(mux); err != nil {
		return nil, errors.Wrap(err, "failed to register statsviz")
	}
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	return mux, nil
}

func NewMonitoringServer(ctx context.Context, metrics http.Handler) error {
	log.Default().Info("Starting monitoring server")
	mux, err := NewMux(metrics)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", getMonitoringPort()),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Default().Info("Shutting down monitoring server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
		}
		return nil
	case err := <-errCh:
		wErr := errors.Wrap(err, "failed to start monitoring server")
		log.Default().Error(wErr.Error())
		return wErr
	}
}
