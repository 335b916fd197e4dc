package rest_server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/okieraised/relay-controller/internal/config"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/server/rest_server/middlewares"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const shutdownTimeout = 3 * time.Second

func getHTTPPort() int {
	port := viper.GetInt(config.ControllerHTTPPort)
	if port <= 0 {
		return constants.ControllerDefaultHTTPPort
	}
	return port
}

func getHTTPRequestTimeout() time.Duration {
	timeout := constants.DefaultHTTPRequestTimeout
	if viper.GetInt(config.ControllerHTTPRequestTimeout) > 0 {
		timeout = viper.GetInt(config.ControllerHTTPRequestTimeout)
	}

	return time.Duration(timeout) * time.Second
}

// NewRouter builds the gin engine with the middleware chain installed ahead of
// the routes registered by registerRoutes.
func NewRouter(registerRoutes func(engine *gin.Engine)) *gin.Engine {
	if mode := viper.GetString(config.ControllerHTTPMode); mode != "" {
		gin.SetMode(mode)
	}
	router := gin.New()

	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodGet, http.MethodDelete},
		AllowHeaders: []string{constants.HeaderAccessControlAllowHeaders, constants.HeaderOrigin, constants.HeaderAccept,
			constants.HeaderXRequestedWith, constants.HeaderContentType, constants.HeaderAuthorization, constants.HeaderXAPIKey,
			constants.HeaderXRequestID},
		ExposeHeaders: []string{constants.HeaderContentLength, constants.HeaderXRequestID},
	}))
	router.Use(
		middlewares.RequestIDMW(),
		middlewares.RecoveryMW(),
		middlewares.RequestLoggingMW(log.Component("http").Logger),
		middlewares.RequestTimeoutMW(getHTTPRequestTimeout()),
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/ws"})),
	)
	router.NoRoute(middlewares.NoRouteMW())

	if registerRoutes != nil {
		registerRoutes(router)
	}
	return router
}

func NewHTTPServer(ctx context.Context, registerRoutes func(engine *gin.Engine)) error {
	log.Default().Info("Initializing HTTP server")

	serverAddr := fmt.Sprintf("0.0.0.0:%d", getHTTPPort())
	srv := &http.Server{
		Addr:              serverAddr,
		Handler:           NewRouter(registerRoutes),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		certFile, keyFile := viper.GetString(config.ControllerTLSCertFile), viper.GetString(config.ControllerTLSKeyFile)
		if certFile != "" && keyFile != "" {
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Default().Info(fmt.Sprintf("Started HTTP server on %s", serverAddr))

	select {
	case <-ctx.Done():
		log.Default().Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Default().Info("Graceful stop timed out, forcing shutdown")
			_ = srv.Close()
		}
		return nil
	case err := <-errCh:
		return errors.Wrap(err, "failed to start HTTP server")
	}
}
