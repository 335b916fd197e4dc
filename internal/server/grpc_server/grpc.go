package grpc_server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"github.com/okieraised/relay-controller/internal/config"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
)

func getGRPCPort() int {
	port := viper.GetInt(config.ControllerGRPCPort)
	if port <= 0 {
		return constants.ControllerDefaultGRPCPort
	}
	return port
}

// interceptorLogger adapts zap to the go-grpc-middleware logging interface.
func interceptorLogger(l *zap.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		zf := make([]zap.Field, 0, len(fields)/2)
		for i := 0; i+1 < len(fields); i += 2 {
			zf = append(zf, zap.Any(fmt.Sprint(fields[i]), fields[i+1]))
		}
		lg := l.WithOptions(zap.AddCallerSkip(1)).With(zf...)
		switch lvl {
		case logging.LevelDebug:
			lg.Debug(msg)
		case logging.LevelInfo:
			lg.Info(msg)
		case logging.LevelWarn:
			lg.Warn(msg)
		default:
			lg.Error(msg)
		}
	})
}

func recoveryHandler(p any) error {
	log.Default().Error(fmt.Sprintf("panic recovered: %v", p))
	return status.Errorf(codes.Internal, "internal server error")
}

func serverTLS() (*tls.Config, error) {
	certFile, keyFile := viper.GetString(config.ControllerTLSCertFile), viper.GetString(config.ControllerTLSKeyFile)
	if certFile == "" || keyFile == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load server cert file")
	}
	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}
	if caFile := viper.GetString(config.ControllerTLSClientCAFile); caFile != "" {
		caBytes, err := os.ReadFile(caFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read client CA file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("failed to append client CA to pool")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg, nil
}

// NewGRPCServer serves the health reporter plus whatever registerServices adds,
// blocks until ctx is done, then graceful-stops.
func NewGRPCServer(ctx context.Context, hr *HealthReporter, registerServices func(s *grpc.Server)) error {
	log.Default().Info("Initializing gRPC server")
	tlsCfg, err := serverTLS()
	if err != nil {
		return err
	}

	lis, err := net.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", getGRPCPort()))
	if err != nil {
		wErr := errors.Wrap(err, "failed to listen")
		log.Default().Error(wErr.Error())
		return wErr
	}

	grpcLogger := interceptorLogger(log.Component("grpc").Logger)
	serverOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(4 << 20),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle:     5 * time.Minute,
			MaxConnectionAge:      2 * time.Hour,
			MaxConnectionAgeGrace: 30 * time.Second,
			Time:                  2 * time.Minute,
			Timeout:               20 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(
			keepalive.EnforcementPolicy{
				MinTime:             1 * time.Minute,
				PermitWithoutStream: true,
			}),
		grpc.ChainUnaryInterceptor(
			logging.UnaryServerInterceptor(grpcLogger, logging.WithLogOnEvents(logging.FinishCall)),
			grpc_recovery.UnaryServerInterceptor(grpc_recovery.WithRecoveryHandler(recoveryHandler)),
		),
		grpc.ChainStreamInterceptor(
			logging.StreamServerInterceptor(grpcLogger, logging.WithLogOnEvents(logging.FinishCall)),
			grpc_recovery.StreamServerInterceptor(grpc_recovery.WithRecoveryHandler(recoveryHandler)),
		),
	}
	if tlsCfg != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}

	grpcServer := grpc.NewServer(serverOpts...)
	if hr == nil {
		hr = NewHealthReporter(nil)
	}
	hr.Register(grpcServer)
	if registerServices != nil {
		registerServices(grpcServer)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Default().Info(fmt.Sprintf("Started gRPC server on %s", lis.Addr()))
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		log.Default().Info("Shutting down gRPC server")
		hr.Shutdown()
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()

		// hard stop if graceful takes too long
		t := time.NewTimer(3 * time.Second)
		defer t.Stop()
		select {
		case <-stopped:
			return nil
		case <-t.C:
			log.Default().Info("Graceful stop timed out, forcing shutdown")
			grpcServer.Stop()
			return nil
		}
	case err = <-errCh:
		return errors.Wrap(err, "failed to start gRPC server")
	}
}
