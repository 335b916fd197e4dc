package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/okieraised/relay-controller/internal/config"
	"github.com/okieraised/relay-controller/internal/constants"
	"github.com/okieraised/relay-controller/internal/infrastructure/local_cache"
	"github.com/okieraised/relay-controller/internal/infrastructure/log"
	"github.com/okieraised/relay-controller/internal/infrastructure/mqtt_client"
	"github.com/okieraised/relay-controller/internal/infrastructure/nats_client"
	"github.com/okieraised/relay-controller/internal/infrastructure/pg_client"
	"github.com/okieraised/relay-controller/internal/infrastructure/s3_client"
	"github.com/okieraised/relay-controller/internal/infrastructure/tracer_client"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var once sync.Once

func mirrorEnvCase() {
	for _, kv := range os.Environ() {
		i := strings.IndexByte(kv, '=')
		if i <= 0 {
			continue
		}
		k, v := kv[:i], kv[i+1:]
		_ = os.Setenv(strings.ToUpper(k), v)
		_ = os.Setenv(strings.ToLower(k), v)
	}
}

func loadDotenvIfExists(filename string, overload bool) (bool, error) {
	if _, err := os.Stat(filename); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if overload {
		return true, godotenv.Overload(filename)
	}
	return true, godotenv.Load(filename)
}

func readConfigIfExists(path string, merge bool) (bool, error) {
	viper.SetConfigFile(path)
	var err error
	if merge {
		err = viper.MergeInConfig()
	} else {
		err = viper.ReadInConfig()
	}
	if err == nil {
		return true, nil
	}
	var nf viper.ConfigFileNotFoundError
	if errors.As(err, &nf) || os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func detectProfile() string {
	for _, k := range []string{"APP_ENV", "app_env"} {
		if v, ok := os.LookupEnv(k); ok && v != "" {
			return strings.ToLower(v)
		}
	}
	return "dev"
}

// Load layers .env, .<profile>.env, conf/config.toml and
// conf/<profile>.config.toml, then lets the environment override any key.
// Every source is optional; a controller can run on defaults alone.
func Load() error {
	envFound, err := loadDotenvIfExists(".env", false)
	if err != nil {
		return err
	}
	if envFound {
		mirrorEnvCase()
	}
	profile := detectProfile()

	pfFound, err := loadDotenvIfExists("."+profile+".env", true)
	if err != nil {
		return err
	}
	if pfFound {
		mirrorEnvCase()
	}

	if _, err := readConfigIfExists("conf/config.toml", false); err != nil {
		return err
	}
	if _, err := readConfigIfExists("conf/"+profile+".config.toml", true); err != nil {
		return err
	}

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	viper.AutomaticEnv()
	return nil
}

func init() {
	once.Do(func() {
		err := Load()
		if err != nil {
			panic(fmt.Sprintf("Failed to setup controller configuration: %v", err))
		}

		// Init default logger
		err = log.InitDefault()
		if err != nil {
			panic(err)
		}

		if viper.GetBool(config.ControllerEnableS3) {
			log.Default().Info("Started initializing client connection to external S3 storage")
			err = s3_client.NewS3Client(context.Background(), s3_client.OptionsFromViper()...)
			if err != nil {
				log.Default().Fatal(fmt.Sprintf("Failed to initialize client connection to external S3 storage: %v", err))
			}
			log.Default().Info("Finished initializing client connection to external S3 storage")
		}

		if viper.GetBool(config.ControllerEnableMQTT) {
			log.Default().Info("Started initializing client connection to MQTT broker")
			clientID := viper.GetString(config.MqttClientId)
			if clientID == "" {
				clientID = config.String(config.ControllerID, constants.DefaultSystemName)
			}
			err = mqtt_client.NewMQTTClient(viper.GetString(config.MqttEndpoint), clientID)
			if err != nil {
				log.Default().Fatal(fmt.Sprintf("Failed to initialize client connection to MQTT broker: %v", err))
			}
			log.Default().Info("Finished initializing client connection to MQTT broker")
		}

		if viper.GetBool(config.ControllerEnableNATS) {
			log.Default().Info("Started initializing client connection to NATS")
			err = nats_client.NewNATSClient(viper.GetString(config.NatsURL),
				nats_client.WithName(config.String(config.ControllerID, constants.DefaultSystemName)),
				nats_client.WithReconnect(
					config.Int(config.NatsMaxReconnects, -1),
					config.Duration(config.NatsReconnectWait, 2*time.Second),
				),
				nats_client.WithTimeout(config.Duration(config.NatsTimeout, 5*time.Second)),
			)
			if err != nil {
				log.Default().Fatal(fmt.Sprintf("Failed to initialize client connection to NATS: %v", err))
			}
			log.Default().Info("Finished initializing client connection to NATS")
		}

		if viper.GetBool(config.ControllerEnablePostgres) {
			log.Default().Info("Started initializing connection pool to Postgres")
			err = pg_client.NewPostgresClient(context.Background(),
				viper.GetString(config.PostgresDSN), viper.GetInt(config.PostgresMaxConns))
			if err != nil {
				log.Default().Fatal(fmt.Sprintf("Failed to initialize connection pool to Postgres: %v", err))
			}
			log.Default().Info("Finished initializing connection pool to Postgres")
		}

		if viper.GetBool(config.ControllerEnableTracing) {
			log.Default().Info("Started initializing OTEL tracer")
			err = tracer_client.NewTracerClient(tracer_client.OptionsFromViper()...)
			if err != nil {
				log.Default().Fatal(fmt.Sprintf("Failed to initialize OTEL tracer: %v", err))
			}
			log.Default().Info("Finished initializing OTEL tracer")
		}

		log.Default().Info("Started initializing local cache")
		err = local_cache.NewLocalCache()
		if err != nil {
			log.Default().Fatal(fmt.Sprintf("Failed to initialize local cache: %v", err))
		}
		log.Default().Info("Finished initializing local cache")
		log.Default().Info("Finished initializing connection to external services")
	})
}

func closeClients() {
	if viper.GetBool(config.ControllerEnableMQTT) {
		mqtt_client.Disconnect(250 * time.Millisecond)
	}
	if viper.GetBool(config.ControllerEnableNATS) {
		nats_client.Close()
	}
	if viper.GetBool(config.ControllerEnablePostgres) {
		pg_client.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = tracer_client.Shutdown(shutdownCtx)
	_ = log.Sync()
}

func main() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	defer closeClients()

	parentCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl, err := newController(parentCtx)
	if err != nil {
		log.Default().Error(errors.Wrap(err, "failed to build relay controller").Error())
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- ctrl.run(parentCtx)
	}()

	select {
	case sig := <-sigCh:
		log.Default().Debug(fmt.Sprintf("Signal received: %v", sig))
		cancel()

		select {
		case err = <-done:
			log.Default().Info("All tasks exited, shutting down controller")
		case sig2 := <-sigCh:
			log.Default().Debug(fmt.Sprintf("Second signal received: %v", sig2))
		case <-time.After(constants.GraceWaitPeriod):
			log.Default().Info("Grace period timed out, forcing exit")
		}
	case err = <-done:
		log.Default().Info(fmt.Sprintf("Services finished early with error: %v", err))
	}
}
