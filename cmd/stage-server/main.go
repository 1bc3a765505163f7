package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/F6/labctrl-toolbox/internal/devices/stage"
	"github.com/F6/labctrl-toolbox/internal/engine/auth"
	"github.com/F6/labctrl-toolbox/internal/engine/bus"
	"github.com/F6/labctrl-toolbox/internal/engine/config"
	"github.com/F6/labctrl-toolbox/internal/engine/httpapi"
	"github.com/F6/labctrl-toolbox/internal/engine/quantity"
	"github.com/F6/labctrl-toolbox/internal/engine/session"
	"github.com/F6/labctrl-toolbox/internal/engine/subscriptions"
	"github.com/F6/labctrl-toolbox/internal/engine/transport"
)

var (
	hardwareConfigPath = flag.String("hardware-config", "stage.hardware.json", "path to the stage's hardware configuration file")
	serverConfigPath   = flag.String("server-config", "stage.server.json", "path to the server configuration file")
	profilesPath       = flag.String("profiles", "", "path to a device-profile yaml document, used to seed hardware-config if it does not exist yet")
)

const deviceKind = "stage"

func main() {
	flag.Parse()
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "stage-server").Logger()

	if _, err := os.Stat(*hardwareConfigPath); os.IsNotExist(err) && *profilesPath != "" {
		if err := seedHardwareConfig(*profilesPath, *hardwareConfigPath, deviceKind, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to seed hardware configuration from profile")
		}
	}

	hwCfg, err := config.LoadHardwareConfig(*hardwareConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load hardware configuration")
	}
	srvCfg, err := config.LoadServerConfig(*serverConfigPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load server configuration")
	}

	users, err := config.NewUserStore(srvCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build user store")
	}
	authn := auth.New([]byte(srvCfg.Auth.JWT.Secret))

	port := transport.NewSerialPort(hwCfg.Port.Device, hwCfg.Port.BaudRate)
	framer := transport.NewLineFramer(port)

	eventBus := bus.New(0, logger)
	subs := subscriptions.New(logger)
	go subs.Run(eventBus.Events())

	sess := session.New(session.Config{
		Framer:    framer,
		Codec:     stage.Codec{},
		Publisher: eventBus,
		Params:    paramPointers(hwCfg.Parameters),
		Log:       logger,
	})
	if err := sess.Open(); err != nil {
		logger.Fatal().Err(err).Msg("failed to open device session")
	}

	r := httpapi.NewRouter(httpapi.CORSConfig{
		Origins:          srvCfg.CORS.Origins,
		AllowCredentials: srvCfg.CORS.AllowCredentials,
		AllowMethods:     srvCfg.CORS.AllowMethods,
		AllowHeaders:     srvCfg.CORS.AllowHeaders,
	})
	stage.Mount(r, sess, authn, users, subs, logger)

	addr := fmt.Sprintf(":%s", envOrDefault("SERVICE_PORT", "8080"))
	srv := &http.Server{Addr: addr, Handler: r}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("starting stage-server")
		serveErr <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("server exited unexpectedly")
		}
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("error during server shutdown")
		}
	}

	persistParameters(hwCfg, sess, *hardwareConfigPath, logger)
	sess.Close()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func paramPointers(specs map[string]quantity.ParameterSpec) map[string]*quantity.ParameterSpec {
	out := make(map[string]*quantity.ParameterSpec, len(specs))
	for name, spec := range specs {
		s := spec
		out[name] = &s
	}
	return out
}

// persistParameters serializes the session's current parameter values back
// into the hardware configuration file on shutdown, per spec.md §4.4.
func persistParameters(hwCfg *config.HardwareConfig, sess *session.Session, path string, logger zerolog.Logger) {
	for name, spec := range sess.Parameters() {
		hwCfg.Parameters[name] = spec
	}
	if err := config.SaveHardwareConfig(path, hwCfg); err != nil {
		logger.Error().Err(err).Msg("failed to persist hardware configuration on shutdown")
	}
}

// seedHardwareConfig writes a fresh hardware-config file from the named
// profile in profilesPath the first time a device of this kind is brought
// up on a host, mirroring the teacher's device-management config seeding.
func seedHardwareConfig(profilesPath, hardwareConfigPath, kind string, logger zerolog.Logger) error {
	f, err := os.Open(profilesPath)
	if err != nil {
		return fmt.Errorf("open profiles: %w", err)
	}
	set, err := config.LoadProfileSet(f)
	if err != nil {
		return fmt.Errorf("load profiles: %w", err)
	}
	profile, ok := set.Find(kind)
	if !ok {
		return fmt.Errorf("no profile for device kind %q in %s", kind, profilesPath)
	}
	hwCfg := &config.HardwareConfig{Parameters: profile.Parameters}
	logger.Info().Str("kind", kind).Msg("seeding hardware configuration from device profile")
	return config.SaveHardwareConfig(hardwareConfigPath, hwCfg)
}
