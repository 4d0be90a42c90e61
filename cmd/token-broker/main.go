// Command token-broker serves short-lived realtime session tokens so browser and
// headless voice clients never see the long-lived API key.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/enesunal-m/rtvoice"
	"github.com/enesunal-m/rtvoice/broker"
)

func main() {
	if err := run(); err != nil {
		rtvoice.LogError("exit", map[string]interface{}{"command": "token-broker", "error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("token-broker", pflag.ExitOnError)
	configPath := fs.StringP("config", "c", "", "optional YAML config file")
	fs.String("addr", rtvoice.DefaultBrokerAddr, "listen address")
	fs.String("instructions", rtvoice.DefaultInstructionsPath, "instructions file, read on every request")
	fs.String("model", rtvoice.DefaultModel, "realtime model")
	fs.String("voice", rtvoice.DefaultVoice, "synthesized voice")
	fs.StringSlice("allowed-origins", nil, "CORS origins (default any)")
	fs.String("log-level", "INFO", "DEBUG, INFO, WARN, ERROR or OFF")
	fs.String("log-format", "console", "console or json")
	_ = fs.Parse(os.Args[1:])

	v := rtvoice.NewViper()
	for key, flag := range map[string]string{
		"broker_addr":       "addr",
		"instructions_path": "instructions",
		"model":             "model",
		"voice":             "voice",
		"allowed_origins":   "allowed-origins",
		"log_level":         "log-level",
		"log_format":        "log-format",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return err
		}
	}

	cfg, err := rtvoice.LoadConfigFrom(v, *configPath)
	if err != nil {
		return err
	}
	log := rtvoice.NewLoggerFromConfig(cfg)
	log.SetPrefix("token-broker")
	if cfg.APIKey == "" {
		// Not fatal: every session request answers 500 until the key is set.
		log.Warn("missing_api_key", nil)
	}
	if err := rtvoice.ValidateSession(rtvoice.SessionRequest{Model: cfg.Model, Voice: cfg.Voice}); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []broker.Option{broker.WithLogger(log)}
	auth, err := broker.NewAuthenticator(ctx, cfg.OIDC)
	if err != nil {
		return err
	}
	if auth != nil {
		opts = append(opts, broker.WithAuthenticator(auth))
		log.Info("oidc_enabled", map[string]interface{}{"issuer": cfg.OIDC.Issuer, "token_type": cfg.OIDC.TokenType})
	} else {
		log.Info("oidc_disabled", nil)
	}

	if rtvoice.ParseLogLevel(cfg.LogLevel) != rtvoice.LogLevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              cfg.BrokerAddr,
		Handler:           broker.New(cfg, opts...).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", map[string]interface{}{"addr": cfg.BrokerAddr, "model": cfg.Model})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting_down", nil)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
