// Command voice-client runs a headless realtime voice session driven from a
// small web control panel. Microphone audio comes from an Ogg/Opus file and the
// model's speech is recorded to Ogg files.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/enesunal-m/rtvoice"
	"github.com/enesunal-m/rtvoice/controlpanel"
	"github.com/enesunal-m/rtvoice/webrtc"
)

func main() {
	if err := run(); err != nil {
		rtvoice.LogError("exit", map[string]interface{}{"command": "voice-client", "error": err.Error()})
		os.Exit(1)
	}
}

func run() error {
	fs := pflag.NewFlagSet("voice-client", pflag.ExitOnError)
	configPath := fs.StringP("config", "c", "", "optional YAML config file")
	fs.String("broker", "", "token broker URL (default derived from broker_addr)")
	fs.String("panel-addr", rtvoice.DefaultPanelAddr, "control panel listen address")
	fs.String("mic", "", "Ogg/Opus file used as the microphone")
	fs.String("recordings", "recordings", "directory for recorded model audio")
	fs.Duration("ice-timeout", rtvoice.DefaultICEGatheringTimeout, "ICE gathering bound")
	fs.String("log-level", "INFO", "DEBUG, INFO, WARN, ERROR or OFF")
	fs.String("log-format", "console", "console or json")
	autoplay := fs.Bool("autoplay", false, "start playback without waiting for a panel interaction")
	brokerToken := fs.String("broker-token", "", "bearer token for a broker with caller authentication")
	_ = fs.Parse(os.Args[1:])

	v := rtvoice.NewViper()
	for key, flag := range map[string]string{
		"broker_url":            "broker",
		"panel_addr":            "panel-addr",
		"microphone_path":       "mic",
		"recording_dir":         "recordings",
		"ice_gathering_timeout": "ice-timeout",
		"log_level":             "log-level",
		"log_format":            "log-format",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return err
		}
	}

	cfg, err := rtvoice.LoadConfigFrom(v, *configPath)
	if err != nil {
		return err
	}
	if cfg.MicrophonePath == "" {
		return rtvoice.NewConfigError("MicrophonePath", "", "required (--mic)")
	}
	log := rtvoice.NewLoggerFromConfig(cfg)
	log.SetPrefix("voice-client")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tokens := webrtc.BrokerTokenSource{
		BaseURL:    cfg.BrokerURL,
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
	}
	if *brokerToken != "" {
		tokens.Credential = rtvoice.Bearer(*brokerToken)
	}
	client, err := webrtc.NewClient(webrtc.Options{
		Config:          cfg,
		TokenSource:     tokens,
		Microphone:      webrtc.OggMicrophone{Path: cfg.MicrophonePath},
		Speaker:         webrtc.OggSpeaker{Dir: cfg.RecordingDir},
		AutoplayAllowed: *autoplay,
		Logger:          log,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	panel := controlpanel.New(ctx, client, log)
	srv := &http.Server{
		Addr:              cfg.PanelAddr,
		Handler:           panel.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("panel_listening", map[string]interface{}{"addr": cfg.PanelAddr, "broker": cfg.BrokerURL})
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

	log.Info("shutting_down", map[string]interface{}{"state": string(client.State())})
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
