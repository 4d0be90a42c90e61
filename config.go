package rtvoice

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Default values used when a setting is absent from file and environment.
const (
	DefaultBaseURL             = "https://api.openai.com/v1"
	DefaultModel               = "gpt-4o-realtime-preview-2025-06-03"
	DefaultVoice               = "verse"
	DefaultInstructionsPath    = "prompt/system.txt"
	DefaultBrokerAddr          = ":8080"
	DefaultPanelAddr           = ":8090"
	DefaultRequestTimeout      = 15 * time.Second
	DefaultICEGatheringTimeout = 2 * time.Second
)

// Credential represents an authentication method for outbound requests.
// Implementations must apply the appropriate authentication headers.
type Credential interface{ Apply(h http.Header) }

// Bearer implements Credential using an Authorization: Bearer header.
// Both the long-lived API key and the short-lived session token use it.
type Bearer string

// Apply adds the Bearer token to the Authorization header.
func (b Bearer) Apply(h http.Header) {
	if b != "" {
		h.Set("Authorization", "Bearer "+string(b))
	}
}

// OIDCConfig enables caller authentication on the broker.
// An empty Issuer disables it.
type OIDCConfig struct {
	// Issuer is the OIDC issuer URL used for discovery.
	Issuer string `mapstructure:"issuer"`

	// Audience is the expected aud claim (client ID for ID tokens).
	Audience string `mapstructure:"audience"`

	// TokenType is "id" for ID tokens or "access" for JWT access tokens.
	// Default: "access"
	TokenType string `mapstructure:"token_type"`
}

// Config holds the settings shared by the token broker and the voice client.
type Config struct {
	// APIKey is the long-lived secret for the session-creation endpoint.
	// Read from OPENAI_API_KEY. Its absence is reported per request, not at load time.
	APIKey string `mapstructure:"api_key"`

	// BaseURL is the remote API root. Both /realtime/sessions and /realtime hang off it.
	BaseURL string `mapstructure:"base_url"`

	// Model is the realtime model requested at session creation and SDP exchange.
	Model string `mapstructure:"model"`

	// Voice is the synthesized voice requested at session creation.
	Voice string `mapstructure:"voice"`

	// InstructionsPath is the plain-text instructions file, read on every broker request.
	InstructionsPath string `mapstructure:"instructions_path"`

	// BrokerAddr is the listen address of the token broker.
	BrokerAddr string `mapstructure:"broker_addr"`

	// BrokerURL is where the voice client fetches session tokens.
	// Default: derived from BrokerAddr on localhost
	BrokerURL string `mapstructure:"broker_url"`

	// PanelAddr is the listen address of the voice client's control panel.
	PanelAddr string `mapstructure:"panel_addr"`

	// RequestTimeout guards each outbound HTTP call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// ICEGatheringTimeout bounds the wait for candidate gathering before the offer is sent.
	ICEGatheringTimeout time.Duration `mapstructure:"ice_gathering_timeout"`

	// AllowedOrigins lists CORS origins for the broker. Empty allows any origin.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// OIDC optionally protects the broker's session endpoint.
	OIDC OIDCConfig `mapstructure:"oidc"`

	// MicrophonePath is an Ogg/Opus file used as the capture device by the voice client.
	MicrophonePath string `mapstructure:"microphone_path"`

	// RecordingDir receives the Ogg recordings of remote audio.
	RecordingDir string `mapstructure:"recording_dir"`

	// LogLevel is one of DEBUG, INFO, WARN, ERROR, OFF.
	LogLevel string `mapstructure:"log_level"`

	// LogFormat is "console" or "json".
	LogFormat string `mapstructure:"log_format"`
}

// NewViper returns a viper instance with defaults and environment bindings applied.
// Callers may bind flags to it before passing it to LoadConfigFrom.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("base_url", DefaultBaseURL)
	v.SetDefault("model", DefaultModel)
	v.SetDefault("voice", DefaultVoice)
	v.SetDefault("instructions_path", DefaultInstructionsPath)
	v.SetDefault("broker_addr", DefaultBrokerAddr)
	v.SetDefault("broker_url", "")
	v.SetDefault("panel_addr", DefaultPanelAddr)
	v.SetDefault("request_timeout", DefaultRequestTimeout.String())
	v.SetDefault("ice_gathering_timeout", DefaultICEGatheringTimeout.String())
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("oidc.issuer", "")
	v.SetDefault("oidc.audience", "")
	v.SetDefault("oidc.token_type", "access")
	v.SetDefault("microphone_path", "")
	v.SetDefault("recording_dir", "recordings")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_format", "console")

	v.SetEnvPrefix("RTVOICE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The secret keeps its conventional unprefixed name.
	_ = v.BindEnv("api_key", "OPENAI_API_KEY", "RTVOICE_API_KEY")
	return v
}

// LoadConfig reads .env (if present), the optional YAML file at path, and the
// environment, in increasing order of precedence.
func LoadConfig(path string) (Config, error) {
	return LoadConfigFrom(NewViper(), path)
}

// LoadConfigFrom is LoadConfig on a caller-prepared viper instance.
func LoadConfigFrom(v *viper.Viper, path string) (Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.AllowedOrigins = splitOrigins(cfg.AllowedOrigins)
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = localURL(cfg.BrokerAddr)
	}
	if err := ValidateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SessionsURL returns the session-creation endpoint under BaseURL.
func (c Config) SessionsURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/realtime/sessions"
}

// RealtimeURL returns the SDP signaling endpoint for Model under BaseURL.
func (c Config) RealtimeURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/realtime?model=" + url.QueryEscape(c.Model)
}

// ValidateConfig checks the fields every component depends on.
// A missing APIKey is not an error here; the broker reports it per request.
func ValidateConfig(cfg Config) error {
	if cfg.BaseURL == "" {
		return NewConfigError("BaseURL", "", "cannot be empty")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return NewConfigError("BaseURL", cfg.BaseURL, "invalid URL format")
	}
	if cfg.Model == "" {
		return NewConfigError("Model", "", "cannot be empty")
	}
	if cfg.RequestTimeout < 0 {
		return NewConfigError("RequestTimeout", cfg.RequestTimeout.String(), "cannot be negative")
	}
	if cfg.ICEGatheringTimeout < 0 {
		return NewConfigError("ICEGatheringTimeout", cfg.ICEGatheringTimeout.String(), "cannot be negative")
	}
	switch strings.ToLower(cfg.OIDC.TokenType) {
	case "", "id", "access":
	default:
		return NewConfigError("OIDC.TokenType", cfg.OIDC.TokenType, `must be "id" or "access"`)
	}
	if cfg.OIDC.Issuer != "" && cfg.OIDC.Audience == "" {
		return NewConfigError("OIDC.Audience", "", "required when OIDC.Issuer is set")
	}
	return nil
}

// RequireAPIKey returns ErrMissingAPIKey when no secret is configured.
func (c Config) RequireAPIKey() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// splitOrigins accepts both YAML lists and a single comma-separated env value.
func splitOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		for _, p := range strings.Split(s, ",") {
			if t := strings.TrimSpace(p); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

func localURL(addr string) string {
	if addr == "" {
		addr = DefaultBrokerAddr
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
