// Package config loads gateway settings from a dotenv file and the process
// environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// DefaultPath is the settings file read when Load is given an empty path.
const DefaultPath = "config.conf"

// Default values.
const (
	DefaultRealtimeURL        = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultModel              = "gemini-2.0-flash-live-001"
	DefaultRTPPortStart       = 12000
	DefaultRTPBindAddress     = "127.0.0.1"
	DefaultMaxConcurrentCalls = 10
	DefaultSilencePaddingMS   = 100
	DefaultVADThreshold       = 0.6
	DefaultVADPrefixPaddingMS = 200
	DefaultVADSilenceMS       = 600
	DefaultLogLevel           = "info"
	DefaultDeliveryMaxWaitMS  = 6000
)

var (
	// ErrMissingSystemInstruction indicates SYSTEM_INSTRUCTION is unset or blank.
	ErrMissingSystemInstruction = errors.New("SYSTEM_INSTRUCTION is required")

	// ErrInvalidValue indicates a setting failed to parse or is out of range.
	ErrInvalidValue = errors.New("invalid configuration value")
)

// Config holds every gateway setting.
type Config struct {
	APIKey            string
	RealtimeURL       string
	Model             string
	SystemInstruction string

	RTPPortStart       int
	RTPBindAddress     string
	MaxConcurrentCalls int

	SilencePaddingMS         int
	CallDurationLimitSeconds int
	DeliveryMaxWaitMS        int

	// VAD settings are passed through to the external voice activity
	// detector; the gateway itself does not use them.
	VADThreshold         float64
	VADPrefixPaddingMS   int
	VADSilenceDurationMS int

	LogLevel string
}

// Default returns a Config populated with defaults. SystemInstruction is
// empty and must be supplied.
func Default() *Config {
	return &Config{
		RealtimeURL:          DefaultRealtimeURL,
		Model:                DefaultModel,
		RTPPortStart:         DefaultRTPPortStart,
		RTPBindAddress:       DefaultRTPBindAddress,
		MaxConcurrentCalls:   DefaultMaxConcurrentCalls,
		SilencePaddingMS:     DefaultSilencePaddingMS,
		DeliveryMaxWaitMS:    DefaultDeliveryMaxWaitMS,
		VADThreshold:         DefaultVADThreshold,
		VADPrefixPaddingMS:   DefaultVADPrefixPaddingMS,
		VADSilenceDurationMS: DefaultVADSilenceMS,
		LogLevel:             DefaultLogLevel,
	}
}

// Load reads settings from path (DefaultPath when empty) and the process
// environment, which takes precedence. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	file, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		logrus.WithFields(logrus.Fields{
			"function": "config.Load",
			"path":     path,
		}).Debug("No config file, using environment only")
		file = map[string]string{}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}

	cfg, err := fromLookup(lookup)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromLookup(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	p := parser{lookup: lookup}

	p.str("GEMINI_API_KEY", &cfg.APIKey)
	p.str("REALTIME_URL", &cfg.RealtimeURL)
	p.str("LIVE_MODEL", &cfg.Model)
	p.str("SYSTEM_INSTRUCTION", &cfg.SystemInstruction)
	p.integer("RTP_PORT_START", &cfg.RTPPortStart)
	p.str("RTP_BIND_ADDRESS", &cfg.RTPBindAddress)
	p.integer("MAX_CONCURRENT_CALLS", &cfg.MaxConcurrentCalls)
	p.integer("SILENCE_PADDING_MS", &cfg.SilencePaddingMS)
	p.integer("CALL_DURATION_LIMIT_SECONDS", &cfg.CallDurationLimitSeconds)
	p.integer("DELIVERY_MAX_WAIT_MS", &cfg.DeliveryMaxWaitMS)
	p.decimal("VAD_THRESHOLD", &cfg.VADThreshold)
	p.integer("VAD_PREFIX_PADDING_MS", &cfg.VADPrefixPaddingMS)
	p.integer("VAD_SILENCE_DURATION_MS", &cfg.VADSilenceDurationMS)
	p.str("LOG_LEVEL", &cfg.LogLevel)

	if p.err != nil {
		return nil, p.err
	}
	return cfg, nil
}

// parser records the first conversion error.
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) raw(key string) (string, bool) {
	v, ok := p.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (p *parser) str(key string, dst *string) {
	if v, ok := p.raw(key); ok {
		*dst = v
	}
}

func (p *parser) integer(key string, dst *int) {
	v, ok := p.raw(key)
	if !ok || p.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalidValue, key, v, err)
		return
	}
	*dst = n
}

func (p *parser) decimal(key string, dst *float64) {
	v, ok := p.raw(key)
	if !ok || p.err != nil {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.err = fmt.Errorf("%w: %s=%q: %v", ErrInvalidValue, key, v, err)
		return
	}
	*dst = f
}

// Validate checks ranges and required settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.SystemInstruction) == "" {
		return ErrMissingSystemInstruction
	}

	u, err := url.Parse(c.RealtimeURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("%w: REALTIME_URL %q must be a ws:// or wss:// URL", ErrInvalidValue, c.RealtimeURL)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: LIVE_MODEL is empty", ErrInvalidValue)
	}
	if net.ParseIP(c.RTPBindAddress) == nil {
		return fmt.Errorf("%w: RTP_BIND_ADDRESS %q is not an IP address", ErrInvalidValue, c.RTPBindAddress)
	}
	if c.RTPPortStart < 1024 || c.RTPPortStart > 65534 || c.RTPPortStart%2 != 0 {
		return fmt.Errorf("%w: RTP_PORT_START %d must be even and within 1024-65534", ErrInvalidValue, c.RTPPortStart)
	}
	if c.MaxConcurrentCalls < 1 {
		return fmt.Errorf("%w: MAX_CONCURRENT_CALLS %d must be positive", ErrInvalidValue, c.MaxConcurrentCalls)
	}
	if c.RTPPortStart+2*(c.MaxConcurrentCalls-1) > 65534 {
		return fmt.Errorf("%w: %d calls from port %d exceed the port range", ErrInvalidValue, c.MaxConcurrentCalls, c.RTPPortStart)
	}
	if c.SilencePaddingMS < 0 {
		return fmt.Errorf("%w: SILENCE_PADDING_MS %d is negative", ErrInvalidValue, c.SilencePaddingMS)
	}
	if c.CallDurationLimitSeconds < 0 {
		return fmt.Errorf("%w: CALL_DURATION_LIMIT_SECONDS %d is negative", ErrInvalidValue, c.CallDurationLimitSeconds)
	}
	if c.DeliveryMaxWaitMS <= 0 {
		return fmt.Errorf("%w: DELIVERY_MAX_WAIT_MS %d must be positive", ErrInvalidValue, c.DeliveryMaxWaitMS)
	}
	if c.VADThreshold < 0 || c.VADThreshold > 1 {
		return fmt.Errorf("%w: VAD_THRESHOLD %v must be within 0-1", ErrInvalidValue, c.VADThreshold)
	}
	if c.VADPrefixPaddingMS < 0 || c.VADSilenceDurationMS < 0 {
		return fmt.Errorf("%w: VAD durations must not be negative", ErrInvalidValue)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: LOG_LEVEL %q: %v", ErrInvalidValue, c.LogLevel, err)
	}
	return nil
}

// SilencePadding returns the utterance padding duration.
func (c *Config) SilencePadding() time.Duration {
	return time.Duration(c.SilencePaddingMS) * time.Millisecond
}

// CallDurationLimit returns the per-call ceiling; zero means unlimited.
func (c *Config) CallDurationLimit() time.Duration {
	return time.Duration(c.CallDurationLimitSeconds) * time.Second
}

// DeliveryMaxWait returns the hard ceiling of a delivery wait.
func (c *Config) DeliveryMaxWait() time.Duration {
	return time.Duration(c.DeliveryMaxWaitMS) * time.Millisecond
}

// VADPrefixPadding returns the VAD prefix padding.
func (c *Config) VADPrefixPadding() time.Duration {
	return time.Duration(c.VADPrefixPaddingMS) * time.Millisecond
}

// VADSilenceDuration returns the VAD end-of-speech silence.
func (c *Config) VADSilenceDuration() time.Duration {
	return time.Duration(c.VADSilenceDurationMS) * time.Millisecond
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
