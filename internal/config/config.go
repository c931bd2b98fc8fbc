package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var ErrNoInterview = errors.New("interview_id is required")

// Config is the relay server configuration.
type Config struct {
	Mode         string        `mapstructure:"mode"`
	Port         int           `mapstructure:"port"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	Secret       string        `mapstructure:"secret"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	JoinLimit    int           `mapstructure:"join_limit"`
	JoinInterval time.Duration `mapstructure:"join_interval"`
	LogLevel     string        `mapstructure:"log_level"`
}

// ClientConfig configures one call client mount.
type ClientConfig struct {
	SignalURL      string        `mapstructure:"signal_url"`
	APIURL         string        `mapstructure:"api_url"`
	SessionFile    string        `mapstructure:"session_file"`
	InterviewID    string        `mapstructure:"interview_id"`
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	LeaveDelay     time.Duration `mapstructure:"leave_delay"`
	STUNURLs       []string      `mapstructure:"stun_urls"`
	LogLevel       string        `mapstructure:"log_level"`
}

func newViper(prefix string) (*viper.Viper, string) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/%s.%s.yaml", prefix, env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	return v, fileName
}

func readFile(v *viper.Viper, fileName string) {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}
}

// Load reads the relay server configuration.
func Load() (*Config, error) {
	v, fileName := newViper("config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "hireme-dev-secret")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("join_limit", 5)
	v.SetDefault("join_interval", "10s")
	v.SetDefault("log_level", "info")

	readFile(v, fileName)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("server config")
	return &cfg, nil
}

// ClientFlags declares the command-line overrides accepted by LoadClient.
func ClientFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("callclient", pflag.ContinueOnError)
	fs.String("signal_url", "", "signaling endpoint (ws:// or wss://)")
	fs.String("api_url", "", "REST API base URL")
	fs.String("session_file", "", "path to the stored session (token and user)")
	fs.String("interview_id", "", "interview to join")
	fs.String("log_level", "", "zerolog level")
	return fs
}

// LoadClient reads the call client configuration. Flags set in fs take
// precedence over the file.
func LoadClient(fs *pflag.FlagSet) (*ClientConfig, error) {
	v, fileName := newViper("client")

	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("api_url", "http://localhost:5000/api")
	v.SetDefault("session_file", "session.json")
	v.SetDefault("reconnect_delay", "5s")
	v.SetDefault("leave_delay", "1500ms")
	v.SetDefault("stun_urls", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("log_level", "info")

	readFile(v, fileName)

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if cfg.InterviewID == "" {
		return nil, ErrNoInterview
	}
	return &cfg, nil
}
