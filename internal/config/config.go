package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pion/stun/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/marekhoryna/janus-client/internal/domain"
)

type Config struct {
	Servers              []string           `mapstructure:"servers" validate:"required,min=1,dive,janus_server"`
	ICEServers           []domain.ICEServer `mapstructure:"ice_servers" validate:"dive"`
	Token                string             `mapstructure:"token"`
	APISecret            string             `mapstructure:"api_secret"`
	KeepalivePeriod      time.Duration      `mapstructure:"keepalive_period" validate:"gt=0"`
	MaxKeepaliveFailures int                `mapstructure:"max_keepalive_failures" validate:"min=1"`
	TransactionTimeout   time.Duration      `mapstructure:"transaction_timeout" validate:"gt=0"`
	MaxPollEvents        int                `mapstructure:"max_poll_events" validate:"min=1"`
	Trickle              bool               `mapstructure:"trickle"`
	IPv6                 bool               `mapstructure:"ipv6"`
	LogLevel             zerolog.Level      `mapstructure:"log_level"`
	Mode                 string             `mapstructure:"mode" validate:"oneof=debug release test"`
	Port                 int                `mapstructure:"port" validate:"min=1,max=65535"`
	// Watch is a streaming mountpoint to start watching once attached.
	Watch string `mapstructure:"watch"`
	// RecordDir, when set, receives the remote media of every handle.
	RecordDir string `mapstructure:"record_dir"`
}

const (
	FlagConfig   = "config"
	FlagServer   = "server"
	FlagLogLevel = "log-level"
	FlagPort     = "port"
	FlagWatch    = "watch"
	FlagRecord   = "record-dir"
)

var flagKeys = map[string]string{
	FlagServer:   "servers",
	FlagLogLevel: "log_level",
	FlagPort:     "port",
	FlagWatch:    "watch",
	FlagRecord:   "record_dir",
}

// NewFlagSet declares the command line overrides. Flag defaults equal the
// config defaults so an unset flag never masks the file.
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String(FlagConfig, "", "config file (default config/config.$CONFIG_ENV.yaml)")
	fs.StringSlice(FlagServer, []string{"ws://127.0.0.1:8188"}, "gateway URL, repeat for failover")
	fs.String(FlagLogLevel, "info", "log level")
	fs.Int(FlagPort, 8088, "control API port")
	fs.String(FlagWatch, "", "streaming mountpoint to watch")
	fs.String(FlagRecord, "", "directory for recordings of remote media")
	return fs
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("servers", []string{"ws://127.0.0.1:8188"})
	v.SetDefault("ice_servers", []map[string]any{{"urls": []string{"stun:stun.l.google.com:19302"}}})
	v.SetDefault("token", "")
	v.SetDefault("api_secret", "")
	v.SetDefault("keepalive_period", "25s")
	v.SetDefault("max_keepalive_failures", 3)
	v.SetDefault("transaction_timeout", "30s")
	v.SetDefault("max_poll_events", 10)
	v.SetDefault("trickle", true)
	v.SetDefault("ipv6", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8088)
	v.SetDefault("watch", "")
	v.SetDefault("record_dir", "")
}

// Source keeps the viper instance behind a loaded Config for reloads.
type Source struct {
	v    *viper.Viper
	file string
}

func (s *Source) File() string { return s.file }

// Load reads config/config.$CONFIG_ENV.yaml (or --config) from fs, then
// JANUS_* environment variables, then flags. A missing default file is not
// an error; a missing --config file is.
func Load(fs afero.Fs, flags *pflag.FlagSet) (*Config, *Source, error) {
	v := viper.New()
	v.SetFs(fs)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("JANUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	explicit := ""
	if flags != nil {
		explicit, _ = flags.GetString(FlagConfig)
		for flag, key := range flagKeys {
			if f := flags.Lookup(flag); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, nil, fmt.Errorf("bind flag %s: %w", flag, err)
				}
			}
		}
	}

	file := explicit
	if file == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		file = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(file)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		missing := errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
		if !missing || explicit != "" {
			return nil, nil, fmt.Errorf("read config %s: %w", file, err)
		}
		log.Warn().Str("module", "config").Str("file", file).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", file).Msg("config loaded")
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("module", "config").
		Strs("servers", cfg.Servers).
		Int("port", cfg.Port).
		Str("mode", cfg.Mode).
		Str("log_level", cfg.LogLevel.String()).
		Msg("config ready")
	return cfg, &Source{v: v, file: file}, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToLevelHook(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func stringToLevelHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf(zerolog.Level(0)) {
			return data, nil
		}
		return zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(data.(string))))
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("janus_server", func(fl validator.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		if err != nil || u.Host == "" {
			return false
		}
		switch u.Scheme {
		case "ws", "wss", "http", "https":
			return true
		}
		return false
	})
	return v
}

// Validate checks field constraints and that every ICE server URL is a
// valid stun:, stuns:, turn: or turns: URI.
func Validate(c *Config) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, s := range c.ICEServers {
		if len(s.URLs) == 0 {
			return errors.New("invalid config: ice server without urls")
		}
		for _, raw := range s.URLs {
			u, err := stun.ParseURI(raw)
			if err != nil {
				return fmt.Errorf("invalid config: ice server %q: %w", raw, err)
			}
			if (u.Scheme == stun.SchemeTypeTURN || u.Scheme == stun.SchemeTypeTURNS) && s.Username == "" {
				return fmt.Errorf("invalid config: turn server %q needs credentials", raw)
			}
		}
	}
	return nil
}

// WatchLogLevel re-reads the config file whenever it changes and hands the
// new log level to apply. Other keys need a restart.
func (s *Source) WatchLogLevel(apply func(zerolog.Level)) {
	s.v.OnConfigChange(func(e fsnotify.Event) { s.reload(e, apply) })
	s.v.WatchConfig()
}

func (s *Source) reload(e fsnotify.Event, apply func(zerolog.Level)) {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return
	}
	if err := s.v.ReadInConfig(); err != nil {
		log.Warn().Err(err).Str("module", "config").Str("file", e.Name).Msg("config reload failed")
		return
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(s.v.GetString("log_level")))
	if err != nil {
		log.Warn().Err(err).Str("module", "config").Msg("bad log level on reload")
		return
	}
	log.Info().Str("module", "config").Str("log_level", lvl.String()).Msg("log level reloaded")
	apply(lvl)
}
