// Package config loads the server configuration from plenum.yaml, the
// environment and defaults, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config carries every runtime setting of the server.
type Config struct {
	Listen         string        `mapstructure:"listen" yaml:"listen" validate:"required,hostname_port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"min=1s"`

	Datastore Datastore `mapstructure:"datastore" yaml:"datastore"`
	Auth      Auth      `mapstructure:"auth" yaml:"auth"`
	Redis     Redis     `mapstructure:"redis" yaml:"redis"`
	Log       Log       `mapstructure:"log" yaml:"log"`
}

// Datastore points at the reader and writer services.
type Datastore struct {
	ReaderURL string        `mapstructure:"reader_url" yaml:"reader_url" validate:"required,url"`
	WriterURL string        `mapstructure:"writer_url" yaml:"writer_url" validate:"required,url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"min=1s"`
}

// Auth configures session verification. The secrets default to the
// development keys of the platform; production deployments override them.
type Auth struct {
	URL          string `mapstructure:"url" yaml:"url" validate:"omitempty,url"`
	TokenSecret  string `mapstructure:"token_secret" yaml:"token_secret"`
	CookieSecret string `mapstructure:"cookie_secret" yaml:"cookie_secret"`
	Disabled     bool   `mapstructure:"disabled" yaml:"disabled"`
}

// Redis configures the modified-fields stream. An empty URL disables it.
type Redis struct {
	URL string `mapstructure:"url" yaml:"url" validate:"omitempty,uri"`
}

// Log selects level and output format of the root logger.
type Log struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json console"`
}

var validate = validator.New()

// Loader owns the viper instance so the file can be re-read on change.
type Loader struct {
	v   *viper.Viper
	cfg *Config
}

// Load reads the configuration. With an empty path, plenum.yaml is looked
// up in the working directory and /etc/plenum; a missing file is fine
// then, environment and defaults carry the load. An explicit path must
// exist.
func Load(path string) (*Loader, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PLENUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("plenum")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/plenum")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}
	cfg, err := unmarshal(v)
	if err != nil {
		return nil, err
	}
	return &Loader{v: v, cfg: cfg}, nil
}

// Config returns the most recently loaded configuration.
func (l *Loader) Config() *Config {
	return l.cfg
}

// Watch re-reads the file whenever it changes and hands the fresh config
// to onChange. Edits that fail validation are dropped and the previous
// config stays active.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		// Env and defaults only, nothing to watch.
		return
	}
	l.v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := unmarshal(l.v)
		if err != nil {
			return
		}
		l.cfg = cfg
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Defaults returns the built-in configuration: local platform ports and
// the development auth keys.
func Defaults() *Config {
	return &Config{
		Listen:         ":9002",
		RequestTimeout: 30 * time.Second,
		Datastore: Datastore{
			ReaderURL: "http://localhost:9010",
			WriterURL: "http://localhost:9011",
			Timeout:   10 * time.Second,
		},
		Auth: Auth{
			URL:          "http://localhost:9004",
			TokenSecret:  "auth-dev-key",
			CookieSecret: "auth-dev-cookie-key",
		},
		Log: Log{Level: "info", Format: "json"},
	}
}

func setDefaults(v *viper.Viper) {
	defaults := Defaults()
	v.SetDefault("listen", defaults.Listen)
	v.SetDefault("request_timeout", defaults.RequestTimeout)
	v.SetDefault("datastore.reader_url", defaults.Datastore.ReaderURL)
	v.SetDefault("datastore.writer_url", defaults.Datastore.WriterURL)
	v.SetDefault("datastore.timeout", defaults.Datastore.Timeout)
	v.SetDefault("auth.url", defaults.Auth.URL)
	v.SetDefault("auth.token_secret", defaults.Auth.TokenSecret)
	v.SetDefault("auth.cookie_secret", defaults.Auth.CookieSecret)
	v.SetDefault("auth.disabled", false)
	v.SetDefault("redis.url", "")
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)
}

// WriteDefault writes a commented default configuration file.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("encoding defaults: %w", err)
	}
	header := "# plenum server configuration.\n" +
		"# Every key can be set through the environment as PLENUM_<KEY>,\n" +
		"# nesting separated by underscores (PLENUM_DATASTORE_READER_URL).\n\n"
	if err := os.WriteFile(path, append([]byte(header), data...), 0o600); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
