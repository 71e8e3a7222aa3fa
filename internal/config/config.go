package config

import (
	stderrors "errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/assetsync/assetsync/internal/errors"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "assetsync.json"

	// EnvPrefix prefixes environment overrides.
	EnvPrefix = "ASSETSYNC"

	// ConfigEnv names the config file when LoadOptions.File is empty. Build
	// processes inherit it from the server that spawns them.
	ConfigEnv = EnvPrefix + "_CONFIG"

	// DefaultPort is the default server port.
	DefaultPort = 8000

	// DefaultHost is the default server host.
	DefaultHost = "localhost"
)

// DefaultIgnore lists the paths the watcher skips by default.
var DefaultIgnore = []string{".svn", ".git"}

// Config is the complete assetsync configuration.
type Config struct {
	// Base is the directory every path resolves against.
	Base string `json:"base" mapstructure:"base"`

	// Host is the host to bind to.
	Host string `json:"host" mapstructure:"host"`

	// Port is the port to listen on.
	Port int `json:"port" mapstructure:"port"`

	// Sync enables filesystem watching.
	Sync bool `json:"sync" mapstructure:"sync"`

	// Index is a file scanned on start, relative to Base.
	Index string `json:"index,omitempty" mapstructure:"index"`

	// Ignore contains paths or glob patterns the watcher skips. Relative
	// entries resolve against Base.
	Ignore []string `json:"ignore" mapstructure:"ignore"`

	// JS configures script reference resolution.
	JS JSConfig `json:"js" mapstructure:"js"`

	// Build configures the bundle build process.
	Build BuildConfig `json:"build" mapstructure:"build"`

	// Editor is the command openFile runs with the filename appended.
	Editor string `json:"editor,omitempty" mapstructure:"editor"`

	// Publish configures optional bundle upload.
	Publish PublishConfig `json:"publish" mapstructure:"publish"`

	// Log configures logging.
	Log LogConfig `json:"log" mapstructure:"log"`

	configPath string
}

// JSConfig contains script resolution settings.
type JSConfig struct {
	// Namespaces maps a module namespace to its directory. Keys are
	// case-insensitive.
	Namespaces map[string]string `json:"namespaces,omitempty" mapstructure:"namespaces"`

	// BaseURI is the directory for modules without a namespace entry.
	BaseURI string `json:"baseURI,omitempty" mapstructure:"baseuri"`
}

// BuildConfig contains bundle build settings.
type BuildConfig struct {
	// Command is the build program and its leading arguments. Empty means
	// the current executable's build subcommand.
	Command []string `json:"command,omitempty" mapstructure:"command"`
}

// PublishConfig contains S3 publication settings.
type PublishConfig struct {
	Bucket string `json:"bucket,omitempty" mapstructure:"bucket"`
	Prefix string `json:"prefix,omitempty" mapstructure:"prefix"`
	Region string `json:"region,omitempty" mapstructure:"region"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `json:"level" mapstructure:"level"`

	// Format is text or json.
	Format string `json:"format" mapstructure:"format"`
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Base:   ".",
		Host:   DefaultHost,
		Port:   DefaultPort,
		Sync:   true,
		Ignore: append([]string(nil), DefaultIgnore...),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadOptions controls where configuration is read from.
type LoadOptions struct {
	// Dir is searched for ConfigFileName. Defaults to the working directory.
	Dir string

	// File overrides the config file path. It must exist.
	File string

	// Flags are bound over file and environment values. Flags that were not
	// set on the command line do not override.
	Flags *pflag.FlagSet
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"base":       "base",
	"host":       "host",
	"port":       "port",
	"index":      "index",
	"editor":     "editor",
	"log-level":  "log.level",
	"log-format": "log.format",
}

// Load reads the configuration. A missing config file is not an error
// unless File names it explicitly.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()
	defaults := New()
	v.SetDefault("base", defaults.Base)
	v.SetDefault("host", defaults.Host)
	v.SetDefault("port", defaults.Port)
	v.SetDefault("sync", defaults.Sync)
	v.SetDefault("index", "")
	v.SetDefault("ignore", defaults.Ignore)
	v.SetDefault("js.namespaces", map[string]string{})
	v.SetDefault("js.baseuri", "")
	v.SetDefault("build.command", []string{})
	v.SetDefault("editor", "")
	v.SetDefault("publish.bucket", "")
	v.SetDefault("publish.prefix", "")
	v.SetDefault("publish.region", "")
	v.SetDefault("log.level", defaults.Log.Level)
	v.SetDefault("log.format", defaults.Log.Format)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	configPath := opts.File
	if configPath == "" {
		configPath = os.Getenv(ConfigEnv)
	}
	if configPath == "" {
		dir := opts.Dir
		if dir == "" {
			dir = "."
		}
		configPath = filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err != nil {
			configPath = ""
		}
	} else if _, err := os.Stat(configPath); err != nil {
		return nil, errors.New("A151").
			WithDetail("No config file at " + configPath).
			Wrap(err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New("A151").
				WithDetail("Failed to parse " + configPath).
				WithSuggestion("Check that " + ConfigFileName + " is valid JSON").
				Wrap(err)
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, errors.New("A150").Wrap(err)
				}
			}
		}
		if f := opts.Flags.Lookup("no-sync"); f != nil && f.Changed {
			noSync, _ := strconv.ParseBool(f.Value.String())
			v.Set("sync", !noSync)
		}
	}

	cfg := New()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.New("A150").Wrap(err)
	}
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err == nil {
			configPath = abs
		}
		cfg.configPath = configPath
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// Env returns the environment a build process needs to load the same
// config file.
func (c *Config) Env() []string {
	if c.configPath == "" {
		return nil
	}
	return []string{ConfigEnv + "=" + c.configPath}
}

// Dir returns the directory relative values resolve from: the config
// file's directory, or the working directory.
func (c *Config) Dir() string {
	if c.configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "."
		}
		return wd
	}
	return filepath.Dir(c.configPath)
}

// applyDefaults fills empty fields and makes paths absolute.
func (c *Config) applyDefaults() {
	if c.Base == "" {
		c.Base = "."
	}
	if !filepath.IsAbs(c.Base) {
		c.Base = filepath.Join(c.Dir(), c.Base)
	}
	c.Base = filepath.Clean(c.Base)

	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Index != "" && !filepath.IsAbs(c.Index) {
		c.Index = filepath.Join(c.Base, c.Index)
	}
	if len(c.Ignore) == 0 {
		c.Ignore = append([]string(nil), DefaultIgnore...)
	}
	if c.JS.Namespaces == nil {
		c.JS.Namespaces = map[string]string{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, errors.New("A150").WithDetail("Port must be between 0 and 65535"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, errors.New("A150").WithDetailf("Unknown log format %q", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, errors.New("A150").WithDetailf("Unknown log level %q", c.Log.Level))
	}
	if c.Publish.Prefix != "" && c.Publish.Bucket == "" {
		errs = append(errs, errors.New("A150").
			WithDetail("publish.prefix is set without publish.bucket").
			WithSuggestion("Set publish.bucket or remove publish.prefix"))
	}
	return stderrors.Join(errs...)
}

// Address returns the listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// URL returns the server URL.
func (c *Config) URL() string {
	return "http://" + c.Address()
}

// SocketURL returns the websocket URL of the sync endpoint.
func (c *Config) SocketURL() string {
	return "ws://" + c.Address() + "/socket"
}

// Publishing reports whether bundles are published.
func (c *Config) Publishing() bool {
	return c.Publish.Bucket != ""
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}
