// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/roshan-srin/nidata/pkg/fetcher"
)

const (
	configName = "nidata"
	envPrefix  = "NIDATA"
)

// Duration accepts Go duration strings or plain seconds.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// Config holds defaults for command flags. Keys are the flag names.
type Config struct {
	DataDir            string   `mapstructure:"data-dir" json:"data-dir" yaml:"data-dir"`
	Connections        int      `mapstructure:"connections" json:"connections" yaml:"connections"`
	MaxActive          int      `mapstructure:"max-active" json:"max-active" yaml:"max-active"`
	MultipartThreshold string   `mapstructure:"multipart-threshold" json:"multipart-threshold" yaml:"multipart-threshold"`
	Retries            int      `mapstructure:"retries" json:"retries" yaml:"retries"`
	BackoffInitial     Duration `mapstructure:"backoff-initial" json:"backoff-initial" yaml:"backoff-initial"`
	BackoffMax         Duration `mapstructure:"backoff-max" json:"backoff-max" yaml:"backoff-max"`
	Timeout            Duration `mapstructure:"timeout" json:"timeout" yaml:"timeout"`
	Username           string   `mapstructure:"username" json:"username" yaml:"username"`
	Password           string   `mapstructure:"password" json:"password" yaml:"password"`
	UserAgent          string   `mapstructure:"user-agent" json:"user-agent" yaml:"user-agent"`
	KeepArchives       bool     `mapstructure:"keep-archives" json:"keep-archives" yaml:"keep-archives"`
	LogLevel           string   `mapstructure:"log-level" json:"log-level" yaml:"log-level"`
	LogFile            string   `mapstructure:"log-file" json:"log-file" yaml:"log-file"`
	Addr               string   `mapstructure:"addr" json:"addr" yaml:"addr"`
	Port               int      `mapstructure:"port" json:"port" yaml:"port"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	s := fetcher.DefaultSettings()
	return Config{
		Connections:        s.Concurrency,
		MaxActive:          s.MaxActiveDownloads,
		MultipartThreshold: s.MultipartThreshold,
		Retries:            s.Retries,
		BackoffInitial:     Duration(400 * time.Millisecond),
		BackoffMax:         Duration(10 * time.Second),
		Timeout:            Duration(30 * time.Second),
		LogLevel:           "info",
		Addr:               "0.0.0.0",
		Port:               8080,
	}
}

// defaultConfigDir is ~/.config.
func defaultConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}

// findConfigFile returns the first existing ~/.config/nidata.{yaml,yml,json}.
func findConfigFile() string {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		p := filepath.Join(defaultConfigDir(), configName+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("data-dir", d.DataDir)
	v.SetDefault("connections", d.Connections)
	v.SetDefault("max-active", d.MaxActive)
	v.SetDefault("multipart-threshold", d.MultipartThreshold)
	v.SetDefault("retries", d.Retries)
	v.SetDefault("backoff-initial", d.BackoffInitial.String())
	v.SetDefault("backoff-max", d.BackoffMax.String())
	v.SetDefault("timeout", d.Timeout.String())
	v.SetDefault("username", d.Username)
	v.SetDefault("password", d.Password)
	v.SetDefault("user-agent", d.UserAgent)
	v.SetDefault("keep-archives", d.KeepArchives)
	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-file", d.LogFile)
	v.SetDefault("addr", d.Addr)
	v.SetDefault("port", d.Port)
}

// LoadConfig reads path, or the default config file when path is empty,
// and overlays NIDATA_* environment variables (NIDATA_MAX_ACTIVE for
// max-active). A missing default file is not an error.
func LoadConfig(path string) (*Config, string, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, path, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, path, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, path, nil
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("invalid duration: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("unsupported duration type %T", data)
		}
	}
}

// flagValues renders the config as flag values, keyed by flag name.
func (c *Config) flagValues() map[string]string {
	return map[string]string{
		"data-dir":            c.DataDir,
		"connections":         strconv.Itoa(c.Connections),
		"max-active":          strconv.Itoa(c.MaxActive),
		"multipart-threshold": c.MultipartThreshold,
		"retries":             strconv.Itoa(c.Retries),
		"backoff-initial":     c.BackoffInitial.String(),
		"backoff-max":         c.BackoffMax.String(),
		"timeout":             c.Timeout.String(),
		"username":            c.Username,
		"password":            c.Password,
		"user-agent":          c.UserAgent,
		"keep-archives":       strconv.FormatBool(c.KeepArchives),
		"log-level":           c.LogLevel,
		"log-file":            c.LogFile,
		"addr":                c.Addr,
		"port":                strconv.Itoa(c.Port),
	}
}

// applyConfig sets every flag of fs the user did not pass from cfg. CLI
// flags always win.
func applyConfig(fs *pflag.FlagSet, cfg *Config) error {
	var errs []error
	for name, val := range cfg.flagValues() {
		f := fs.Lookup(name)
		if f == nil || f.Changed || val == "" {
			continue
		}
		if err := fs.Set(name, val); err != nil {
			errs = append(errs, fmt.Errorf("config %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func newConfigCmd(ro *RootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd(ro))
	cmd.AddCommand(newConfigPathCmd(ro))

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		useJSON bool
		dir     string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Creates a default configuration file at ~/.config/nidata.yaml (or .json)

The configuration file sets default values for command flags. Environment
variables (NIDATA_DATA_DIR, NIDATA_RETRIES, ...) override the file, and CLI
flags always override both.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = defaultConfigDir()
			}
			ext := ".yaml"
			if useJSON {
				ext = ".json"
			}
			configPath := filepath.Join(dir, configName+ext)

			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("could not create config directory: %w", err)
			}

			data, err := encodeConfig(DefaultConfig(), useJSON)
			if err != nil {
				return err
			}
			if err := os.WriteFile(configPath, data, 0o600); err != nil {
				return fmt.Errorf("could not write config file: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created config file: %s\n\n", configPath)
			fmt.Fprintln(out, "Edit this file to set your defaults. For example:")
			fmt.Fprintln(out, "  - Point data-dir at a shared dataset directory")
			fmt.Fprintln(out, "  - Set credentials for protected mirrors")
			fmt.Fprintln(out, "  - Adjust connection and retry settings")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")
	cmd.Flags().BoolVar(&useJSON, "json-format", false, "Create a JSON config instead of YAML")
	cmd.Flags().StringVar(&dir, "dir", "", "Directory to create the file in (default ~/.config)")

	return cmd
}

func encodeConfig(cfg Config, asJSON bool) ([]byte, error) {
	if asJSON {
		return json.MarshalIndent(cfg, "", "  ")
	}
	return yaml.Marshal(cfg)
}

func newConfigShowCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration (file, environment and defaults)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := LoadConfig(ro.Config)
			if err != nil {
				return err
			}
			if cfg.Password != "" {
				cfg.Password = "********"
			}

			out := cmd.OutOrStdout()
			if path == "" {
				fmt.Fprintln(out, "# no config file found, showing defaults")
			} else {
				fmt.Fprintf(out, "# config file: %s\n", path)
			}
			data, err := encodeConfig(*cfg, ro.JSONOut)
			if err != nil {
				return err
			}
			_, err = out.Write(data)
			return err
		},
	}
}

func newConfigPathCmd(ro *RootOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			path := ro.Config
			if path == "" {
				path = findConfigFile()
			}
			if path == "" {
				path = filepath.Join(defaultConfigDir(), configName+".yaml")
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
		},
	}
}
