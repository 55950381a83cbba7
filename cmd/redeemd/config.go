package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xraph/redeem/extension"
)

type globalFlags struct {
	configPath  string
	storeDriver string
	boltPath    string
	logLevel    string
}

func registerGlobalFlags(fs *pflag.FlagSet, flags *globalFlags) {
	fs.StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	fs.StringVar(&flags.storeDriver, "store", "", "store driver: memory or bolt")
	fs.StringVar(&flags.boltPath, "bolt-path", "", "BoltDB file for the bolt store")
	fs.StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")
}

// fileConfig is the layout of the --config file. The engine settings live
// under the same "redeem" key the Forge extension reads.
type fileConfig struct {
	Addr   string           `mapstructure:"addr" yaml:"addr"`
	Redeem extension.Config `mapstructure:"redeem" yaml:"redeem"`
}

// Flags bound to config keys. A flag only wins when it was set.
var flagKeys = map[string]string{
	"addr":      "addr",
	"store":     "redeem.store_driver",
	"bolt-path": "redeem.bolt_path",
}

// Environment variables bound to config keys.
var envKeys = map[string]string{
	"redeem.webhook_secret": "REDEEM_WEBHOOK_SECRET",
	"redeem.admin_token":    "REDEEM_ADMIN_TOKEN",
	"redeem.store_driver":   "REDEEM_STORE",
	"redeem.bolt_path":      "REDEEM_BOLT_PATH",
}

// loadConfig layers the config file, REDEEM_* environment variables and
// flags, in increasing precedence, then fills defaults.
func loadConfig(flags *globalFlags, fs *pflag.FlagSet) (fileConfig, error) {
	var fc fileConfig

	v := viper.New()
	v.SetDefault("addr", ":8080")
	v.SetEnvPrefix("REDEEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return fc, fmt.Errorf("bind env %s: %w", env, err)
		}
	}
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fc, fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}

	if flags.configPath != "" {
		v.SetConfigFile(flags.configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return fc, fmt.Errorf("read config %s: %w", flags.configPath, err)
		}
	}

	if err := v.Unmarshal(&fc); err != nil {
		return fc, fmt.Errorf("decode config: %w", err)
	}

	fc.Redeem = fc.Redeem.WithDefaults()
	if fc.Addr == "" {
		fc.Addr = ":8080"
	}
	return fc, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
