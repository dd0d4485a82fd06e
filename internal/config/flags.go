package config

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. PREDICTD_MODELS_DIR.
const EnvPrefix = "PREDICTD"

// RegisterFlags adds the serve flags to fs. Flag defaults are empty so that
// unset flags never shadow values from the config file.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to config file (yaml|yml|json|toml)")
	fs.String("addr", "", "HTTP listen address (default :8000)")
	fs.String("models-dir", "", "Directory model paths are resolved against (default ./models)")
	fs.String("static-dir", "", "Directory served at / for the web frontend")
	fs.String("log-level", "", "Log level: debug|info|warn|error (default info)")
	fs.Int64("max-body-bytes", 0, "Maximum request body size in bytes")
	fs.Int("predict-timeout", 0, "Per-request inference timeout in seconds (0 disables)")
	fs.Int64("max-image-pixels", 0, "Reject images whose width*height exceeds this (default 89478485)")
	fs.String("ort-library", "", "Path to the onnxruntime shared library")
	fs.Bool("cors", false, "Enable CORS")
	fs.StringSlice("cors-origins", nil, "Allowed CORS origins (comma separated)")
}

// NewViper returns a viper instance bound to fs and to PREDICTD_* variables.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	return v, nil
}

// Overlay applies every key that was set by flag or environment onto cfg.
// Precedence is flag > env > file; Defaults are merged afterwards.
func Overlay(cfg Config, v *viper.Viper) Config {
	if v.IsSet("addr") {
		cfg.Addr = v.GetString("addr")
	}
	if v.IsSet("models-dir") {
		cfg.ModelsDir = v.GetString("models-dir")
	}
	if v.IsSet("static-dir") {
		cfg.StaticDir = v.GetString("static-dir")
	}
	if v.IsSet("log-level") {
		cfg.LogLevel = v.GetString("log-level")
	}
	if v.IsSet("max-body-bytes") {
		cfg.MaxBodyBytes = v.GetInt64("max-body-bytes")
	}
	if v.IsSet("predict-timeout") {
		cfg.PredictTimeoutSeconds = ptr(v.GetInt("predict-timeout"))
	}
	if v.IsSet("max-image-pixels") {
		cfg.MaxImagePixels = v.GetInt64("max-image-pixels")
	}
	if v.IsSet("ort-library") {
		cfg.ORTLibrary = v.GetString("ort-library")
	}
	if v.IsSet("cors") {
		cfg.CORS.Enabled = v.GetBool("cors")
	}
	if v.IsSet("cors-origins") {
		// Env values arrive as one string; flags as a slice.
		cfg.CORS.Origins = splitCSV(strings.Join(v.GetStringSlice("cors-origins"), ","))
	}
	return cfg
}

// Resolve loads the config file named by the "config" key (if any), applies
// flag and environment overrides, fills defaults and validates the result.
func Resolve(v *viper.Viper) (Config, error) {
	var cfg Config
	if p := v.GetString("config"); p != "" {
		var err error
		if cfg, err = Load(p); err != nil {
			return Config{}, err
		}
	}
	cfg = Overlay(cfg, v).Merge(Defaults())
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// splitCSV splits a comma-separated list, trimming blanks and dropping empty
// items.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
