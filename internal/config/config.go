// Package config loads process configuration with the precedence
// flags(explicit) > env > config file > defaults.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds everything the samlauthd binary needs.
type Config struct {
	// runtime
	Env      string `mapstructure:"env"`       // "dev" | "prod"
	LogLevel string `mapstructure:"log_level"` // debug, info, warn, error ...
	Addr     string `mapstructure:"addr"`      // listen address

	// service provider
	SPEntityID   string `mapstructure:"sp_entity_id"`
	SPACSURL     string `mapstructure:"sp_acs_url"`
	SPSLOURL     string `mapstructure:"sp_slo_url"`
	SPKeyFile    string `mapstructure:"sp_key_file"`
	SPCertFile   string `mapstructure:"sp_cert_file"`
	ForceAuthn   bool   `mapstructure:"force_authn"`
	AllowIdPInit bool   `mapstructure:"allow_idp_initiated"`
	SignMetadata bool   `mapstructure:"sign_metadata"`

	// identity provider
	IdPEntityID   string        `mapstructure:"idp_entity_id"`
	IdPSSOURL     string        `mapstructure:"idp_sso_url"`
	IdPSLOURL     string        `mapstructure:"idp_slo_url"`
	IdPCertFile   string        `mapstructure:"idp_cert_file"`
	IdPSLOSOAP    bool          `mapstructure:"idp_slo_soap"`
	IdPSLOTimeout time.Duration `mapstructure:"idp_slo_timeout"`

	// sessions
	SessionLifetime time.Duration `mapstructure:"session_lifetime"`
	CookieName      string        `mapstructure:"cookie_name"`
	CookieSecure    bool          `mapstructure:"cookie_secure"`
	AppToken        string        `mapstructure:"app_token"`

	// validation tuning
	ClockSkew  time.Duration `mapstructure:"clock_skew"`
	RequestTTL time.Duration `mapstructure:"request_ttl"`

	// attribute mapping
	MailAttributes []string `mapstructure:"mail_attributes"`

	// observability
	EnableMetrics bool `mapstructure:"enable_metrics"`
}

// Load merges defaults, config file, env vars, and explicit flags.
func Load(logger *zap.Logger) (*Config, error) {
	// .env is optional; real env still wins over it.
	if err := godotenv.Load(); err == nil && logger != nil {
		logger.Info("Loaded .env file")
	}

	pflag.String("env", "dev", `Runtime environment "dev"|"prod"`)
	pflag.String("log_level", "info", "Log level")
	pflag.String("addr", ":8080", "Listen address")

	pflag.String("sp_entity_id", "", "SP entity ID (issuer)")
	pflag.String("sp_acs_url", "", "SP assertion consumer service URL")
	pflag.String("sp_slo_url", "", "SP single logout URL")
	pflag.String("sp_key_file", "", "SP private key PEM file")
	pflag.String("sp_cert_file", "", "SP certificate PEM file")
	pflag.Bool("force_authn", false, "Request fresh IdP authentication")
	pflag.Bool("allow_idp_initiated", false, "Accept unsolicited responses")
	pflag.Bool("sign_metadata", false, "Sign published SP metadata")

	pflag.String("idp_entity_id", "", "IdP entity ID")
	pflag.String("idp_sso_url", "", "IdP single sign-on URL")
	pflag.String("idp_slo_url", "", "IdP single logout URL")
	pflag.String("idp_cert_file", "", "IdP signing certificate PEM file")
	pflag.Bool("idp_slo_soap", false, "Use back-channel SOAP for single logout")
	pflag.String("idp_slo_timeout", "10s", "Back-channel SLO round-trip timeout")

	pflag.String("session_lifetime", "8h", "Session lifetime")
	pflag.String("cookie_name", "samlauth_session", "Session cookie name")
	pflag.Bool("cookie_secure", true, "Set the Secure flag on session cookies")
	pflag.String("app_token", "", "Opaque token copied into every session")

	pflag.String("clock_skew", "5m", "Clock skew tolerance for assertion timing")
	pflag.String("request_ttl", "10m", "Pending request ID lifetime")

	pflag.StringSlice("mail_attributes", nil, "Attribute names checked for the session mail field")

	pflag.Bool("enable_metrics", true, "Expose Prometheus metrics")
	pflag.Parse()

	v := viper.New()
	v.SetEnvPrefix("SAMLAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for _, k := range allKeys() {
		_ = v.BindEnv(k)
	}

	// Optional config.* files (yaml|yml|json|toml).
	for _, ext := range [...]string{"yaml", "yml", "json", "toml"} {
		file := "config." + ext
		if _, err := os.Stat(file); err != nil {
			continue
		}
		b, err := os.ReadFile(file)
		if err != nil {
			if logger != nil {
				logger.Warn("cannot read config file", zap.String("file", file), zap.Error(err))
			}
			continue
		}
		v.SetConfigType(ext)
		if err := v.MergeConfig(bytes.NewReader(b)); err != nil {
			if logger != nil {
				logger.Warn("cannot decode config file", zap.String("file", file), zap.Error(err))
			}
			continue
		}
		if logger != nil {
			logger.Info("Loaded config file", zap.String("file", file))
		}
	}

	setDefaults(v)

	// Only explicitly set flags override env and file values.
	pflag.CommandLine.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			_ = v.BindPFlag(f.Name, f)
		}
	})

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("addr", ":8080")
	v.SetDefault("idp_slo_timeout", "10s")
	v.SetDefault("session_lifetime", "8h")
	v.SetDefault("cookie_name", "samlauth_session")
	v.SetDefault("cookie_secure", true)
	v.SetDefault("clock_skew", "5m")
	v.SetDefault("request_ttl", "10m")
	v.SetDefault("enable_metrics", true)
}

func allKeys() []string {
	return []string{
		"env", "log_level", "addr",
		"sp_entity_id", "sp_acs_url", "sp_slo_url",
		"sp_key_file", "sp_cert_file",
		"force_authn", "allow_idp_initiated", "sign_metadata",
		"idp_entity_id", "idp_sso_url", "idp_slo_url", "idp_cert_file",
		"idp_slo_soap", "idp_slo_timeout",
		"session_lifetime", "cookie_name", "cookie_secure", "app_token",
		"clock_skew", "request_ttl",
		"mail_attributes",
		"enable_metrics",
	}
}
