// Package config loads and validates the settings server.HTTPServer needs
// to bind a listener and build a conn.Handler for every accepted
// connection. Grounded on nabbar-golib/httpserver/config.go's
// ServerConfig: a mapstructure-tagged struct loaded through
// github.com/spf13/viper and validated with
// github.com/go-playground/validator/v10, plus TLS material resolved the
// way that package's certificates.Config does (cert/key pair, with a
// PKCS#12 bundle path accepted but not yet decodable — see TLS.Load).
package config

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/badu/nio-http/conn"
	"github.com/badu/nio-http/internal/errs"
	"github.com/badu/nio-http/keepalive"
)

// TLS is the certificate material for one listener. Grounded on
// nabbar-golib/httpserver/config.go's libtls.Config field: a certificate
// pair is the supported path; CertBundle is accepted for forward
// compatibility but Load rejects it today (see Decisions in DESIGN.md).
type TLS struct {
	CertFile   string `mapstructure:"cert_file" json:"cert_file" yaml:"cert_file"`
	KeyFile    string `mapstructure:"key_file" json:"key_file" yaml:"key_file"`
	CertBundle string `mapstructure:"cert_bundle" json:"cert_bundle" yaml:"cert_bundle"`
	Passphrase string `mapstructure:"passphrase" json:"passphrase" yaml:"passphrase"`
}

// ErrUnsupportedBundle is returned by TLS.Load when CertBundle is set: a
// passphrase-protected PKCS#12 bundle has no decoder in this module's
// dependency set (golang.org/x/crypto/pkcs12 is not part of the retrieved
// stack), so the request fails loudly instead of being silently ignored.
var ErrUnsupportedBundle = errs.New(errs.KindBindFailure, "PKCS#12 cert bundles are not supported; supply cert_file/key_file instead")

// Enabled reports whether any TLS material was configured at all.
func (t TLS) Enabled() bool {
	return t.CertFile != "" || t.KeyFile != "" || t.CertBundle != ""
}

// Load resolves t into a *tls.Config, or returns (nil, nil) if t is
// empty (plaintext listener).
func (t TLS) Load() (*tls.Config, error) {
	if !t.Enabled() {
		return nil, nil
	}
	if t.CertBundle != "" {
		return nil, ErrUnsupportedBundle
	}
	cert, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, errs.Wrap(errs.KindBindFailure, "loading TLS certificate pair", err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// Options is the top-level, loadable configuration for one HTTPServer,
// covering everything server.Config needs: bind target, keep-alive
// policy, idle timeout, ServerOptions and TLS material.
type Options struct {
	// Name identifies this server among several loaded at once. It is
	// optional, and nothing in this package fills an empty Name from
	// Listen or any other field.
	Name string `mapstructure:"name" json:"name" yaml:"name"`

	// Listen is host:port (or just :port) to bind. Required.
	Listen string `mapstructure:"listen" json:"listen" yaml:"listen" validate:"required,hostname_port"`

	// AllowPortReuse enables SO_REUSEPORT so multiple processes can
	// share the same bound port.
	AllowPortReuse bool `mapstructure:"allow_port_reuse" json:"allow_port_reuse" yaml:"allow_port_reuse"`

	// ShutdownTimeout bounds how long Stop waits for connections to
	// quiesce. Zero means server.DefaultShutdownTimeout.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`

	// IdleTimeout closes a connection that sits between requests (or
	// never sends one) longer than this. Zero (or anything under one
	// second) means conn.DefaultIdleTimeoutSeconds, 60 seconds.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" json:"idle_timeout" yaml:"idle_timeout"`

	// KeepAliveLimit caps the number of requests served per connection
	// before it's closed. Zero (the default) means unlimited, matching
	// keepalive.Unlimited.
	KeepAliveLimit uint32 `mapstructure:"keep_alive_limit" json:"keep_alive_limit" yaml:"keep_alive_limit"`

	// RequestSizeLimit caps the bytes accepted for one request's
	// Content-Length (and, if chunked, its accumulated body). Zero or
	// negative disables the limit.
	RequestSizeLimit int64 `mapstructure:"request_size_limit" json:"request_size_limit" yaml:"request_size_limit" validate:"omitempty,min=0"`

	// ConnectionLimit caps concurrently open connections. Zero or
	// negative disables the limit.
	ConnectionLimit int32 `mapstructure:"connection_limit" json:"connection_limit" yaml:"connection_limit" validate:"omitempty,min=0"`

	// TLS is the certificate material for this listener; zero value
	// means plaintext.
	TLS TLS `mapstructure:"tls" json:"tls" yaml:"tls"`
}

// Validate runs struct-tag validation and turns the first failure into
// an *errs.Error of kind BindFailure, matching
// nabbar-golib/httpserver/config.go's ServerConfig.Validate shape.
func (o Options) Validate() error {
	if err := validator.New().Struct(o); err != nil {
		if invalid, ok := err.(*validator.InvalidValidationError); ok {
			return errs.Wrap(errs.KindBindFailure, "invalid config struct", invalid)
		}
		for _, fe := range err.(validator.ValidationErrors) {
			return errs.New(errs.KindBindFailure,
				fmt.Sprintf("config field %q fails constraint %q", fe.Field(), fe.ActualTag()))
		}
	}
	return nil
}

// KeepAlivePolicy builds the keepalive.State new connections start from.
func (o Options) KeepAlivePolicy() keepalive.State {
	if o.KeepAliveLimit == 0 {
		return keepalive.Unlimited()
	}
	return keepalive.Limited(o.KeepAliveLimit)
}

// ServerOptions builds the conn.ServerOptions this Options describes.
func (o Options) ServerOptions() *conn.ServerOptions {
	out := &conn.ServerOptions{}
	if o.RequestSizeLimit > 0 {
		limit := o.RequestSizeLimit
		out.RequestSizeLimit = &limit
	}
	if o.ConnectionLimit > 0 {
		limit := o.ConnectionLimit
		out.ConnectionLimit = &limit
	}
	return out
}

// IdleTimeoutSeconds adapts IdleTimeout to the whole-second granularity
// conn.Config expects.
func (o Options) IdleTimeoutSeconds() int {
	if o.IdleTimeout <= 0 {
		return 0
	}
	return int(o.IdleTimeout / time.Second)
}

// Load reads Options from path (any format viper supports: yaml, json,
// toml, ...), applies defaults, and validates the result, the way
// nabbar-golib/httpserver/config.go's pool loader reads a file into
// ServerConfig before calling Validate.
func Load(path string) (Options, error) {
	v := viper.New()
	v.SetConfigFile(path)
	applyDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Options{}, errs.Wrap(errs.KindBindFailure, "reading config file", err)
	}

	var out Options
	if err := v.Unmarshal(&out); err != nil {
		return Options{}, errs.Wrap(errs.KindBindFailure, "decoding config", err)
	}
	if err := out.Validate(); err != nil {
		return Options{}, err
	}
	return out, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("allow_port_reuse", false)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("idle_timeout", 0)
	v.SetDefault("keep_alive_limit", 0)
	v.SetDefault("request_size_limit", 0)
	v.SetDefault("connection_limit", 0)
}
