package irc

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
	"github.com/inconshreveable/log15"
	"gopkg.in/yaml.v3"

	"github.com/skiznet/netwolf-go/sasl"
)

// ServerConfig is the serializable form of ServerAddr (struct tags for
// file-based config loading; ServerAddr itself stays a plain value type
// used on the hot path).
type ServerConfig struct {
	Host   string `toml:"host" yaml:"host" json:"host"`
	Port   int    `toml:"port" yaml:"port" json:"port"`
	Secure bool   `toml:"secure" yaml:"secure" json:"secure"`
}

// Options configures one Network's connect/registration/send behaviour.
// Fields that cannot round-trip through a config file (callbacks,
// loggers, pluggable collaborators) are left unexported from the
// tag-driven load path and set programmatically after LoadOptions.
type Options struct {
	ConnectTimeout      time.Duration `toml:"connect_timeout" yaml:"connect_timeout" env:"CONNECT_TIMEOUT"`
	RegistrationTimeout time.Duration `toml:"registration_timeout" yaml:"registration_timeout" env:"REGISTRATION_TIMEOUT"`
	PingInterval        time.Duration `toml:"ping_interval" yaml:"ping_interval" env:"PING_INTERVAL"`
	PingTimeout         time.Duration `toml:"ping_timeout" yaml:"ping_timeout" env:"PING_TIMEOUT"`

	Servers        []ServerConfig `toml:"servers" yaml:"servers" json:"servers"`
	ConnectRetries int            `toml:"connect_retries" yaml:"connect_retries" env:"CONNECT_RETRIES"`

	PrimaryNick    string `toml:"primary_nick" yaml:"primary_nick" env:"PRIMARY_NICK"`
	SecondaryNick  string `toml:"secondary_nick" yaml:"secondary_nick" env:"SECONDARY_NICK"`
	Ident          string `toml:"ident" yaml:"ident" env:"IDENT"`
	RealName       string `toml:"real_name" yaml:"real_name" env:"REAL_NAME"`
	ServerPassword string `toml:"server_password" yaml:"server_password" env:"SERVER_PASSWORD"`
	BindHost       string `toml:"bind_host" yaml:"bind_host" env:"BIND_HOST"`

	AcceptAllCertificates          bool     `toml:"accept_all_certificates" yaml:"accept_all_certificates" env:"ACCEPT_ALL_CERTIFICATES"`
	TrustedCertificateFingerprints []string `toml:"trusted_certificate_fingerprints" yaml:"trusted_certificate_fingerprints"`
	TrustedPublicKeyFingerprints   []string `toml:"trusted_public_key_fingerprints" yaml:"trusted_public_key_fingerprints"`
	CheckOnlineRevocation          bool     `toml:"check_online_revocation" yaml:"check_online_revocation" env:"CHECK_ONLINE_REVOCATION"`

	AccountCertificateFile     string `toml:"account_certificate_file" yaml:"account_certificate_file" env:"ACCOUNT_CERTIFICATE_FILE"`
	AccountCertificatePassword string `toml:"account_certificate_password" yaml:"account_certificate_password" env:"ACCOUNT_CERTIFICATE_PASSWORD"`
	AccountPassword            string `toml:"account_password" yaml:"account_password" env:"ACCOUNT_PASSWORD"`

	UseSASL                bool     `toml:"use_sasl" yaml:"use_sasl" env:"USE_SASL"`
	AbortOnSaslFailure     bool     `toml:"abort_on_sasl_failure" yaml:"abort_on_sasl_failure" env:"ABORT_ON_SASL_FAILURE"`
	AllowInsecureSaslPlain bool     `toml:"allow_insecure_sasl_plain" yaml:"allow_insecure_sasl_plain" env:"ALLOW_INSECURE_SASL_PLAIN"`
	DisabledSaslMechs      []string `toml:"disabled_sasl_mechs" yaml:"disabled_sasl_mechs"`

	Codec CommandOptions `toml:"codec" yaml:"codec"`

	RateLimitPerSecond float64 `toml:"rate_limit_per_second" yaml:"rate_limit_per_second" env:"RATE_LIMIT_PER_SECOND"`
	RateLimitBurst     int     `toml:"rate_limit_burst" yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	// Logger receives structured log output. If nil, NewNetwork uses
	// log15.New("network", name), which writes through log15's root
	// handler; no handler or level filter is installed here.
	Logger log15.Logger `toml:"-" yaml:"-"`

	// SaslFactory selects mechanisms during CAP sasl negotiation. If nil
	// and UseSASL is true with AccountPassword set, a sasl.EmersionFactory
	// offering PLAIN and EXTERNAL is used.
	SaslFactory sasl.Factory `toml:"-" yaml:"-"`

	// ShouldEnableCap lets the caller opt non-default caps into the CAP
	// REQ set.
	ShouldEnableCap func(name string) bool `toml:"-" yaml:"-"`

	// MetricsRegisterer, if non-nil, registers the optional Prometheus
	// counters described in the ambient observability stack.
	MetricsRegisterer prometheusRegisterer `toml:"-" yaml:"-"`
}

// DefaultOptions returns the documented defaults for every optional
// field, matching the teacher's "set defaults, then load, then
// env-override" load sequence.
func DefaultOptions() Options {
	return Options{
		ConnectTimeout:         10 * time.Second,
		RegistrationTimeout:    30 * time.Second,
		PingInterval:           2 * time.Minute,
		PingTimeout:            30 * time.Second,
		ConnectRetries:         2,
		UseSASL:                true,
		AbortOnSaslFailure:     true,
		AllowInsecureSaslPlain: false,
		Codec:                  DefaultCommandOptions(),
		RateLimitPerSecond:     1,
		RateLimitBurst:         4,
	}
}

func (o Options) serverAddrs() []ServerAddr {
	out := make([]ServerAddr, 0, len(o.Servers))
	for _, s := range o.Servers {
		out = append(out, ServerAddr{Host: s.Host, Port: s.Port, Secure: s.Secure})
	}
	return out
}

// Validate enforces the structural preconditions spec §4.4.1 and §6
// require before Connect starts.
func (o Options) Validate() error {
	if len(o.Servers) == 0 {
		return invalidArgument("servers must not be empty")
	}
	if o.ConnectRetries < 0 {
		return invalidArgument("connect_retries must be non-negative")
	}
	if o.PrimaryNick == "" {
		return invalidArgument("primary_nick must not be empty")
	}
	if o.Ident == "" && o.identOrDefault() == "" {
		return invalidArgument("ident must not be empty")
	}
	if o.ConnectTimeout < 0 || o.RegistrationTimeout < 0 || o.PingInterval < 0 || o.PingTimeout < 0 {
		return invalidArgument("durations must be non-negative")
	}
	return o.Codec.validate()
}

func (o Options) identOrDefault() string {
	if o.Ident != "" {
		return o.Ident
	}
	return o.PrimaryNick
}

func (o Options) realNameOrDefault() string {
	if o.RealName != "" {
		return o.RealName
	}
	return o.PrimaryNick
}

func (o Options) secondaryNickOrDefault() string {
	if o.SecondaryNick != "" {
		return o.SecondaryNick
	}
	return o.PrimaryNick + "_"
}

// LoadOptions loads Options from a TOML or YAML file (dispatched on
// extension, the way the teacher's config.Load dispatches on source),
// applies DefaultOptions first, then NETWOLF_*-prefixed environment
// overrides via caarlos0/env.
func LoadOptions(path string) (*Options, error) {
	opts := DefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, transportErr("reading config file", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, &opts); err != nil {
			return nil, invalidArgument("parsing toml config: " + err.Error())
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &opts); err != nil {
			return nil, invalidArgument("parsing yaml config: " + err.Error())
		}
	default:
		return nil, invalidArgument("unsupported config extension: " + ext)
	}

	if err := env.Parse(&opts, env.Options{Prefix: "NETWOLF_"}); err != nil {
		return nil, invalidArgument("applying environment overrides: " + err.Error())
	}

	return &opts, nil
}

// prometheusRegisterer is declared locally (rather than importing the
// prometheus package into this file) purely to keep Options' field type
// documented without forcing every caller that doesn't use metrics to
// import prometheus; metrics.go defines the concrete alias.
type prometheusRegisterer = metricsRegisterer
