package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/meridianpay/gipswitch/internal"
)

const (
	defaultAPIHost   = "0.0.0.0"
	defaultAPIPort   = 8080
	defaultLogLevel  = "info"
	defaultLogOutput = "stdout"

	defaultGatewayTimeout = 30 * time.Second
	defaultNECTimeout     = time.Minute

	defaultFTDCallbackTimeout = 30 * time.Minute
	defaultFTCCallbackTimeout = 30 * time.Minute
	defaultReversalTimeout    = 30 * time.Minute
	defaultTransactionTimeout = time.Hour

	defaultTSQBaseInterval = 5 * time.Minute
	defaultTSQMaxInterval  = time.Hour
	defaultTSQMaxAttempts  = 3

	defaultReversalMaxAttempts = 3

	defaultWebhookMaxAttempts  = 5
	defaultWebhookTimeout      = 30 * time.Second
	defaultWebhookInitialDelay = 5 * time.Second
	defaultWebhookMaxDelay     = time.Hour

	defaultCallbackPollInterval = 2 * time.Second
	defaultTSQPollInterval      = 5 * time.Second
	defaultReversalPollInterval = 5 * time.Second
	defaultWebhookPollInterval  = 5 * time.Second
	defaultWorkerBatch          = 10
)

// defaultInconclusiveCodes are the action codes resolved through a TSQ;
// the empty code is always treated as inconclusive on top of these.
var defaultInconclusiveCodes = []string{"909", "912", "990"}

// Version is the build version, set at build time with -ldflags
var Version = internal.Version

// Config holds the application configuration
type Config struct {
	DB       DBConfig
	API      APIConfig
	Gateway  GatewayConfig
	Codes    CodesConfig
	TSQ      TSQConfig
	Timeout  TimeoutConfig
	Reversal ReversalConfig
	Webhook  WebhookConfig
	Workers  WorkersConfig
	Auth     AuthConfig
	Log      LogConfig
}

// DBConfig holds the PostgreSQL connection configuration
type DBConfig struct {
	URL string `mapstructure:"url"`
}

// APIConfig holds the API-specific configuration
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// GatewayConfig holds the GIP gateway endpoints and per-call timeouts
type GatewayConfig struct {
	NECURL      string        `mapstructure:"nec"`
	FTDURL      string        `mapstructure:"ftd"`
	FTCURL      string        `mapstructure:"ftc"`
	TSQURL      string        `mapstructure:"tsq"`
	CallbackURL string        `mapstructure:"callback"`
	Timeout     time.Duration `mapstructure:"timeout"`
	NECTimeout  time.Duration `mapstructure:"nectimeout"`
}

// CodesConfig holds the action-code classification overrides
type CodesConfig struct {
	Inconclusive []string `mapstructure:"inconclusive"`
}

// TSQConfig holds the status-query retry configuration
type TSQConfig struct {
	BaseInterval time.Duration `mapstructure:"baseinterval"`
	MaxInterval  time.Duration `mapstructure:"maxinterval"`
	MaxAttempts  int           `mapstructure:"maxattempts"`
}

// TimeoutConfig holds the per-leg callback deadlines and the overall
// transaction budget
type TimeoutConfig struct {
	FTD         time.Duration `mapstructure:"ftd"`
	FTC         time.Duration `mapstructure:"ftc"`
	Reversal    time.Duration `mapstructure:"reversal"`
	Transaction time.Duration `mapstructure:"transaction"`
}

// ReversalConfig holds the compensating-reversal retry budget
type ReversalConfig struct {
	MaxAttempts int `mapstructure:"maxattempts"`
}

// WebhookConfig holds the client notification delivery configuration
type WebhookConfig struct {
	MaxAttempts  int           `mapstructure:"maxattempts"`
	Timeout      time.Duration `mapstructure:"timeout"`
	InitialDelay time.Duration `mapstructure:"initialdelay"`
	MaxDelay     time.Duration `mapstructure:"maxdelay"`
	Secret       string        `mapstructure:"secret"`
}

// WorkersConfig holds the background loop polling intervals and batch
// size
type WorkersConfig struct {
	CallbackInterval time.Duration `mapstructure:"callbackinterval"`
	TSQInterval      time.Duration `mapstructure:"tsqinterval"`
	ReversalInterval time.Duration `mapstructure:"reversalinterval"`
	WebhookInterval  time.Duration `mapstructure:"webhookinterval"`
	Batch            int           `mapstructure:"batch"`
}

// AuthConfig holds the institution credential list, each entry in
// institution:apikey:apisecret form
type AuthConfig struct {
	Credentials []string `mapstructure:"credentials"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Output string `mapstructure:"output"`
}

// loadConfig loads configuration from flags, environment variables, and defaults
func loadConfig() (*Config, error) {
	v := viper.New()

	v.SetDefault("api.host", defaultAPIHost)
	v.SetDefault("api.port", defaultAPIPort)
	v.SetDefault("gateway.timeout", defaultGatewayTimeout)
	v.SetDefault("gateway.nectimeout", defaultNECTimeout)
	v.SetDefault("codes.inconclusive", defaultInconclusiveCodes)
	v.SetDefault("tsq.baseinterval", defaultTSQBaseInterval)
	v.SetDefault("tsq.maxinterval", defaultTSQMaxInterval)
	v.SetDefault("tsq.maxattempts", defaultTSQMaxAttempts)
	v.SetDefault("timeout.ftd", defaultFTDCallbackTimeout)
	v.SetDefault("timeout.ftc", defaultFTCCallbackTimeout)
	v.SetDefault("timeout.reversal", defaultReversalTimeout)
	v.SetDefault("timeout.transaction", defaultTransactionTimeout)
	v.SetDefault("reversal.maxattempts", defaultReversalMaxAttempts)
	v.SetDefault("webhook.maxattempts", defaultWebhookMaxAttempts)
	v.SetDefault("webhook.timeout", defaultWebhookTimeout)
	v.SetDefault("webhook.initialdelay", defaultWebhookInitialDelay)
	v.SetDefault("webhook.maxdelay", defaultWebhookMaxDelay)
	v.SetDefault("workers.callbackinterval", defaultCallbackPollInterval)
	v.SetDefault("workers.tsqinterval", defaultTSQPollInterval)
	v.SetDefault("workers.reversalinterval", defaultReversalPollInterval)
	v.SetDefault("workers.webhookinterval", defaultWebhookPollInterval)
	v.SetDefault("workers.batch", defaultWorkerBatch)
	v.SetDefault("log.level", defaultLogLevel)
	v.SetDefault("log.output", defaultLogOutput)

	flag.StringP("db.url", "u", "", "PostgreSQL connection URL (required)")
	flag.StringP("api.host", "a", defaultAPIHost, "API host")
	flag.IntP("api.port", "p", defaultAPIPort, "API port")
	flag.String("gateway.nec", "", "GIP name enquiry endpoint URL (required)")
	flag.String("gateway.ftd", "", "GIP funds transfer debit endpoint URL (required)")
	flag.String("gateway.ftc", "", "GIP funds transfer credit endpoint URL (required)")
	flag.String("gateway.tsq", "", "GIP transaction status query endpoint URL (required)")
	flag.String("gateway.callback", "", "public URL of this switch's /callback endpoint (required)")
	flag.Duration("gateway.timeout", defaultGatewayTimeout, "per-call gateway HTTP timeout")
	flag.Duration("gateway.nectimeout", defaultNECTimeout, "name enquiry HTTP timeout")
	flag.StringSlice("codes.inconclusive", defaultInconclusiveCodes, "action codes resolved through a TSQ (empty code always is)")
	flag.Duration("tsq.baseinterval", defaultTSQBaseInterval, "first TSQ retry interval")
	flag.Duration("tsq.maxinterval", defaultTSQMaxInterval, "TSQ retry interval cap")
	flag.Int("tsq.maxattempts", defaultTSQMaxAttempts, "TSQ attempts before escalation")
	flag.Duration("timeout.ftd", defaultFTDCallbackTimeout, "debit leg callback deadline")
	flag.Duration("timeout.ftc", defaultFTCCallbackTimeout, "credit leg callback deadline")
	flag.Duration("timeout.reversal", defaultReversalTimeout, "reversal callback deadline")
	flag.Duration("timeout.transaction", defaultTransactionTimeout, "overall transaction budget before escalation")
	flag.Int("reversal.maxattempts", defaultReversalMaxAttempts, "reversal dispatch attempts before the row is held")
	flag.Int("webhook.maxattempts", defaultWebhookMaxAttempts, "client webhook delivery attempts")
	flag.Duration("webhook.timeout", defaultWebhookTimeout, "per-delivery webhook HTTP timeout")
	flag.Duration("webhook.initialdelay", defaultWebhookInitialDelay, "first webhook retry delay")
	flag.Duration("webhook.maxdelay", defaultWebhookMaxDelay, "webhook retry delay cap")
	flag.String("webhook.secret", "", "HMAC secret for the X-Switch-Signature webhook header")
	flag.Duration("workers.callbackinterval", defaultCallbackPollInterval, "callback processor polling interval")
	flag.Duration("workers.tsqinterval", defaultTSQPollInterval, "TSQ worker polling interval")
	flag.Duration("workers.reversalinterval", defaultReversalPollInterval, "reversal worker polling interval")
	flag.Duration("workers.webhookinterval", defaultWebhookPollInterval, "webhook deliverer polling interval")
	flag.Int("workers.batch", defaultWorkerBatch, "rows claimed per worker tick")
	flag.StringSlice("auth.credentials", []string{}, "institution credentials, institution:apikey:apisecret, comma-separated")
	flag.StringP("log.level", "l", defaultLogLevel, "log level (debug, info, warn, error, fatal)")
	flag.StringP("log.output", "o", defaultLogOutput, "log output (stdout, stderr or filepath)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "gipswitchd v%s\n\n", Version)
		fmt.Fprintf(os.Stderr, "Usage: gipswitchd [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables are also available with the same name as flags,\n")
		fmt.Fprintf(os.Stderr, "  except for dashes (-) and dots (.) which are replaced by underscores (_).\n")
		fmt.Fprintf(os.Stderr, "  For example, GIPSWITCH_DB_URL or GIPSWITCH_API_PORT\n")
	}

	flag.CommandLine.SortFlags = false
	flag.Parse()

	v.SetEnvPrefix("GIPSWITCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flag.CommandLine); err != nil {
		return nil, fmt.Errorf("error binding flags: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return cfg, nil
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.DB.URL == "" {
		return fmt.Errorf("database URL is required (use --db.url or GIPSWITCH_DB_URL)")
	}
	for name, u := range map[string]string{
		"gateway.nec":      cfg.Gateway.NECURL,
		"gateway.ftd":      cfg.Gateway.FTDURL,
		"gateway.ftc":      cfg.Gateway.FTCURL,
		"gateway.tsq":      cfg.Gateway.TSQURL,
		"gateway.callback": cfg.Gateway.CallbackURL,
	} {
		if u == "" {
			return fmt.Errorf("%s is required", name)
		}
	}
	if cfg.Workers.Batch < 1 {
		return fmt.Errorf("workers.batch must be at least 1")
	}
	for _, c := range cfg.Auth.Credentials {
		if len(strings.Split(c, ":")) != 3 {
			return fmt.Errorf("malformed credential %q, want institution:apikey:apisecret", c)
		}
	}
	return nil
}
