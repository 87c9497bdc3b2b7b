package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/meridianpay/gipswitch/api"
	"github.com/meridianpay/gipswitch/engine"
	"github.com/meridianpay/gipswitch/gateway"
	"github.com/meridianpay/gipswitch/intake"
	"github.com/meridianpay/gipswitch/log"
	"github.com/meridianpay/gipswitch/service"
	"github.com/meridianpay/gipswitch/storage"
	"github.com/meridianpay/gipswitch/types"
)

// Services holds all the running services
type Services struct {
	Storage *storage.Store
	API     *service.APIService
	Workers *service.WorkersService
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level, cfg.Log.Output)
	log.Infow("starting gipswitchd", "version", Version)

	if err := validateConfig(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := setupServices(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to setup services: %v", err)
	}
	defer shutdownServices(services)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Infow("received signal, shutting down", "signal", sig.String())
}

// setupServices initializes and starts all required services
func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	services := &Services{}

	log.Infow("initializing storage", "url", redactURL(cfg.DB.URL))
	store, err := storage.New(ctx, storage.Config{
		DatabaseURL:         cfg.DB.URL,
		FTDCallbackTimeout:  cfg.Timeout.FTD,
		FTCCallbackTimeout:  cfg.Timeout.FTC,
		ReversalTimeout:     cfg.Timeout.Reversal,
		TransactionTimeout:  cfg.Timeout.Transaction,
		ReversalMaxAttempts: cfg.Reversal.MaxAttempts,
		WebhookMaxAttempts:  cfg.Webhook.MaxAttempts,
		WebhookInitialDelay: cfg.Webhook.InitialDelay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	services.Storage = store

	gip := gateway.NewHTTPClient(gateway.Config{
		NECURL:      cfg.Gateway.NECURL,
		FTDURL:      cfg.Gateway.FTDURL,
		FTCURL:      cfg.Gateway.FTCURL,
		TSQURL:      cfg.Gateway.TSQURL,
		CallbackURL: cfg.Gateway.CallbackURL,
		Timeout:     cfg.Gateway.Timeout,
		NECTimeout:  cfg.Gateway.NECTimeout,
	})

	rules := engine.Rules{
		InconclusiveCodes: types.InconclusiveCodeSet(cfg.Codes.Inconclusive),
		TSQBaseInterval:   cfg.TSQ.BaseInterval,
		TSQMaxInterval:    cfg.TSQ.MaxInterval,
		TSQMaxAttempts:    cfg.TSQ.MaxAttempts,
	}

	itk := intake.New(store, gip)

	log.Infow("starting API service", "host", cfg.API.Host, "port", cfg.API.Port)
	services.API = service.NewAPI(store, itk, cfg.API.Host, cfg.API.Port, parseCredentials(cfg.Auth.Credentials), false)
	if err := services.API.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start API service: %w", err)
	}

	workersCfg := service.DefaultWorkersConfig()
	workersCfg.CallbackInterval = cfg.Workers.CallbackInterval
	workersCfg.CallbackBatch = cfg.Workers.Batch
	workersCfg.TSQInterval = cfg.Workers.TSQInterval
	workersCfg.ReversalInterval = cfg.Workers.ReversalInterval
	workersCfg.Webhook.Interval = cfg.Workers.WebhookInterval
	workersCfg.Webhook.Batch = cfg.Workers.Batch
	workersCfg.Webhook.Timeout = cfg.Webhook.Timeout
	workersCfg.Webhook.InitialDelay = cfg.Webhook.InitialDelay
	workersCfg.Webhook.MaxDelay = cfg.Webhook.MaxDelay
	workersCfg.Webhook.SigningSecret = cfg.Webhook.Secret

	log.Info("starting worker fleet")
	services.Workers = service.NewWorkers(store, gip, rules, workersCfg)
	if err := services.Workers.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start workers: %w", err)
	}

	log.Info("gipswitchd is running, ready to process transfers")
	return services, nil
}

// shutdownServices gracefully shuts down all services
func shutdownServices(services *Services) {
	if services == nil {
		return
	}

	// Stop services in reverse order of startup
	if services.Workers != nil {
		services.Workers.Stop()
	}
	if services.API != nil {
		services.API.Stop()
	}
	if services.Storage != nil {
		services.Storage.Close()
	}
}

// parseCredentials splits institution:apikey:apisecret entries,
// validated earlier by validateConfig.
func parseCredentials(entries []string) []api.Credential {
	creds := make([]api.Credential, 0, len(entries))
	for _, e := range entries {
		parts := strings.SplitN(e, ":", 3)
		creds = append(creds, api.Credential{
			InstitutionID: parts[0],
			APIKey:        parts[1],
			APISecret:     parts[2],
		})
	}
	return creds
}

// redactURL strips everything before the last @ so credentials never
// reach the logs.
func redactURL(u string) string {
	if i := strings.LastIndexByte(u, '@'); i >= 0 {
		return "***" + u[i:]
	}
	return u
}
