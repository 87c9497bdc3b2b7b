// Package service wires the long-running pieces of the switch behind
// uniform Start/Stop supervisors so main stays small.
package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/meridianpay/gipswitch/api"
	"github.com/meridianpay/gipswitch/intake"
	"github.com/meridianpay/gipswitch/log"
	"github.com/meridianpay/gipswitch/storage"
)

// APIService represents a service that manages the HTTP API server.
type APIService struct {
	storage *storage.Store
	intake  *intake.Intake
	API     *api.API
	mu      sync.Mutex
	cancel  context.CancelFunc
	host    string
	port    int
	creds   []api.Credential
}

// NewAPI creates a new APIService instance.
func NewAPI(store *storage.Store, itk *intake.Intake, host string, port int, creds []api.Credential, disableLogging bool) *APIService {
	if disableLogging {
		api.DisabledLogging = disableLogging
		log.Debugw("API logging is disabled")
	}
	return &APIService{
		storage: store,
		intake:  itk,
		host:    host,
		port:    port,
		creds:   creds,
	}
}

// Start begins the API server. It returns an error if the service
// is already running or if it fails to start.
func (as *APIService) Start(ctx context.Context) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		return fmt.Errorf("service already running")
	}

	_, as.cancel = context.WithCancel(ctx)

	var err error
	as.API, err = api.New(&api.APIConfig{
		Host:        as.host,
		Port:        as.port,
		Storage:     as.storage,
		Intake:      as.intake,
		Credentials: as.creds,
	})
	if err != nil {
		as.cancel = nil
		return fmt.Errorf("failed to start API server: %w", err)
	}

	return nil
}

// Stop halts the API server.
func (as *APIService) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.cancel != nil {
		as.cancel()
		as.cancel = nil
	}
}

// HostPort returns the host and port of the API server.
func (as *APIService) HostPort() (string, int) {
	return as.host, as.port
}
