// Package api exposes the HTTP surface of the switch: the client-facing
// transfer endpoints, the inbound GIP callback receiver and a small
// operator surface.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/meridianpay/gipswitch/intake"
	"github.com/meridianpay/gipswitch/log"
	"github.com/meridianpay/gipswitch/storage"
)

const (
	maxRequestBodyLog = 512 // Maximum length of request body to log
)

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host        string
	Port        int
	Storage     *storage.Store
	Intake      *intake.Intake
	Credentials []Credential
}

// API type represents the API HTTP server.
type API struct {
	router  *chi.Mux
	storage *storage.Store
	intake  *intake.Intake
	creds   []Credential
}

// New creates a new API instance with the given configuration and
// starts the HTTP server.
func New(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Storage == nil {
		return nil, fmt.Errorf("missing storage instance")
	}
	if conf.Intake == nil {
		return nil, fmt.Errorf("missing intake instance")
	}
	a := &API{
		storage: conf.Storage,
		intake:  conf.Intake,
		creds:   conf.Credentials,
	}
	a.initRouter()
	go func() {
		log.Infow("starting API server", "host", conf.Host, "port", conf.Port)
		if err := http.ListenAndServe(fmt.Sprintf("%s:%d", conf.Host, conf.Port), a.router); err != nil {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// registerHandlers registers all the HTTP handlers for the API endpoints.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})

	// the gateway answers on this route; no institution credentials
	log.Infow("register handler", "endpoint", GipCallbackEndpoint, "method", "POST")
	a.router.Post(GipCallbackEndpoint, a.gipCallback)

	log.Infow("register handler", "endpoint", AdminAlertsEndpoint, "method", "GET")
	a.router.Get(AdminAlertsEndpoint, a.adminAlerts)

	// client-facing endpoints behind institution auth
	a.router.Group(func(r chi.Router) {
		r.Use(authMiddleware(a.creds))
		log.Infow("register handler", "endpoint", NameEnquiryEndpoint, "method", "POST")
		r.Post(NameEnquiryEndpoint, a.nameEnquiry)
		log.Infow("register handler", "endpoint", FundsTransferEndpoint, "method", "POST")
		r.Post(FundsTransferEndpoint, a.fundsTransfer)
		log.Infow("register handler", "endpoint", StatusQueryEndpoint, "method", "POST")
		r.Post(StatusQueryEndpoint, a.statusQuery)
		log.Infow("register handler", "endpoint", TransactionEndpoint, "method", "GET")
		r.Get(TransactionEndpoint, a.transaction)
	})
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", APIKeyHeader, APISecretHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)
	a.router.Use(loggingMiddleware(maxRequestBodyLog))
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	a.router.Use(middleware.Timeout(45 * time.Second))

	a.registerHandlers()
}
