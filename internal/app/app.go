package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/voteguard/voteguard-identity/internal/api"
	"github.com/voteguard/voteguard-identity/internal/config"
	"github.com/voteguard/voteguard-identity/internal/logging"
	"github.com/voteguard/voteguard-identity/internal/notify"
	"github.com/voteguard/voteguard-identity/internal/pki"
	"github.com/voteguard/voteguard-identity/internal/service"
	"github.com/voteguard/voteguard-identity/internal/storage"
	"github.com/voteguard/voteguard-identity/internal/storage/postgres"
	"github.com/voteguard/voteguard-identity/internal/token"
)

type Application struct {
	Server *http.Server
	Store  storage.Store
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	store, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, cfg.Storage.MaxConns, cfg.Storage.MinConns)
	if err != nil {
		return nil, fmt.Errorf("open postgres store: %w", err)
	}

	services, err := BuildServices(cfg, store, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	handler := api.NewHandler(api.HandlerParams{
		Auth:      services.Auth,
		Votes:     services.Votes,
		Admin:     services.Admin,
		Provision: services.Provision,
		Health:    services.Health,
		Logger:    logger,
	})
	env := logging.Environment{
		Service: cfg.Logging.Service,
		Version: cfg.Logging.Version,
		Commit:  cfg.Logging.Commit,
		Region:  cfg.Logging.Region,
	}
	root := logging.Middleware(logger, env)(handler.Router())

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           root,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return &Application{Server: server, Store: store}, nil
}

// Services bundles the constructed service layer so the import command can
// reuse the same wiring without an HTTP server.
type Services struct {
	Auth      *service.AuthService
	Votes     *service.VoteService
	Admin     *service.IdentityAdminService
	Provision *service.ProvisionService
	Health    *service.HealthService
}

func BuildServices(cfg *config.Config, store storage.Store, logger *slog.Logger) (*Services, error) {
	authority, err := pki.New(pki.Params{
		CertsDir:      cfg.CA.CertsDir,
		CACertPath:    cfg.CA.CACertPath,
		CAKeyPath:     cfg.CA.CAKeyPath,
		KeyPassphrase: cfg.CA.KeyPassphrase,
		CertDays:      cfg.CA.CertDays,
		StageTimeout:  time.Duration(cfg.CA.StageTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("build certificate authority: %w", err)
	}

	tokens := token.NewIssuer([]byte(cfg.Auth.TokenSigningKey), cfg.Logging.Service)

	auth, err := service.NewAuth(service.AuthParams{
		Store:           store,
		Tokens:          tokens,
		TOTPIssuer:      cfg.Auth.TOTPIssuer,
		IntermediateTTL: time.Duration(cfg.Auth.IntermediateTTLMinutes) * time.Minute,
		SessionTTL:      time.Duration(cfg.Auth.SessionTTLMinutes) * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("build auth service: %w", err)
	}
	votes, err := service.NewVote(store)
	if err != nil {
		return nil, fmt.Errorf("build vote service: %w", err)
	}
	admin, err := service.NewIdentityAdmin(store)
	if err != nil {
		return nil, fmt.Errorf("build identity admin service: %w", err)
	}
	provision, err := service.NewProvision(service.ProvisionParams{
		Store:          store,
		Authority:      authority,
		Notifier:       notify.LogNotifier{Logger: logger},
		TOTPIssuer:     cfg.Auth.TOTPIssuer,
		MaxConcurrency: cfg.Import.MaxConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("build provision service: %w", err)
	}
	health, err := service.NewHealth(store, cfg.Logging.Service, cfg.Logging.Version)
	if err != nil {
		return nil, fmt.Errorf("build health service: %w", err)
	}

	return &Services{
		Auth:      auth,
		Votes:     votes,
		Admin:     admin,
		Provision: provision,
		Health:    health,
	}, nil
}

func (a *Application) Shutdown(ctx context.Context) error {
	defer a.Store.Close()
	return a.Server.Shutdown(ctx)
}
