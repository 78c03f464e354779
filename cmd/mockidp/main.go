package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	dsig "github.com/russellhaering/goxmldsig"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pandolabs/mockidp/pkg/config"
	"github.com/pandolabs/mockidp/pkg/directory"
	"github.com/pandolabs/mockidp/pkg/httputil"
	"github.com/pandolabs/mockidp/pkg/idp"
	"github.com/pandolabs/mockidp/pkg/observability"
	"github.com/pandolabs/mockidp/pkg/signer"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "mockidp: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.WithField("version", version).Info("starting identity provider")

	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	resolver, err := directory.NewResolver(cfg.Directory)
	if err != nil {
		return fmt.Errorf("failed to configure directory resolver: %w", err)
	}

	keyStore, err := loadKeyStore(cfg, logger)
	if err != nil {
		return err
	}
	xmlSigner, err := signer.NewXMLSigner(keyStore, cfg.SAML.AssertionTTL)
	if err != nil {
		return fmt.Errorf("failed to configure signer: %w", err)
	}
	cert, err := signer.CertificateFromKeyStore(keyStore)
	if err != nil {
		return fmt.Errorf("failed to read signing certificate: %w", err)
	}

	var metrics *observability.Metrics
	registry := prometheus.NewRegistry()
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	svc, err := idp.NewService(idp.Config{
		EntityID:           cfg.SAML.EntityID,
		SSOURL:             cfg.SAML.SSOURL,
		LoginURL:           cfg.SAML.LoginURL,
		Policy:             idp.Policy(cfg.SAML.Policy),
		AllowedDomains:     cfg.SAML.AllowedDomains,
		SigningCertificate: cert,
	}, resolver, xmlSigner, metrics)
	if err != nil {
		return fmt.Errorf("failed to configure identity provider: %w", err)
	}

	var profiles *idp.ProfileDiscoverer
	if cfg.SAML.ProfileDiscovery {
		profiles = idp.NewProfileDiscoverer(cfg.SAML.DefaultDomain)
	}

	apiServer := newAPIServer(cfg, svc, profiles, logger, metrics)
	healthServer := newHealthServer(cfg, resolver, registry)

	shutdownManager := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	if otelProviders != nil {
		shutdownManager.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.WithField("addr", apiServer.Addr).Info("api server listening")
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("health server failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		return shutdownManager.WaitForShutdown()
	})

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("identity provider stopped")
	return nil
}

// loadKeyStore builds the signing key store from configured PEM material,
// falling back to an ephemeral self-signed keypair.
func loadKeyStore(cfg *config.Config, logger *observability.Logger) (dsig.X509KeyStore, error) {
	certPEM, keyPEM, err := cfg.SAML.KeyMaterial()
	if err != nil {
		return nil, err
	}
	if certPEM == nil {
		logger.Warn("no signing key material configured, generating an ephemeral keypair")
		return signer.EphemeralKeyStore(cfg.SAML.EntityID)
	}
	keyStore, err := signer.KeyStoreFromPEM(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key material: %w", err)
	}
	return keyStore, nil
}

func newAPIServer(cfg *config.Config, svc *idp.Service, profiles *idp.ProfileDiscoverer, logger *observability.Logger, metrics *observability.Metrics) *http.Server {
	router := mux.NewRouter()
	idp.NewHandlers(svc, profiles, logger).RegisterRoutes(router)

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	}
	if metrics != nil {
		middlewares = append(middlewares, observability.HTTPMetricsMiddleware(metrics))
	}

	var handler http.Handler = httputil.Chain(middlewares...)(router)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "mockidp")
	}

	return &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func newHealthServer(cfg *config.Config, resolver *directory.Resolver, registry *prometheus.Registry) *http.Server {
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(resolver, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}

	return &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}
}
