// Command samlauthd runs the SAML SP authentication service.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/philiph/samlauth"
	"github.com/philiph/samlauth/internal/adapters/driven/metrics"
	"github.com/philiph/samlauth/internal/adapters/driven/request"
	"github.com/philiph/samlauth/internal/adapters/driving/httpd"
	"github.com/philiph/samlauth/internal/config"
	"github.com/philiph/samlauth/internal/core/ports"
	"github.com/philiph/samlauth/internal/core/sp"
	"github.com/philiph/samlauth/internal/logging"
)

func main() {
	boot := logging.BootstrapLogger()

	cfg, err := config.Load(boot)
	if err != nil {
		boot.Fatal("loading configuration failed", zap.Error(err))
	}

	logger := logging.MustBuildLogger(cfg.LogLevel, cfg.Env)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("samlauthd failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	spCfg, idpCfg, err := buildConfigs(cfg)
	if err != nil {
		return err
	}

	requestStore := request.NewInMemoryStoreWithCleanup(time.Minute)
	defer requestStore.Close()

	var recorder ports.MetricsRecorder = metrics.NewNoopMetricsRecorder()
	if cfg.EnableMetrics {
		recorder = metrics.NewPrometheusMetricsRecorder()
	}

	engine, err := samlauth.New(spCfg, idpCfg, samlauth.Options{
		RequestStore:    requestStore,
		Metrics:         recorder,
		Logger:          logger,
		SessionLifetime: cfg.SessionLifetime,
		AppToken:        cfg.AppToken,
		SignMetadata:    cfg.SignMetadata,
	})
	if err != nil {
		return err
	}

	server := httpd.NewServer(
		engine.Requests,
		engine.Validator,
		engine.Sessions,
		engine.Logout,
		engine.Metadata,
		recorder,
		logger,
		httpd.Options{
			CookieName:    cfg.CookieName,
			CookieSecure:  cfg.CookieSecure,
			EnableMetrics: cfg.EnableMetrics,
		},
	)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return err
		}
	}

	return nil
}

func buildConfigs(cfg *config.Config) (*sp.ServiceProviderConfig, *sp.IdentityProviderConfig, error) {
	spCfg := &sp.ServiceProviderConfig{
		EntityID:          cfg.SPEntityID,
		ACSURL:            cfg.SPACSURL,
		SLOURL:            cfg.SPSLOURL,
		ForceAuthn:        cfg.ForceAuthn,
		ClockSkew:         cfg.ClockSkew,
		AllowIdPInitiated: cfg.AllowIdPInit,
		MailAttributes:    cfg.MailAttributes,
		RequestTTL:        cfg.RequestTTL,
	}

	if cfg.SPKeyFile != "" {
		key, err := sp.LoadPrivateKey(cfg.SPKeyFile)
		if err != nil {
			return nil, nil, err
		}
		cert, err := sp.LoadCertificate(cfg.SPCertFile)
		if err != nil {
			return nil, nil, err
		}
		spCfg.SigningKey = key
		spCfg.SigningCert = cert
		spCfg.DecryptionKey = key
		spCfg.DecryptionCert = cert
	}

	idpCerts, err := sp.LoadCertificates(cfg.IdPCertFile)
	if err != nil {
		return nil, nil, err
	}

	binding := sp.SLOModeRedirect
	if cfg.IdPSLOSOAP {
		binding = sp.SLOModeSOAP
	}

	idpCfg := &sp.IdentityProviderConfig{
		EntityID:     cfg.IdPEntityID,
		SSOURL:       cfg.IdPSSOURL,
		SLOURL:       cfg.IdPSLOURL,
		Certificates: idpCerts,
		SLOBinding:   binding,
		SLOTimeout:   cfg.IdPSLOTimeout,
	}

	return spCfg, idpCfg, nil
}
