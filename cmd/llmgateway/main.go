// Package main is the entry point for the llmgateway process.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/llmgateway/llmgateway/internal/apiserver"
	"github.com/llmgateway/llmgateway/internal/breaker"
	"github.com/llmgateway/llmgateway/internal/config"
	"github.com/llmgateway/llmgateway/internal/googleauth"
	"github.com/llmgateway/llmgateway/internal/harvester"
	"github.com/llmgateway/llmgateway/internal/logging"
	"github.com/llmgateway/llmgateway/internal/metrics"
	"github.com/llmgateway/llmgateway/internal/provider"
	"github.com/llmgateway/llmgateway/internal/ratelimit"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	providers, harvesterClient, err := buildProviders(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build provider adapters")
	}

	promReg := prometheus.NewRegistry()

	deps := apiserver.Dependencies{
		Config:    cfg,
		Log:       log,
		Providers: providers,
		Limiter:   ratelimit.New(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPerSecond),
		Breakers: breaker.NewRegistry(breaker.Config{
			FailureThreshold: cfg.CircuitBreaker.FailureThreshold,
			Timeout:          cfg.CircuitBreaker.Timeout,
			SuccessThreshold: cfg.CircuitBreaker.SuccessThreshold,
		}),
		Metrics:   metrics.New(promReg),
		PromReg:   promReg,
		Harvester: harvesterClient,
	}

	srv := apiserver.New(deps)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv,
	}

	go func() {
		log.WithField("addr", httpServer.Addr).Info("llmgateway listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	waitForShutdown(httpServer, log, cfg.Server.ShutdownGracePeriod)
}

// buildProviders constructs the adapter for each backend the config enables
// and, when the OpenAI-Web adapter is configured, the shared harvester
// client it (and the /health endpoint) depend on.
func buildProviders(cfg *config.Config, log *logrus.Logger) (map[provider.Kind]provider.Provider, *harvester.Client, error) {
	providers := make(map[provider.Kind]provider.Provider)

	// A single shared client for every adapter. Its Timeout is a backstop
	// set above the longest per-op deadline (provider.StreamTimeout) the
	// adapters themselves enforce via context.WithTimeout on each call —
	// belt-and-suspenders against a connection that hangs before the
	// adapter's own context deadline would otherwise catch it.
	httpClient := &http.Client{Timeout: provider.StreamTimeout + 10*time.Second}

	vertex, err := buildVertex(cfg, httpClient)
	if err != nil {
		return nil, nil, err
	}
	if vertex != nil {
		providers[provider.KindVertex] = vertex
	}

	if cfg.Anthropic.BridgeURL != "" {
		providers[provider.KindAnthropicCli] = provider.NewAnthropicBridge(cfg.Anthropic.BridgeURL, httpClient)
	}

	var harvesterClient *harvester.Client
	if cfg.OpenAI.HarvesterURL != "" {
		harvesterClient = harvester.New(
			cfg.OpenAI.HarvesterURL,
			httpClient,
			time.Duration(cfg.OpenAI.AccessTokenTTLSecs)*time.Second,
			time.Duration(cfg.OpenAI.ArkoseTokenTTLSecs)*time.Second,
		)
		providers[provider.KindOpenAIWeb] = provider.NewOpenAIWeb(harvesterClient, httpClient, "", "", "")

		if cfg.OpenAI.TLSFingerprintEnabled {
			log.WithField("target", cfg.OpenAI.TLSFingerprintTarget).
				Warn("tls fingerprint impersonation requested but not implemented by this client; requests use Go's default TLS stack")
		}
	}

	return providers, harvesterClient, nil
}

// buildVertex picks the adapter's auth mode from whichever Vertex config
// fields are populated: an API key takes the simpler Gemini-API path, a
// service-account credentials file takes the OAuth/Vertex-AI path. Exactly
// one of the two is expected to be set — config.Validate already enforces
// that at least one is.
func buildVertex(cfg *config.Config, httpClient *http.Client) (provider.Provider, error) {
	if cfg.Vertex.APIKey != "" {
		return provider.NewVertexAPIKey(cfg.Vertex.APIKey, cfg.Vertex.APIKeyBaseURL, httpClient), nil
	}
	if cfg.Vertex.CredentialsPath != "" {
		manager, err := googleauth.NewFromServiceAccountFile(cfg.Vertex.CredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("building google auth manager: %w", err)
		}
		return provider.NewVertexOAuth(manager, cfg.Vertex.ProjectID, cfg.Vertex.Region, cfg.Vertex.OAuthBaseURL, httpClient), nil
	}
	return nil, nil
}

// waitForShutdown blocks until SIGINT/SIGTERM, then drains in-flight
// requests for up to grace before forcing the listener closed.
func waitForShutdown(httpServer *http.Server, log *logrus.Logger, grace time.Duration) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("graceful shutdown failed, forcing close")
		_ = httpServer.Close()
	}
}
