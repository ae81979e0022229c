package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/allenheltondev/momento-a2a-agent/internal/config"
)

// startHTTPServer starts the HTTP/HTTPS listener described by cfg.SSL(),
// generalizing the teacher's transport.StartHTTPServer: manual cert/key or
// ACME via autocert.Manager, an HTTP challenge listener on :80 for ACME, and
// a buffered error channel reporting listener failures after startup.
func startHTTPServer(ctx context.Context, logger *zap.Logger, cfg *config.Config, mux http.Handler) (*http.Server, <-chan error, error) {
	listenAddr := cfg.ListenAddr()
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	server := &http.Server{
		Addr:         listenAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second, // long enough for SSE streams
		IdleTimeout:  90 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	ssl := cfg.SSL()
	isACME := false
	var certFile, keyFile string

	if ssl.Enabled {
		if ssl.Mode == "acme" {
			isACME = true
			if len(ssl.AcmeDomains) == 0 {
				return nil, nil, errors.New("acme SSL mode requires at least one domain (config key server.ssl.acme_domains)")
			}
			cacheDir := ssl.AcmeCacheDir
			if err := os.MkdirAll(cacheDir, 0o700); err != nil {
				return nil, nil, fmt.Errorf("failed to create ACME cache directory %q: %w", cacheDir, err)
			}
			certManager := autocert.Manager{
				Prompt:     autocert.AcceptTOS,
				HostPolicy: autocert.HostWhitelist(ssl.AcmeDomains...),
				Email:      ssl.AcmeEmail,
				Cache:      autocert.DirCache(cacheDir),
			}
			server.TLSConfig = certManager.TLSConfig()

			go func() {
				challengeServer := &http.Server{Addr: ":80", Handler: certManager.HTTPHandler(nil)}
				logger.Info("starting ACME HTTP challenge listener", zap.String("addr", ":80"))
				if err := challengeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("ACME HTTP challenge listener error", zap.Error(err))
				}
			}()
		} else {
			if ssl.CertFile == "" || ssl.KeyFile == "" {
				return nil, nil, errors.New("manual SSL mode requires server.ssl.cert_file and server.ssl.key_file")
			}
			certFile, keyFile = ssl.CertFile, ssl.KeyFile
		}
	}

	listenerErrChan := make(chan error, 1)
	go func() {
		defer close(listenerErrChan)
		var err error
		if ssl.Enabled {
			logger.Info("starting HTTPS server", zap.String("addr", listenAddr), zap.Bool("acme", isACME))
			err = server.ListenAndServeTLS(certFile, keyFile)
		} else {
			logger.Info("starting HTTP server", zap.String("addr", listenAddr))
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server listener error", zap.Error(err))
			listenerErrChan <- err
			return
		}
		logger.Info("HTTP server listener stopped gracefully")
	}()

	return server, listenerErrChan, nil
}

// shutdownHTTPServer attempts a graceful shutdown, bounded by ctx.
func shutdownHTTPServer(ctx context.Context, logger *zap.Logger, server *http.Server) {
	if server == nil {
		return
	}
	logger.Info("shutting down HTTP server")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		logger.Info("HTTP server shut down gracefully")
	}
}
