package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/sigrx/internal/common"
	"example.com/sigrx/internal/metrics"
	"example.com/sigrx/internal/server"
	"example.com/sigrx/internal/sigdb"
	sig "example.com/sigrx/internal/signal"
)

func main() {
	configPath := flag.String("config", "config/sigd.yaml", "path to configuration file")
	addr := flag.String("addr", "", "listen address (overrides config port)")
	readTimeout := flag.Duration("read-timeout", 60*time.Second, "HTTP read timeout")
	writeTimeout := flag.Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		common.Fatalf("load config: %v", err)
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		common.Fatalf("storage dir: %v", err)
	}
	closer, err := common.SetupLogging(cfg.logging())
	if err != nil {
		common.Fatalf("setup logging: %v", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	log := common.Logger()

	db, err := sigdb.EnsureLoaded(cfg.Database)
	if err != nil {
		common.Fatalf("signal database: %v", err)
	}
	log.Info().
		Str("database", db.Name).
		Str("sha256", db.Digest).
		Int("signals", db.Config.SignalCount()).
		Int("groups", db.Config.GroupCount()).
		Msg("signal database loaded")

	notifier := sig.NotifierFunc(func(ref sig.Ref, ev sig.Event) {
		log.Debug().Str("ref", db.Config.RefName(ref)).Str("event", ev.String()).Msg("notify")
	})
	srv, err := server.NewServer(server.Options{
		Database:     db,
		StorageDir:   cfg.StorageDir,
		MaxBodyBytes: int64(cfg.MaxBodyMB) << 20,
		Collector:    metrics.New(),
		Notifier:     notifier,
		Logger:       log,
	})
	if err != nil {
		common.Fatalf("server init: %v", err)
	}
	defer srv.Close()

	listenAddr := fmt.Sprintf(":%d", cfg.Port)
	if *addr != "" {
		listenAddr = *addr
	}
	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewRouter(srv),
		ReadTimeout:  *readTimeout,
		WriteTimeout: *writeTimeout,
	}

	log.Info().Str("addr", listenAddr).Msg("sigd listening")
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			common.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown")
	}
	log.Info().Msg("sigd stopped")
}
