// Command grepwise-server is the GrepWise process: it loads
// configuration, wires every core component (C1-C12) together, and
// serves the ingestion, admin, query and real-time surfaces over HTTP
// until asked to shut down.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grepwise/grepwise/infrastructure/metrics"
	"github.com/grepwise/grepwise/infrastructure/utils"
	"github.com/grepwise/grepwise/internal/api"
	"github.com/grepwise/grepwise/internal/buffer"
	"github.com/grepwise/grepwise/internal/cluster"
	"github.com/grepwise/grepwise/internal/config"
	"github.com/grepwise/grepwise/internal/ingest/httpin"
	"github.com/grepwise/grepwise/internal/obslog"
	"github.com/grepwise/grepwise/internal/realtime"
	"github.com/grepwise/grepwise/pkg/version"
)

const serviceName = "grepwise"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (overrides CONFIG_FILE)")
	flag.Parse()

	if *configPath != "" {
		os.Setenv("CONFIG_FILE", *configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := obslog.New(serviceName)
	metrics.Init(serviceName)

	log.Printf("starting %s %s", serviceName, version.FullVersion())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := buildApplication(ctx, cfg, logger)

	router := api.NewRouter(api.Deps{
		Sources:   app.sourceHandlers,
		Alarms:    app.alarmHandlers,
		Query:     app.queryHandlers,
		Analytics: app.analyticsHandlers,
		Realtime:  app.broadcaster,
		Logger:    logger,
	})
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.PathPrefix("/ingest/").Handler(app.httpRouter).Methods(http.MethodPost)
	router.HandleFunc("/internal/cluster/heartbeat", clusterHeartbeatHandler(app.cluster)).Methods(http.MethodPost)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	utils.SafeGo(func() {
		log.Printf("listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}, func(err error) {
		log.Fatalf("http server panicked: %v", err)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("shutdown signal received")

	cancel()
	app.stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}

// application holds every long-lived component the composition root
// owns, so main can stop them in one place at shutdown.
type application struct {
	sourceHandlers    *api.SourceHandlers
	alarmHandlers     *api.AlarmHandlers
	queryHandlers     *api.QueryHandlers
	analyticsHandlers *api.AnalyticsHandlers
	broadcaster       *realtime.Broadcaster
	httpRouter        *httpin.Router

	cluster        *cluster.Cluster
	indexStop      func()
	bufferInstance *buffer.Buffer
	alarmStop      func()
}

func (a *application) stop() {
	if a.cluster != nil {
		a.cluster.Stop()
	}
	if a.bufferInstance != nil {
		a.bufferInstance.Stop()
	}
	if a.alarmStop != nil {
		a.alarmStop()
	}
	if a.indexStop != nil {
		a.indexStop()
	}
}

