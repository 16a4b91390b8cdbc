package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"time"

	"github.com/grepwise/grepwise/infrastructure/logging"
	"github.com/grepwise/grepwise/infrastructure/utils"
	"github.com/grepwise/grepwise/internal/alarm"
	"github.com/grepwise/grepwise/internal/analytics"
	"github.com/grepwise/grepwise/internal/api"
	"github.com/grepwise/grepwise/internal/archive"
	"github.com/grepwise/grepwise/internal/buffer"
	"github.com/grepwise/grepwise/internal/cluster"
	"github.com/grepwise/grepwise/internal/config"
	"github.com/grepwise/grepwise/internal/index"
	"github.com/grepwise/grepwise/internal/ingest/cloud"
	"github.com/grepwise/grepwise/internal/ingest/file"
	"github.com/grepwise/grepwise/internal/ingest/httpin"
	"github.com/grepwise/grepwise/internal/ingest/syslogd"
	"github.com/grepwise/grepwise/internal/model"
	"github.com/grepwise/grepwise/internal/obslog"
	"github.com/grepwise/grepwise/internal/parser"
	"github.com/grepwise/grepwise/internal/pattern"
	"github.com/grepwise/grepwise/internal/realtime"
	"github.com/grepwise/grepwise/internal/repository"
	"github.com/grepwise/grepwise/internal/searchcache"
	"github.com/grepwise/grepwise/internal/source"
)

const (
	analyticsMinSampleSize = 10
	patternCacheSize       = 10000
)

// buildApplication constructs every component C1-C12 plus the realtime
// supplement and wires them into the handler sets api.NewRouter needs.
// Long-lived goroutines (buffer flush loop, cluster heartbeat, alarm
// and housekeeping schedulers, realtime heartbeat) are started here and
// stopped by application.stop at shutdown.
func buildApplication(ctx context.Context, cfg *config.Config, logger *logging.Logger) *application {
	sourceRepo := repository.New[model.SourceConfig]("source")
	alarmRepo := repository.New[model.Alarm]("alarm")

	cache := searchcache.New(cfg.Cache.Enabled, cfg.Cache.MaxSize, time.Duration(cfg.Cache.TTLMs)*time.Millisecond)
	archiveStore := archive.New(cfg.ArchiveDirectory, cfg.Partition.AutoArchive, obslog.For(logger, "archive"))
	broadcaster := realtime.New(obslog.For(logger, "realtime"))

	partitionCfg := model.PartitionConfiguration{
		Type:                  model.PartitionBucket(cfg.Partition.Type),
		BaseDirectory:         cfg.IndexPath,
		MaxActivePartitions:   cfg.Partition.MaxActive,
		AutoArchivePartitions: cfg.Partition.AutoArchive,
		Enabled:               true,
	}
	indexEngine := index.New(partitionCfg, cache, archiveStore, broadcaster, obslog.For(logger, "index"))
	indexStop, err := indexEngine.StartHousekeeping(ctx, time.Hour)
	if err != nil {
		logger.WithError(err).Error("failed to start index housekeeping")
		indexStop = func() {}
	}

	logBuffer := buffer.New(buffer.Config{
		MaxSize:       cfg.MaxBufferSize,
		FlushInterval: time.Duration(cfg.FlushIntervalMs) * time.Millisecond,
	}, indexEngine, obslog.For(logger, "buffer"))
	logBuffer.Start(ctx)

	recognizer := pattern.New(patternCacheSize)
	analyticsEngine := analytics.New(analyticsMinSampleSize)

	parserChain := parser.DefaultChain()
	httpRouter := httpin.NewRouter(obslog.For(logger, "ingest.http"))

	var registry *source.Registry
	clusterCfg := cluster.Config{
		NodeID:              cfg.Cluster.NodeID,
		SelfURL:             cfg.Cluster.SelfURL,
		Peers:               cfg.Cluster.ParsePeers(),
		HeartbeatInterval:   time.Duration(cfg.Cluster.HeartbeatIntervalMs) * time.Millisecond,
		HeartbeatTimeout:    time.Duration(cfg.Cluster.HeartbeatTimeoutMs) * time.Millisecond,
		HorizontalScalingOn: cfg.Cluster.HorizontalScalingEnabled,
	}
	clusterNode := cluster.New(clusterCfg, obslog.For(logger, "cluster"), func(cluster.State) {
		if registry != nil {
			registry.OnCoordinatorChange(ctx)
		}
	})
	clusterNode.Start(ctx)

	var coordinator source.Coordinator = source.AlwaysCoordinator{}
	if cfg.Cluster.HorizontalScalingEnabled {
		coordinator = clusterNode
	}

	startFn := func(startCtx context.Context, sourceCfg model.SourceConfig) (source.Driver, error) {
		log := obslog.For(logger, "ingest."+string(sourceCfg.Type))
		switch sourceCfg.Type {
		case model.SourceTypeFile:
			return file.Start(startCtx, sourceCfg, logBuffer, parserChain, log), nil
		case model.SourceTypeSyslog:
			return syslogd.Start(startCtx, sourceCfg, logBuffer, log)
		case model.SourceTypeHTTP:
			return httpRouter.Start(sourceCfg, logBuffer), nil
		case model.SourceTypeCloud:
			return cloud.Start(startCtx, sourceCfg, logBuffer, log)
		default:
			return nil, fmt.Errorf("source: unsupported type %q", sourceCfg.Type)
		}
	}

	registry = source.New(sourceRepo, coordinator, startFn, obslog.For(logger, "source"))
	registry.LoadAndStartEnabled(ctx)

	transports := map[string]alarm.Transport{
		"webhook": alarm.NewWebhookTransport(),
	}
	if smtpAddr := utils.GetEnvOptional("SMTP_ADDR"); smtpAddr != "" {
		from := utils.Coalesce(utils.GetEnvOptional("SMTP_FROM"), "grepwise@localhost")
		var auth smtp.Auth
		if user, pass := utils.GetEnvOptional("SMTP_USER"), utils.GetEnvOptional("SMTP_PASSWORD"); user != "" {
			host := smtpAddr
			if idx := lastColon(smtpAddr); idx >= 0 {
				host = smtpAddr[:idx]
			}
			auth = smtp.PlainAuth("", user, pass, host)
		}
		transports["email"] = alarm.NewEmailTransport(smtpAddr, from, auth)
	}

	alarmEngine := alarm.New(alarmRepo, indexEngine, transports, obslog.For(logger, "alarm"))
	alarmStop, err := alarmEngine.StartScheduling(ctx, fmt.Sprintf("@every %s", time.Duration(cfg.Alarm.EvaluationIntervalMs)*time.Millisecond))
	if err != nil {
		logger.WithError(err).Error("failed to start alarm scheduling")
		alarmStop = func() {}
	}

	go broadcaster.StartHeartbeat(ctx, 30*time.Second)

	return &application{
		sourceHandlers: &api.SourceHandlers{Registry: registry, Logger: logger},
		alarmHandlers:  &api.AlarmHandlers{Engine: alarmEngine, Logger: logger},
		queryHandlers: &api.QueryHandlers{
			Searcher:   indexEngine,
			Recognizer: recognizer,
			Logger:     logger,
		},
		analyticsHandlers: &api.AnalyticsHandlers{
			Engine:     analyticsEngine,
			Searcher:   indexEngine,
			Recognizer: recognizer,
			Logger:     logger,
		},
		broadcaster: broadcaster,
		httpRouter:  httpRouter,

		cluster:        clusterNode,
		indexStop:      indexStop,
		bufferInstance: logBuffer,
		alarmStop:      alarmStop,
	}
}

// clusterHeartbeatHandler decodes an incoming peer heartbeat and feeds
// it to the local Cluster's membership tracking.
func clusterHeartbeatHandler(c *cluster.Cluster) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var hb cluster.Heartbeat
		if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
			http.Error(w, "invalid heartbeat payload", http.StatusBadRequest)
			return
		}
		c.OnHeartbeat(hb)
		w.WriteHeader(http.StatusNoContent)
	}
}

// lastColon returns the index of the last ':' in s, or -1.
func lastColon(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}
