package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/courseloop/hookrelay/internal/config"
	"github.com/courseloop/hookrelay/internal/delivery"
	"github.com/courseloop/hookrelay/internal/executor"
	"github.com/courseloop/hookrelay/internal/logging"
	"github.com/courseloop/hookrelay/internal/metrics"
	"github.com/courseloop/hookrelay/internal/queue"
	"github.com/courseloop/hookrelay/internal/retry"
	"github.com/courseloop/hookrelay/internal/store/postgres"
	"github.com/courseloop/hookrelay/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("hookrelay-worker")

	shutdown, err := tracing.Init(ctx, "hookrelay-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("Failed to initialize tracing")
	}
	defer shutdown()

	pool, err := postgres.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	endpoints := postgres.NewEndpointStore(pool)
	deliveries := postgres.NewDeliveryStore(pool)

	q, err := queue.NewNSQ(cfg.NSQ.NsqdTCPAddr, cfg.NSQ.DeliveriesTopic)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer q.Close()

	scheduler := retry.NewScheduler(deliveries, q, cfg.Worker.JitterPercent, logger)
	exec := executor.New(endpoints, deliveries, scheduler, &http.Client{}, logger)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"ok":false,"reason":"db"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	// Reclaim deliveries a previous worker crash left in processing.
	if n, err := scheduler.ReclaimStale(ctx, cfg.Worker.StaleAfter); err != nil {
		logger.Plain().WithError(err).Error("startup reclaim failed")
	} else if n > 0 {
		logger.Plain().WithField("count", n).Info("reclaimed deliveries on startup")
	}

	sweeper := startSweeps(ctx, scheduler, cfg, logger)
	defer sweeper.Stop()

	startBacklogMonitor(cfg, logger)

	consumer, err := queue.NewConsumer(cfg.NSQ.DeliveriesTopic, cfg.NSQ.WorkerChannel, cfg.Worker.MaxInFlight)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}

	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		m.DisableAutoResponse()
		// Retries go back through the store and a deferred publish, so the
		// message itself is always finished.
		defer m.Finish()

		var t delivery.Task
		if err := json.Unmarshal(m.Body, &t); err != nil {
			logger.Plain().WithError(err).Error("bad task payload")
			return nil
		}

		taskCtx := tracing.ExtractTrace(ctx, t.TraceHeaders)
		if err := exec.Execute(taskCtx, t.DeliveryID); err != nil {
			logger.WithContext(taskCtx).WithDelivery(t.DeliveryID).WithError(err).Error("delivery attempt errored")
		}
		return nil
	}))

	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	logger.Plain().Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("Shutting down worker service")
	consumer.Stop()
	<-consumer.StopChan
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}

// startSweeps runs the TTL expiry and stale-reclaim sweeps on a cron cadence.
func startSweeps(ctx context.Context, scheduler *retry.Scheduler, cfg config.Config, logger *logging.Logger) *cron.Cron {
	c := cron.New()
	spec := fmt.Sprintf("@every %s", cfg.Worker.SweepInterval)
	_, err := c.AddFunc(spec, func() {
		if _, err := scheduler.SweepExpired(ctx); err != nil {
			logger.Plain().WithError(err).Error("expiry sweep failed")
		}
		if _, err := scheduler.ReclaimStale(ctx, cfg.Worker.StaleAfter); err != nil {
			logger.Plain().WithError(err).Error("reclaim sweep failed")
		}
	})
	if err != nil {
		logger.Plain().WithError(err).Fatal("sweep schedule invalid")
	}
	c.Start()
	return c
}

// startBacklogMonitor polls nsqd stats and exports the deliveries backlog.
func startBacklogMonitor(cfg config.Config, logger *logging.Logger) {
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		httpClient := &http.Client{Timeout: 5 * time.Second}

		for range ticker.C {
			// nsqd's HTTP port sits one above its TCP port.
			nsqdHTTPAddr := strings.Replace(cfg.NSQ.NsqdTCPAddr, ":4150", ":4151", 1)
			resp, err := httpClient.Get(fmt.Sprintf("http://%s/stats?format=json", nsqdHTTPAddr))
			if err != nil {
				logger.Plain().WithError(err).Error("Failed to get NSQ stats")
				continue
			}

			var stats struct {
				Topics []struct {
					Name     string `json:"topic_name"`
					Channels []struct {
						Name  string `json:"channel_name"`
						Depth int64  `json:"depth"`
					} `json:"channels"`
				} `json:"topics"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
				resp.Body.Close()
				logger.Plain().WithError(err).Error("Failed to decode NSQ stats")
				continue
			}
			resp.Body.Close()

			for _, topic := range stats.Topics {
				if topic.Name != cfg.NSQ.DeliveriesTopic {
					continue
				}
				for _, channel := range topic.Channels {
					if channel.Name == cfg.NSQ.WorkerChannel {
						metrics.UpdateQueueBacklog(float64(channel.Depth))
					}
				}
			}
		}
	}()
}
