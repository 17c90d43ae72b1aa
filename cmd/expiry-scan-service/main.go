package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/resto_backend/config"
	"bitbucket.org/mmdatafocus/resto_backend/workflow"
	"github.com/bsm/redislock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
)

// Periodic expiry sweep: walks every material holding stock that expires
// within the warning window and materializes/updates the expiry alerts.
// A redis lock keeps exactly one replica scanning per tick.

var (
	scansTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expiry_scan_runs_total",
		Help: "Completed expiry scan runs.",
	})
	scanErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expiry_scan_errors_total",
		Help: "Expiry scan runs that failed.",
	})
	alertsTouchedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "expiry_scan_alerts_touched_total",
		Help: "Stock alerts created or refreshed by expiry scans.",
	})
)

func main() {
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	logger := config.GetLogger()

	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		metricsPort = "9102"
	}
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		log.Printf("metrics listening on :%s", metricsPort)
		if err := http.ListenAndServe(":"+metricsPort, nil); err != nil {
			log.Fatalf("metrics server: %v", err)
		}
	}()

	schedule := os.Getenv("EXPIRY_SCAN_CRON")
	if schedule == "" {
		schedule = "0 * * * *" // hourly
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx := context.Background()

		lock, err := config.GetRedisLock().Obtain(ctx, "expiry-scan-leader", 5*time.Minute, nil)
		if err == redislock.ErrNotObtained {
			return // another replica holds the tick
		}
		if err != nil {
			scanErrorsTotal.Inc()
			config.LogError(logger, "cmd", "expiry-scan", "obtain leader lock", nil, err)
			return
		}
		defer lock.Release(ctx)

		touched, err := workflow.ScanExpiringBatches(ctx, logger)
		if err != nil {
			scanErrorsTotal.Inc()
			config.LogError(logger, "cmd", "expiry-scan", "scan expiring batches", nil, err)
			return
		}
		scansTotal.Inc()
		alertsTouchedTotal.Add(float64(touched))
		log.Printf("expiry scan done, alerts touched=%d", touched)
	})
	if err != nil {
		log.Fatalf("invalid EXPIRY_SCAN_CRON %q: %v", schedule, err)
	}

	log.Printf("expiry scan service started (schedule=%q)", schedule)
	c.Run()
}
