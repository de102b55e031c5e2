/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"time"

	"github.com/Seednode/jeopardy/trivia"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	boardBuilds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jeopardy_board_builds_total",
			Help: "Completed board builds, by outcome",
		},
		[]string{"outcome"},
	)
	boardBuildAttempts = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jeopardy_board_build_attempts",
			Help:    "Attempts needed per board build",
			Buckets: prometheus.LinearBuckets(1, 1, 5),
		},
	)
	boardBuildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jeopardy_board_build_duration_seconds",
			Help:    "Wall time of board builds, retries included",
			Buckets: prometheus.DefBuckets,
		},
	)
	reveals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jeopardy_reveals_total",
			Help: "Clue reveals, by resulting state",
		},
		[]string{"state"},
	)
	activeGames = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "jeopardy_active_games",
			Help: "Games currently held in memory",
		},
	)
	upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jeopardy_upstream_requests_total",
			Help: "Requests made to the trivia service, by endpoint and result",
		},
		[]string{"endpoint", "result"},
	)
	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "jeopardy_upstream_request_duration_seconds",
			Help:    "Latency of trivia service requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)
)

func init() {
	prometheus.MustRegister(boardBuilds)
	prometheus.MustRegister(boardBuildAttempts)
	prometheus.MustRegister(boardBuildDuration)
	prometheus.MustRegister(reveals)
	prometheus.MustRegister(activeGames)
	prometheus.MustRegister(upstreamRequests)
	prometheus.MustRegister(upstreamDuration)
}

func observeBuild(res trivia.Result, elapsed time.Duration) {
	outcome := res.Outcome.String()
	if errors.Is(res.Err, context.Canceled) {
		outcome = "canceled"
	}

	boardBuilds.WithLabelValues(outcome).Inc()
	boardBuildAttempts.Observe(float64(res.Attempts))
	boardBuildDuration.Observe(elapsed.Seconds())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, trivia.ErrNetworkFailure):
		return "network_failure"
	case errors.Is(err, trivia.ErrMalformedResponse):
		return "malformed"
	default:
		return "error"
	}
}

// instrumentedService records request counts and latency for every call
// that reaches the trivia service.
type instrumentedService struct {
	next trivia.Service
}

func (s instrumentedService) Categories(ctx context.Context, count int) ([]trivia.CategorySummary, error) {
	start := time.Now()

	pool, err := s.next.Categories(ctx, count)

	upstreamDuration.WithLabelValues("categories").Observe(time.Since(start).Seconds())
	upstreamRequests.WithLabelValues("categories", resultLabel(err)).Inc()

	return pool, err
}

func (s instrumentedService) Category(ctx context.Context, id int) (*trivia.CategoryData, error) {
	start := time.Now()

	data, err := s.next.Category(ctx, id)

	upstreamDuration.WithLabelValues("category").Observe(time.Since(start).Seconds())
	upstreamRequests.WithLabelValues("category", resultLabel(err)).Inc()

	return data, err
}

func registerMetrics(cfg *Config, mux *httprouter.Router) {
	mux.Handler("GET", cfg.prefix+"/metrics", promhttp.Handler())
}
