package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flowpbx/callagent/internal/call"
)

// SessionCounter exposes the number of live call sessions.
type SessionCounter interface {
	Count() int
}

// ArtifactCounter returns the number of audio artifacts on disk.
type ArtifactCounter interface {
	Count() (int, error)
}

// TurnStatsProvider exposes the call controller's cumulative counters.
type TurnStatsProvider interface {
	Stats() call.Stats
}

// CallLogCounter returns the number of calls in the call log.
type CallLogCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Collector is a prometheus.Collector that gathers agent metrics at scrape time.
type Collector struct {
	sessions  SessionCounter
	artifacts ArtifactCounter
	turns     TurnStatsProvider
	callLog   CallLogCounter
	startTime time.Time

	// Metric descriptors.
	activeSessionsDesc     *prometheus.Desc
	artifactsDesc          *prometheus.Desc
	callsDesc              *prometheus.Desc
	turnsDesc              *prometheus.Desc
	inferenceFailuresDesc  *prometheus.Desc
	synthesisFallbacksDesc *prometheus.Desc
	faultsDesc             *prometheus.Desc
	hangupsDesc            *prometheus.Desc
	loggedCallsDesc        *prometheus.Desc
	uptimeDesc             *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	sessions SessionCounter,
	artifacts ArtifactCounter,
	turns TurnStatsProvider,
	callLog CallLogCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		sessions:  sessions,
		artifacts: artifacts,
		turns:     turns,
		callLog:   callLog,
		startTime: startTime,

		activeSessionsDesc: prometheus.NewDesc(
			"callagent_active_sessions",
			"Number of call sessions held in memory",
			nil, nil,
		),
		artifactsDesc: prometheus.NewDesc(
			"callagent_audio_artifacts",
			"Number of synthesized audio files awaiting retrieval or expiry",
			nil, nil,
		),
		callsDesc: prometheus.NewDesc(
			"callagent_calls_total",
			"Calls answered since start",
			nil, nil,
		),
		turnsDesc: prometheus.NewDesc(
			"callagent_turns_total",
			"Completed caller/assistant exchanges since start",
			nil, nil,
		),
		inferenceFailuresDesc: prometheus.NewDesc(
			"callagent_inference_failures_total",
			"Language model round trips that failed",
			nil, nil,
		),
		synthesisFallbacksDesc: prometheus.NewDesc(
			"callagent_synthesis_fallbacks_total",
			"Prompts spoken as text because synthesis failed",
			nil, nil,
		),
		faultsDesc: prometheus.NewDesc(
			"callagent_faults_total",
			"Events answered with the generic error prompt",
			nil, nil,
		),
		hangupsDesc: prometheus.NewDesc(
			"callagent_hangups_total",
			"Calls ended by the agent",
			nil, nil,
		),
		loggedCallsDesc: prometheus.NewDesc(
			"callagent_logged_calls",
			"Calls recorded in the call log",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"callagent_uptime_seconds",
			"Seconds since the agent process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessionsDesc
	ch <- c.artifactsDesc
	ch <- c.callsDesc
	ch <- c.turnsDesc
	ch <- c.inferenceFailuresDesc
	ch <- c.synthesisFallbacksDesc
	ch <- c.faultsDesc
	ch <- c.hangupsDesc
	ch <- c.loggedCallsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeSessionsDesc, prometheus.GaugeValue,
			float64(c.sessions.Count()),
		)
	}

	if c.artifacts != nil {
		count, err := c.artifacts.Count()
		if err != nil {
			slog.Error("metrics: failed to count audio artifacts", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.artifactsDesc, prometheus.GaugeValue,
				float64(count),
			)
		}
	}

	// Controller counters.
	if c.turns != nil {
		st := c.turns.Stats()
		for _, m := range []struct {
			desc *prometheus.Desc
			val  int64
		}{
			{c.callsDesc, st.Calls},
			{c.turnsDesc, st.Turns},
			{c.inferenceFailuresDesc, st.InferenceFailures},
			{c.synthesisFallbacksDesc, st.SynthesisFallbacks},
			{c.faultsDesc, st.Faults},
			{c.hangupsDesc, st.Hangups},
		} {
			ch <- prometheus.MustNewConstMetric(m.desc, prometheus.CounterValue, float64(m.val))
		}
	}

	if c.callLog != nil {
		count, err := c.callLog.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count logged calls", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.loggedCallsDesc, prometheus.GaugeValue,
				float64(count),
			)
		}
	}

	// Uptime.
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
