// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the playback subsystem.
// No per-track or per-request labels: cardinality stays bounded.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueAddTotal counts queue insertions by priority.
	QueueAddTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_queue_add_total",
		Help: "Total number of accepted queue insertions, by priority.",
	}, []string{"priority"})

	// QueueRejectTotal counts rejected insertions by reason.
	QueueRejectTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_queue_reject_total",
		Help: "Total number of rejected queue insertions, by reason.",
	}, []string{"reason"})

	// QueueLength tracks the current queue length.
	QueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jukebox_queue_length",
		Help: "Current number of queued items.",
	})

	// DownloadTotal counts finished downloads by outcome.
	DownloadTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_download_total",
		Help: "Total number of finished artifact downloads, by outcome.",
	}, []string{"outcome"})

	// DownloadRetryTotal counts transient download retries.
	DownloadRetryTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jukebox_download_retry_total",
		Help: "Total number of download retry attempts.",
	})

	// DownloadsInflight tracks concurrently running downloads.
	DownloadsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jukebox_downloads_inflight",
		Help: "Current number of in-flight artifact downloads.",
	})

	// PlaybackStartTotal counts playback starts by backend.
	PlaybackStartTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_playback_start_total",
		Help: "Total number of playback starts, by backend.",
	}, []string{"backend"})

	// PlaybackFinishTotal counts playback finishes by reason.
	PlaybackFinishTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_playback_finish_total",
		Help: "Total number of playback finishes, by reason.",
	}, []string{"reason"})

	// IPCRequestTotal counts IPC requests by result.
	IPCRequestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_ipc_request_total",
		Help: "Total number of player IPC requests, by result.",
	}, []string{"result"})

	// BusDropTotal counts events dropped by slow subscribers, by topic.
	BusDropTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_bus_drop_total",
		Help: "Total number of bus events dropped by slow subscribers, by topic.",
	}, []string{"topic"})

	// BusSubscriberPanicTotal counts recovered subscriber panics.
	BusSubscriberPanicTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jukebox_bus_subscriber_panic_total",
		Help: "Total number of recovered event subscriber panics.",
	})

	// SSEClients tracks active SSE observers.
	SSEClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jukebox_sse_clients",
		Help: "Current number of active SSE clients.",
	})

	// SSEBroadcastTotal counts status broadcasts by trigger.
	SSEBroadcastTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_sse_broadcast_total",
		Help: "Total number of SSE status broadcasts, by trigger.",
	}, []string{"trigger"})

	// SnapshotWriteTotal counts playback snapshot persistence attempts.
	SnapshotWriteTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_snapshot_write_total",
		Help: "Total number of playback snapshot writes, by result.",
	}, []string{"result"})

	// ProcTerminateTotal counts termination signals sent to player subprocesses.
	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_proc_terminate_total",
		Help: "Total number of subprocess termination signals, by signal and result.",
	}, []string{"signal", "result"})

	// ProcWaitTotal counts subprocess wait outcomes.
	ProcWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jukebox_proc_wait_total",
		Help: "Total number of subprocess wait outcomes.",
	}, []string{"outcome"})
)

// IncProcTerminate records a termination signal attempt.
func IncProcTerminate(signal, result string) {
	ProcTerminateTotal.WithLabelValues(signal, result).Inc()
}

// IncProcWait records a subprocess wait outcome.
func IncProcWait(outcome string) {
	ProcWaitTotal.WithLabelValues(outcome).Inc()
}
