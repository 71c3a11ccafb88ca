// Package metrics 进程级 Prometheus 指标，经 /metrics 暴露。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordingsActive 正在录制的房间数
	RecordingsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blt_recordings_active",
		Help: "Number of rooms currently being recorded",
	})

	// RecordingsStarted 录制启动次数
	RecordingsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blt_recordings_started_total",
		Help: "Number of capture sessions started",
	})

	// RecordingsSuppressed 被抑制的启动尝试次数
	RecordingsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blt_recordings_suppressed_total",
		Help: "Number of capture starts skipped due to short-session suppression",
	})

	// WebhookEvents 各后端收到的 webhook 事件数
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blt_webhook_events_total",
		Help: "Number of webhook events received per backend",
	}, []string{"backend"})

	// WebhookRejected 自定义后端校验失败次数
	WebhookRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "blt_webhook_rejected_total",
		Help: "Number of webhook events rejected by validation",
	})

	// SessionsFinalized 录制场次收尾次数，按收尾原因区分
	SessionsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "blt_sessions_finalized_total",
		Help: "Number of recording sessions finalized per reason",
	}, []string{"reason"})

	// TasksRunning 任务注册表中运行中的任务数
	TasksRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "blt_tasks_running",
		Help: "Number of tasks currently running",
	})
)
