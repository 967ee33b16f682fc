package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	dispatchRoutes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_routes_total",
		Help:      "Messages handled by the dispatcher, by route.",
	}, []string{"route"})

	chatReplies = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chat_replies_total",
		Help:      "Chat replies by final history status.",
	}, []string{"status"})

	toolInvocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_invocations_total",
		Help:      "Tool invocations by tool name and envelope status.",
	}, []string{"tool", "status"})

	toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_duration_seconds",
		Help:      "Tool invocation latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	taskOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_total",
		Help:      "Asynchronous chat task outcomes.",
	}, []string{"outcome"})
)

// ObserveDispatch 记录一次路由决策。
func ObserveDispatch(route string) {
	dispatchRoutes.WithLabelValues(route).Inc()
}

// ObserveChat 记录一次对话的最终状态。
func ObserveChat(status string) {
	chatReplies.WithLabelValues(status).Inc()
}

// ObserveTool 记录一次工具调用。
func ObserveTool(name, status string, duration time.Duration) {
	toolInvocations.WithLabelValues(name, status).Inc()
	toolDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// ObserveTask 记录异步任务的处理结果。
func ObserveTask(outcome string) {
	taskOutcomes.WithLabelValues(outcome).Inc()
}
