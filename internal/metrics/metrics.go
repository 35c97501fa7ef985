package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deal_ai"

// Metrics 服务的Prometheus指标
// 所有方法允许在nil接收者上调用，此时不记录任何指标
type Metrics struct {
	registry *prometheus.Registry

	dealsProcessed *prometheus.CounterVec
	filesProcessed *prometheus.CounterVec
	dealDuration   prometheus.Histogram
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New 创建指标并注册到独立的registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		dealsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deals_processed_total",
			Help:      "Number of processed deals by outcome.",
		}, []string{"outcome"}),
		filesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_processed_total",
			Help:      "Number of files handled during deal processing by result.",
		}, []string{"result"}),
		dealDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deal_processing_seconds",
			Help:      "Time spent processing one deal folder.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Number of HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	m.registry.MustRegister(
		m.dealsProcessed,
		m.filesProcessed,
		m.dealDuration,
		m.httpRequests,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 返回指标registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回/metrics的HTTP处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDeal 记录一次交易处理结果
func (m *Metrics) ObserveDeal(outcome string, parsed, failed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.dealsProcessed.WithLabelValues(outcome).Inc()
	m.filesProcessed.WithLabelValues("parsed").Add(float64(parsed))
	m.filesProcessed.WithLabelValues("failed").Add(float64(failed))
	m.dealDuration.Observe(elapsed.Seconds())
}

// GinMiddleware 记录HTTP请求数和延迟，route使用路由模板避免标签爆炸
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.httpRequests.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}
