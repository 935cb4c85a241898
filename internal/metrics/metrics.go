package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SourceFetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_source_fetch_total",
		Help: "Raw boundary fetches by source kind and outcome",
	}, []string{"source", "status"})
	SourceFetchDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "geo_source_fetch_duration_ms",
		Help:    "Raw boundary fetch duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	}, []string{"source"})
	CacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geo_cache_hits_total",
		Help: "Feature collection cache hits",
	})
	CacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geo_cache_misses_total",
		Help: "Feature collection cache misses",
	})
	CacheClearsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geo_cache_clears_total",
		Help: "Explicit clear-all operations on the feature collection cache",
	})
	DecodeFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geo_decode_fail_total",
		Help: "Topology or GeoJSON documents that failed to decode",
	})
	RepairedFeaturesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "geo_antimeridian_repaired_features_total",
		Help: "Features rewritten by antimeridian repair",
	})
	LoadDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "geo_load_duration_ms",
		Help:    "Fetch plus decode plus repair duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	})
	FocusTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_focus_transitions_total",
		Help: "Focus state machine transitions by operation and outcome",
	}, []string{"op", "outcome"})
	APIHealthChecksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_api_health_checks_total",
		Help: "Remote boundary API health probes by status",
	}, []string{"status"})
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "geo_http_requests_total",
		Help: "HTTP requests served by route and status code",
	}, []string{"route", "code"})
)

func init() {
	prometheus.MustRegister(SourceFetchTotal)
	prometheus.MustRegister(SourceFetchDurationMs)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheClearsTotal)
	prometheus.MustRegister(DecodeFailTotal)
	prometheus.MustRegister(RepairedFeaturesTotal)
	prometheus.MustRegister(LoadDurationMs)
	prometheus.MustRegister(FocusTransitionsTotal)
	prometheus.MustRegister(APIHealthChecksTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
}

// 文档注释：返回 Prometheus 指标处理器
// 背景：统一暴露注册指标到 API_BASE/metrics，供 Prometheus 抓取；在 geo-api 主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
