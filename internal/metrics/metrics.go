// internal/metrics/metrics.go
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequestsTotal counts HTTP requests by route pattern, method and status
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests.",
		},
		[]string{"endpoint", "method", "status"},
	)

	// APIRequestLatencySeconds is a histogram for HTTP request latencies
	APIRequestLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_latency_seconds",
			Help:    "API request latency in seconds.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)

	// PredictionsTotal counts successful predictions by predicted class
	PredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of predictions by predicted class.",
		},
		[]string{"predicted_class"},
	)

	// GRPCServerHandlingSeconds is a histogram for gRPC server request latencies
	GRPCServerHandlingSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_server_handling_seconds",
			Help:    "Histogram of response latency (seconds) of gRPC that had been application-level handled by the server.",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "code"},
	)

	// InferenceBatchSize is a histogram for tracking batch prediction sizes
	InferenceBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inference_batch_size",
			Help:    "Histogram of batch sizes for batch prediction requests.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		},
	)

	// InferenceLatencySeconds is a histogram for inference-only latency
	InferenceLatencySeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inference_latency_seconds",
			Help:    "Histogram of inference latency (seconds) excluding transport overhead.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// PredictionLogErrorsTotal counts failed appends to the prediction log or history store
	PredictionLogErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prediction_log_errors_total",
			Help: "Total number of prediction records that could not be persisted.",
		},
		[]string{"sink"},
	)

	// ModelLoaded is a gauge indicating whether a model is loaded
	ModelLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "model_loaded",
			Help: "Whether the model artifact is loaded (1 = loaded, 0 = not loaded).",
		},
	)
)

// RecordRequest records one finished HTTP request
func RecordRequest(endpoint, method string, status int, seconds float64) {
	APIRequestsTotal.WithLabelValues(endpoint, method, strconv.Itoa(status)).Inc()
	APIRequestLatencySeconds.WithLabelValues(endpoint).Observe(seconds)
}

// RecordPrediction increments the per-class prediction counter
func RecordPrediction(class string) {
	PredictionsTotal.WithLabelValues(class).Inc()
}

// RecordGRPCLatency records the latency of a gRPC method call
func RecordGRPCLatency(method, code string, seconds float64) {
	GRPCServerHandlingSeconds.WithLabelValues(method, code).Observe(seconds)
}

// RecordInferenceBatch records the size of a batch prediction request
func RecordInferenceBatch(size int) {
	InferenceBatchSize.Observe(float64(size))
}

// RecordInferenceLatency records the latency of an inference call
func RecordInferenceLatency(seconds float64) {
	InferenceLatencySeconds.Observe(seconds)
}

// RecordLogError counts a persistence failure for sink ("file" or "history")
func RecordLogError(sink string) {
	PredictionLogErrorsTotal.WithLabelValues(sink).Inc()
}

// SetModelLoaded sets the model_loaded gauge
func SetModelLoaded(loaded bool) {
	if loaded {
		ModelLoaded.Set(1)
		return
	}
	ModelLoaded.Set(0)
}
