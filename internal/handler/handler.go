// internal/handler/handler.go
package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/classifier-service/internal/middleware"
	"github.com/SyedDaiam9101/classifier-service/internal/service"
)

// multipartMemory is how much of a multipart upload is held in memory before
// spilling to temp files.
const multipartMemory = 8 << 20

// Handler serves the HTTP API on top of a Service.
type Handler struct {
	svc *service.Service
	log *zap.SugaredLogger
}

// New creates a new Handler for svc.
func New(svc *service.Service, log *zap.SugaredLogger) *Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, log: log}
}

// RouterOptions configures the middleware chain.
type RouterOptions struct {
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	CORSOrigins    string
}

// Router builds the chi router with all routes and middleware.
func (h *Handler) Router(opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogger(h.log))
	r.Use(middleware.HTTPMetrics)
	r.Use(middleware.CORS(opts.CORSOrigins))
	r.Use(chimw.Recoverer)
	if opts.MaxBodyBytes > 0 {
		r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))
	}
	if opts.RequestTimeout > 0 {
		r.Use(chimw.Timeout(opts.RequestTimeout))
	}

	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/stats", h.Stats)
	r.Get("/model-info", h.ModelInfo)
	r.Get("/predictions/recent", h.RecentPredictions)

	r.Group(func(r chi.Router) {
		r.Use(h.requireModel)
		r.Post("/predict", h.Predict)
		r.Post("/predict-base64", h.PredictBase64)
		r.Post("/predict-image", h.PredictImage)
		r.Post("/predict-batch", h.PredictBatch)
	})

	return r
}

// requireModel rejects prediction requests before their body is read.
func (h *Handler) requireModel(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.svc.Loaded() {
			writeDetail(w, http.StatusServiceUnavailable, NotLoadedDetail)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Root returns the service banner and endpoint index.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	prof := h.svc.Profile()
	writeJSON(w, http.StatusOK, map[string]any{
		"message": prof.Application + " API",
		"version": service.Version,
		"task":    prof.Task,
		"profile": prof.Name,
		"endpoints": map[string]string{
			"health":                "/health",
			"predict (file upload)": "/predict (POST)",
			"predict (base64)":      "/predict-base64 (POST)",
			"predict (canvas)":      "/predict-image (POST)",
			"predict (batch)":       "/predict-batch (POST)",
			"model-info":            "/model-info",
			"metrics":               "/metrics",
			"stats":                 "/stats",
			"recent predictions":    "/predictions/recent",
		},
	})
}

// Health always answers 200; a missing model is reported in the body.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Health())
}

type imageRequest struct {
	Image any `json:"image"`
}

type batchRequest struct {
	Images []any `json:"images"`
}

// Predict dispatches on Content-Type: multipart upload, raw image body, or JSON
// {"image": array | base64}.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		pred *service.Prediction
		err  error
	)
	switch {
	case mediaType == "multipart/form-data":
		var data []byte
		if data, err = readUpload(r); err == nil {
			pred, err = h.svc.PredictImage(r.Context(), data)
		}
	case strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream":
		var data []byte
		if data, err = io.ReadAll(r.Body); err == nil {
			pred, err = h.svc.PredictImage(r.Context(), data)
		}
	default:
		var req imageRequest
		if err = decodeJSON(r, &req); err == nil {
			switch img := req.Image.(type) {
			case nil:
				err = badRequest("field 'image' is required")
			case string:
				pred, err = h.svc.PredictBase64(r.Context(), img)
			default:
				pred, err = h.svc.PredictArray(r.Context(), img)
			}
		}
	}
	h.respond(w, r, pred, err)
}

// PredictBase64 accepts {"image": "<base64>"}.
func (h *Handler) PredictBase64(w http.ResponseWriter, r *http.Request) {
	b64, err := decodeBase64Request(r)
	var pred *service.Prediction
	if err == nil {
		pred, err = h.svc.PredictBase64(r.Context(), b64)
	}
	h.respond(w, r, pred, err)
}

// PredictImage accepts {"image": "<base64>"} from a drawing surface.
func (h *Handler) PredictImage(w http.ResponseWriter, r *http.Request) {
	b64, err := decodeBase64Request(r)
	var pred *service.Prediction
	if err == nil {
		pred, err = h.svc.PredictCanvas(r.Context(), b64)
	}
	h.respond(w, r, pred, err)
}

// PredictBatch accepts {"images": [array | base64, ...]}.
func (h *Handler) PredictBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Images == nil {
		h.fail(w, r, badRequest("field 'images' is required"))
		return
	}
	preds, err := h.svc.PredictBatch(r.Context(), req.Images)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]any, len(preds))
	for i, p := range preds {
		out[i] = h.envelope(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": out, "count": len(out)})
}

// Stats returns aggregates over the prediction log.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsBody(h.svc.Stats()))
}

func statsBody(st service.Stats) map[string]any {
	return map[string]any{
		"total_predictions":         st.Total,
		"average_confidence":        st.AvgConfidence,
		"average_inference_time_ms": st.AvgLatencyMs,
		"p50_inference_time_ms":     st.P50LatencyMs,
		"p95_inference_time_ms":     st.P95LatencyMs,
		"p99_inference_time_ms":     st.P99LatencyMs,
		st.DistributionField:        st.Distribution,
	}
}

// ModelInfo returns static and runtime model metadata.
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ModelInfo(r.Context()))
}

// RecentPredictions returns the newest history rows (?limit=N).
func (h *Handler) RecentPredictions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeDetail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := h.svc.RecentPredictions(r.Context(), limit)
	if err != nil {
		h.log.Errorw("failed to read prediction history", "error", err, "request_id", middleware.GetRequestID(r.Context()))
		writeDetail(w, http.StatusInternalServerError, "failed to read prediction history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": entries, "count": len(entries)})
}

type labeledResponse struct {
	Prediction      int                `json:"prediction"`
	PredictionLabel string             `json:"prediction_label"`
	Probabilities   map[string]float64 `json:"probabilities"`
	Confidence      float64            `json:"confidence"`
	InferenceTimeMs float64            `json:"inference_time_ms"`
}

type listResponse struct {
	Prediction      int       `json:"prediction"`
	Probabilities   []float64 `json:"probabilities"`
	Confidence      float64   `json:"confidence"`
	InferenceTimeMs float64   `json:"inference_time_ms"`
}

// envelope shapes a prediction the way the active profile reports it.
func (h *Handler) envelope(p *service.Prediction) any {
	if h.svc.Profile().LabeledResponse {
		return labeledResponse{
			Prediction:      p.Class,
			PredictionLabel: p.Label,
			Probabilities:   p.ProbabilityMap(),
			Confidence:      p.Confidence,
			InferenceTimeMs: p.InferenceTimeMs,
		}
	}
	return listResponse{
		Prediction:      p.Class,
		Probabilities:   p.Probabilities,
		Confidence:      p.Confidence,
		InferenceTimeMs: p.InferenceTimeMs,
	}
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, p *service.Prediction, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.envelope(p))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, detail := httpError(err)
	if code >= http.StatusInternalServerError && code != http.StatusServiceUnavailable {
		h.log.Errorw("prediction failed", "path", r.URL.Path, "error", err, "request_id", middleware.GetRequestID(r.Context()))
	} else {
		h.log.Debugw("prediction rejected", "path", r.URL.Path, "status", code, "error", err)
	}
	writeDetail(w, code, detail)
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return badRequest("request body is empty")
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		return badRequest("invalid JSON body")
	}
	return nil
}

func decodeBase64Request(r *http.Request) (string, error) {
	var req imageRequest
	if err := decodeJSON(r, &req); err != nil {
		return "", err
	}
	switch img := req.Image.(type) {
	case nil:
		return "", badRequest("field 'image' is required")
	case string:
		return img, nil
	default:
		return "", badRequest("field 'image' must be a base64 string")
	}
}

// readUpload returns the first of the "file" or "image" multipart fields.
func readUpload(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, err
		}
		return nil, badRequest("invalid multipart body")
	}
	for _, field := range []string{"file", "image"} {
		f, _, err := r.FormFile(field)
		if err != nil {
			continue
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	return nil, badRequest("multipart field 'file' is required")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"detail":"failed to encode response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
}

func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
