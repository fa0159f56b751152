// Package service is the transport-independent core of the classifier: it owns
// the profile, preprocessor, classifier and prediction sinks, and is passed
// explicitly to the HTTP and gRPC handlers.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/classifier-service/internal/history"
	"github.com/SyedDaiam9101/classifier-service/internal/inference"
	"github.com/SyedDaiam9101/classifier-service/internal/metrics"
	"github.com/SyedDaiam9101/classifier-service/internal/middleware"
	"github.com/SyedDaiam9101/classifier-service/internal/predictor"
	"github.com/SyedDaiam9101/classifier-service/internal/predlog"
	"github.com/SyedDaiam9101/classifier-service/internal/preprocess"
	"github.com/SyedDaiam9101/classifier-service/internal/profile"
)

// Version is reported by /health and /model-info.
const Version = "2.0.0"

// MaxBatch bounds PredictBatch.
const MaxBatch = 64

// ErrModelNotLoaded is re-exported so transports only need this package.
var ErrModelNotLoaded = predictor.ErrModelNotLoaded

// HistoryStore receives a copy of every logged prediction.
type HistoryStore interface {
	Insert(ctx context.Context, e history.Entry) error
	Recent(ctx context.Context, limit int) ([]history.Entry, error)
}

// Options configures New.
type Options struct {
	Profile    profile.DatasetProfile
	Model      *inference.Model
	Classifier predictor.Classifier // defaults to predictor.New(Model, Profile)
	Log        *predlog.Logger
	History    HistoryStore
	Logger     *zap.SugaredLogger
	Now        func() time.Time
}

// Service is safe for concurrent use; it holds no per-request state.
type Service struct {
	prof       profile.DatasetProfile
	pre        *preprocess.Preprocessor
	model      *inference.Model
	classifier predictor.Classifier
	predLog    *predlog.Logger
	history    HistoryStore
	log        *zap.SugaredLogger
	tracer     trace.Tracer
	now        func() time.Time
	started    time.Time
}

// New builds a Service.
func New(opts Options) *Service {
	s := &Service{
		prof:       opts.Profile,
		pre:        preprocess.New(opts.Profile),
		model:      opts.Model,
		classifier: opts.Classifier,
		predLog:    opts.Log,
		history:    opts.History,
		log:        opts.Logger,
		tracer:     otel.Tracer("classifier-service/service"),
		now:        opts.Now,
	}
	if s.classifier == nil {
		s.classifier = predictor.New(opts.Model, opts.Profile)
	}
	if s.predLog == nil {
		s.predLog = predlog.NewLogger(predlog.DefaultPath)
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.started = s.now().UTC()
	metrics.SetModelLoaded(s.classifier.Loaded())
	return s
}

// Profile returns the active dataset profile.
func (s *Service) Profile() profile.DatasetProfile {
	return s.prof
}

// Loaded reports whether predictions can be served.
func (s *Service) Loaded() bool {
	return s.classifier.Loaded()
}

// Health is the liveness summary.
type Health struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Timestamp   string `json:"timestamp"`
	Version     string `json:"version"`
}

// Health never fails; a missing model reports "degraded".
func (s *Service) Health() Health {
	loaded := s.Loaded()
	status := "healthy"
	if !loaded {
		status = "degraded"
	}
	return Health{
		Status:      status,
		ModelLoaded: loaded,
		Timestamp:   s.now().UTC().Format(time.RFC3339Nano),
		Version:     Version,
	}
}

// Prediction is a classification outcome plus timing.
type Prediction struct {
	*predictor.Result
	InferenceTimeMs float64
}

// Source names the input kind in logs and history.
type Source string

const (
	SourceArray  Source = "array"
	SourceImage  Source = "image"
	SourceBase64 Source = "base64"
	SourceCanvas Source = "canvas"
	SourceFile   Source = "file"
)

// PredictArray classifies a decoded JSON numeric array.
func (s *Service) PredictArray(ctx context.Context, v any) (*Prediction, error) {
	return s.predict(ctx, SourceArray, func() (preprocess.Tensor, error) { return s.pre.FromArray(v) })
}

// PredictImage classifies encoded image bytes.
func (s *Service) PredictImage(ctx context.Context, data []byte) (*Prediction, error) {
	return s.predict(ctx, SourceImage, func() (preprocess.Tensor, error) { return s.pre.FromImageBytes(data) })
}

// PredictBase64 classifies a base64 encoded image.
func (s *Service) PredictBase64(ctx context.Context, b64 string) (*Prediction, error) {
	return s.predict(ctx, SourceBase64, func() (preprocess.Tensor, error) { return s.pre.FromBase64(b64) })
}

// PredictCanvas classifies a base64 drawing-surface export (inverted for grayscale profiles).
func (s *Service) PredictCanvas(ctx context.Context, b64 string) (*Prediction, error) {
	return s.predict(ctx, SourceCanvas, func() (preprocess.Tensor, error) { return s.pre.FromCanvas(b64) })
}

// PredictFile classifies an image file on local disk.
func (s *Service) PredictFile(ctx context.Context, path string) (*Prediction, error) {
	return s.predict(ctx, SourceFile, func() (preprocess.Tensor, error) { return s.pre.FromFile(path) })
}

// BatchItem is one PredictBatch input: either a numeric array or a base64 string.
type BatchItem = any

// PredictBatch classifies items in order. Validation of every item happens
// before any inference so a bad item fails the whole batch without side effects.
func (s *Service) PredictBatch(ctx context.Context, items []BatchItem) ([]*Prediction, error) {
	if !s.Loaded() {
		return nil, ErrModelNotLoaded
	}
	if len(items) == 0 {
		return nil, &preprocess.ValidationError{Field: "images", Reason: "batch is empty"}
	}
	if len(items) > MaxBatch {
		return nil, &preprocess.ValidationError{Field: "images", Reason: fmt.Sprintf("batch of %d exceeds limit of %d", len(items), MaxBatch)}
	}
	metrics.RecordInferenceBatch(len(items))

	tensors := make([]preprocess.Tensor, len(items))
	sources := make([]Source, len(items))
	for i, item := range items {
		var err error
		if str, ok := item.(string); ok {
			sources[i] = SourceBase64
			tensors[i], err = s.pre.FromBase64(str)
		} else {
			sources[i] = SourceArray
			tensors[i], err = s.pre.FromArray(item)
		}
		if err != nil {
			var ve *preprocess.ValidationError
			if errors.As(err, &ve) {
				ve.Field = fmt.Sprintf("images[%d]", i)
			}
			return nil, err
		}
	}

	out := make([]*Prediction, len(items))
	for i, t := range tensors {
		p, err := s.run(ctx, sources[i], t)
		if err != nil {
			return nil, err
		}
		out[i] = p
	}
	return out, nil
}

func (s *Service) predict(ctx context.Context, src Source, prep func() (preprocess.Tensor, error)) (*Prediction, error) {
	// Not-loaded wins over any input problem.
	if !s.Loaded() {
		return nil, ErrModelNotLoaded
	}

	_, span := s.tracer.Start(ctx, "preprocess", trace.WithAttributes(attribute.String("source", string(src))))
	t, err := prep()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	if err != nil {
		return nil, err
	}
	return s.run(ctx, src, t)
}

func (s *Service) run(ctx context.Context, src Source, t preprocess.Tensor) (*Prediction, error) {
	ctx, span := s.tracer.Start(ctx, "inference", trace.WithAttributes(attribute.String("profile", s.prof.Name)))
	defer span.End()

	start := time.Now()
	res, err := s.classifier.Predict(ctx, t)
	elapsed := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if !errors.Is(err, ErrModelNotLoaded) {
			s.log.Errorw("inference failed", "source", src, "request_id", middleware.GetRequestID(ctx), "error", err)
		}
		return nil, err
	}
	metrics.RecordInferenceLatency(elapsed.Seconds())

	p := &Prediction{Result: res, InferenceTimeMs: float64(elapsed.Microseconds()) / 1000.0}
	span.SetAttributes(attribute.Int("predicted_class", res.Class), attribute.Float64("confidence", res.Confidence))

	metrics.RecordPrediction(res.Label)
	s.log.Infow("prediction",
		"source", src,
		"prediction", res.Class,
		"label", res.Label,
		"confidence", res.Confidence,
		"inference_time_ms", p.InferenceTimeMs,
		"request_id", middleware.GetRequestID(ctx),
	)
	s.record(ctx, src, p)
	return p, nil
}

// record persists p to the log and history. Failures never fail the prediction.
func (s *Service) record(ctx context.Context, src Source, p *Prediction) {
	label := ""
	if s.prof.LabeledResponse {
		label = p.Label
	}
	rec := predlog.NewRecord(p.Class, label, p.Confidence, p.InferenceTimeMs)

	if err := s.predLog.Append(rec); err != nil {
		metrics.RecordLogError("file")
		s.log.Warnw("failed to append prediction log", "path", s.predLog.Path(), "error", err)
	}
	if s.history != nil {
		entry := history.FromRecord(rec, s.prof.Name, string(src), middleware.GetRequestID(ctx))
		if err := s.history.Insert(context.WithoutCancel(ctx), entry); err != nil {
			metrics.RecordLogError("history")
			s.log.Warnw("failed to store prediction history", "error", err)
		}
	}
}

// Stats is the aggregate view over the prediction log.
type Stats struct {
	predlog.Stats
	DistributionField string
}

// Stats scans the prediction log. Read failures degrade to zero stats.
func (s *Service) Stats() Stats {
	st, err := s.predLog.Stats()
	if err != nil {
		s.log.Errorw("error getting stats", "error", err)
		st = predlog.ZeroStats()
	}
	return Stats{Stats: st, DistributionField: s.prof.DistributionField}
}

// RecentPredictions returns the newest history entries, or an empty list when
// no history store is configured.
func (s *Service) RecentPredictions(ctx context.Context, limit int) ([]history.Entry, error) {
	if s.history == nil {
		return []history.Entry{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.history.Recent(ctx, limit)
}

// classMapping renders index → label for /model-info.
func (s *Service) classMapping() map[string]string {
	m := make(map[string]string, len(s.prof.Labels))
	for i, l := range s.prof.Labels {
		m[strconv.Itoa(i)] = l
	}
	return m
}
