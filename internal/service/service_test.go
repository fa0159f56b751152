package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/SyedDaiam9101/classifier-service/internal/history"
	"github.com/SyedDaiam9101/classifier-service/internal/inference"
	"github.com/SyedDaiam9101/classifier-service/internal/metrics"
	"github.com/SyedDaiam9101/classifier-service/internal/predlog"
	"github.com/SyedDaiam9101/classifier-service/internal/preprocess"
	"github.com/SyedDaiam9101/classifier-service/internal/profile"
)

type fixture struct {
	svc     *Service
	engine  *inference.MockEngine
	logPath string
	logs    *observer.ObservedLogs
}

func newFixture(t *testing.T, profName string, logits []float32, hist HistoryStore) *fixture {
	t.Helper()
	prof, err := profile.Lookup(profName)
	require.NoError(t, err)

	engine := inference.NewMockWithLogits(logits)
	logPath := filepath.Join(t.TempDir(), "logs", "predictions.jsonl")
	core, logs := observer.New(zap.DebugLevel)

	svc := New(Options{
		Profile: prof,
		Model:   inference.NewLoadedModel("model.onnx", engine),
		Log:     predlog.NewLogger(logPath),
		History: hist,
		Logger:  zap.New(core).Sugar(),
	})
	return &fixture{svc: svc, engine: engine, logPath: logPath, logs: logs}
}

func unloadedService(t *testing.T, profName string) (*Service, string) {
	t.Helper()
	prof, err := profile.Lookup(profName)
	require.NoError(t, err)
	model, err := inference.Load(inference.LoadOptions{Path: filepath.Join(t.TempDir(), "missing.onnx")})
	require.Error(t, err)

	logPath := filepath.Join(t.TempDir(), "predictions.jsonl")
	return New(Options{Profile: prof, Model: model, Log: predlog.NewLogger(logPath)}), logPath
}

func digitMatrix(n int, v float64) []any {
	rows := make([]any, n)
	for i := range rows {
		row := make([]any, n)
		for j := range row {
			row[j] = v
		}
		rows[i] = row
	}
	return rows
}

func pngBase64(t *testing.T, w, h int, c color.Color) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestHealth(t *testing.T) {
	f := newFixture(t, profile.MNIST, make([]float32, 10), nil)
	h := f.svc.Health()
	assert.Equal(t, "healthy", h.Status)
	assert.True(t, h.ModelLoaded)
	assert.Equal(t, Version, h.Version)
	_, err := time.Parse(time.RFC3339Nano, h.Timestamp)
	assert.NoError(t, err)

	svc, _ := unloadedService(t, profile.MNIST)
	h = svc.Health()
	assert.Equal(t, "degraded", h.Status)
	assert.False(t, h.ModelLoaded)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.ModelLoaded))
}

func TestPredict_NotLoadedWinsOverBadInput(t *testing.T) {
	svc, logPath := unloadedService(t, profile.MNIST)
	ctx := context.Background()

	_, err := svc.PredictArray(ctx, digitMatrix(20, 0))
	assert.ErrorIs(t, err, ErrModelNotLoaded)
	_, err = svc.PredictBase64(ctx, "%%%")
	assert.ErrorIs(t, err, ErrModelNotLoaded)
	_, err = svc.PredictBatch(ctx, []BatchItem{"x"})
	assert.ErrorIs(t, err, ErrModelNotLoaded)

	_, statErr := os.Stat(logPath)
	assert.True(t, os.IsNotExist(statErr), "nothing must be logged")
}

func TestPredictArray_WrongShapeNeverReachesEngine(t *testing.T) {
	f := newFixture(t, profile.MNIST, make([]float32, 10), nil)

	_, err := f.svc.PredictArray(context.Background(), digitMatrix(20, 0.5))
	var ve *preprocess.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, 0, f.engine.Calls())
}

func TestPredictArray_LogsAndCounts(t *testing.T) {
	logits := []float32{0, 0, 0, 9, 0, 0, 0, 0, 0, 0}
	f := newFixture(t, profile.MNIST, logits, nil)
	counter := metrics.PredictionsTotal.WithLabelValues("3")
	before := testutil.ToFloat64(counter)

	p, err := f.svc.PredictArray(context.Background(), digitMatrix(28, 0.2))
	require.NoError(t, err)
	assert.Equal(t, 3, p.Class)
	assert.GreaterOrEqual(t, p.InferenceTimeMs, 0.0)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))

	recs, err := predlog.ReadRecords(f.logPath)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 3, recs[0].Prediction)
	assert.Empty(t, recs[0].Label, "digit records carry no label")
	assert.Equal(t, p.Confidence, recs[0].Confidence)
	assert.Equal(t, p.InferenceTimeMs, recs[0].InferenceTimeMs)
}

func TestPredictBase64_PetLabelsLogged(t *testing.T) {
	f := newFixture(t, profile.CatsDogs, []float32{1.5}, nil)

	p, err := f.svc.PredictBase64(context.Background(), pngBase64(t, 64, 48, color.RGBA{R: 255, A: 255}))
	require.NoError(t, err)
	assert.Equal(t, "Dog", p.Label)

	recs, err := predlog.ReadRecords(f.logPath)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Dog", recs[0].Label)
}

func TestPredictCanvasAndFile(t *testing.T) {
	f := newFixture(t, profile.MNIST, make([]float32, 10), nil)
	ctx := context.Background()

	_, err := f.svc.PredictCanvas(ctx, pngBase64(t, 280, 280, color.White))
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(pngBase64(t, 28, 28, color.Black))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "digit.png")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	_, err = f.svc.PredictFile(ctx, path)
	require.NoError(t, err)

	_, err = f.svc.PredictImage(ctx, raw)
	require.NoError(t, err)

	assert.Equal(t, 3, f.engine.Calls())
}

func TestPredict_LogFailureDoesNotFailPrediction(t *testing.T) {
	prof, err := profile.Lookup(profile.MNIST)
	require.NoError(t, err)
	core, logs := observer.New(zap.WarnLevel)

	// A directory cannot be opened for appending.
	svc := New(Options{
		Profile: prof,
		Model:   inference.NewLoadedModel("model.onnx", inference.NewMock(10)),
		Log:     predlog.NewLogger(t.TempDir()),
		Logger:  zap.New(core).Sugar(),
	})
	counter := metrics.PredictionLogErrorsTotal.WithLabelValues("file")
	before := testutil.ToFloat64(counter)

	_, err = svc.PredictArray(context.Background(), digitMatrix(28, 0))
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
	assert.Equal(t, 1, logs.FilterMessage("failed to append prediction log").Len())
}

func TestPredict_EngineErrorIsPredictionError(t *testing.T) {
	f := newFixture(t, profile.MNIST, make([]float32, 10), nil)
	f.engine.SetError("kaboom")

	_, err := f.svc.PredictArray(context.Background(), digitMatrix(28, 0))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrModelNotLoaded))
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, 1, f.logs.FilterMessage("inference failed").Len())
}

type fakeHistory struct {
	mu      sync.Mutex
	entries []history.Entry
	fail    bool
}

func (h *fakeHistory) Insert(_ context.Context, e history.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail {
		return errors.New("disk full")
	}
	h.entries = append(h.entries, e)
	return nil
}

func (h *fakeHistory) Recent(_ context.Context, limit int) ([]history.Entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := []history.Entry{}
	for i := len(h.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.entries[i])
	}
	return out, nil
}

func TestHistoryMirror(t *testing.T) {
	hist := &fakeHistory{}
	f := newFixture(t, profile.CatsDogs, []float32{-3}, hist)
	ctx := context.Background()

	_, err := f.svc.PredictBase64(ctx, pngBase64(t, 8, 8, color.White))
	require.NoError(t, err)

	recent, err := f.svc.RecentPredictions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "Cat", recent[0].Label)
	assert.Equal(t, "cats-dogs", recent[0].Profile)
	assert.Equal(t, string(SourceBase64), recent[0].Source)

	hist.fail = true
	_, err = f.svc.PredictBase64(ctx, pngBase64(t, 8, 8, color.White))
	assert.NoError(t, err)
}

func TestRecentPredictions_NoHistory(t *testing.T) {
	f := newFixture(t, profile.MNIST, make([]float32, 10), nil)
	got, err := f.svc.RecentPredictions(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStats(t *testing.T) {
	f := newFixture(t, profile.CatsDogs, []float32{2}, nil)

	st := f.svc.Stats()
	assert.Equal(t, 0, st.Total)
	assert.Equal(t, "class_distribution", st.DistributionField)
	assert.Empty(t, st.Distribution)

	for i := 0; i < 3; i++ {
		_, err := f.svc.PredictBase64(context.Background(), pngBase64(t, 4, 4, color.White))
		require.NoError(t, err)
	}
	first := f.svc.Stats()
	second := f.svc.Stats()
	assert.Equal(t, first, second)
	assert.Equal(t, 3, first.Total)
	assert.Equal(t, map[string]int{"Dog": 3}, first.Distribution)
}

func TestStats_DigitDistributionField(t *testing.T) {
	f := newFixture(t, profile.MNIST, make([]float32, 10), nil)
	assert.Equal(t, "prediction_distribution", f.svc.Stats().DistributionField)
}

func TestPredictBatch(t *testing.T) {
	f := newFixture(t, profile.MNIST, []float32{0, 5, 0, 0, 0, 0, 0, 0, 0, 0}, nil)
	ctx := context.Background()

	out, err := f.svc.PredictBatch(ctx, []BatchItem{digitMatrix(28, 0), pngBase64(t, 28, 28, color.Black)})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 1, out[0].Class)

	_, err = f.svc.PredictBatch(ctx, nil)
	assert.True(t, preprocess.IsValidation(err))

	tooMany := make([]BatchItem, MaxBatch+1)
	_, err = f.svc.PredictBatch(ctx, tooMany)
	assert.True(t, preprocess.IsValidation(err))

	calls := f.engine.Calls()
	_, err = f.svc.PredictBatch(ctx, []BatchItem{digitMatrix(28, 0), digitMatrix(5, 0)})
	var ve *preprocess.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "images[1]", ve.Field)
	assert.Equal(t, calls, f.engine.Calls(), "no inference when any item is invalid")
}

func TestModelInfo(t *testing.T) {
	f := newFixture(t, profile.CatsDogs, []float32{0}, nil)
	info := f.svc.ModelInfo(context.Background())

	assert.Equal(t, "224x224 RGB", info.InputSize)
	assert.Equal(t, "2 (Cat, Dog)", info.NumClasses)
	assert.Equal(t, map[string]string{"0": "Cat", "1": "Dog"}, info.ClassMapping)
	assert.Equal(t, "sigmoid", info.Activation)
	assert.True(t, info.ModelLoaded)
	assert.Equal(t, "model.onnx", info.ModelPath)
	assert.Equal(t, "cpu", info.Device)
	assert.GreaterOrEqual(t, info.UptimeSeconds, 0.0)
	assert.NotEmpty(t, info.Host.OS)

	svc, _ := unloadedService(t, profile.MNIST)
	info = svc.ModelInfo(context.Background())
	assert.False(t, info.ModelLoaded)
	assert.Empty(t, info.ModelSize)
	assert.Equal(t, "28x28 grayscale", info.InputSize)
}
