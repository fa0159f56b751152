// Package predictor turns preprocessed tensors into class decisions using a
// loaded model and the output activation of a dataset profile.
package predictor

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/SyedDaiam9101/classifier-service/internal/inference"
	"github.com/SyedDaiam9101/classifier-service/internal/preprocess"
	"github.com/SyedDaiam9101/classifier-service/internal/profile"
)

// ErrModelNotLoaded is returned when a prediction is attempted without a loaded model.
var ErrModelNotLoaded = errors.New("model not loaded")

// PredictionError wraps any other failure during inference or post-processing.
type PredictionError struct {
	Err error
}

func (e *PredictionError) Error() string {
	return "prediction failed: " + e.Err.Error()
}

func (e *PredictionError) Unwrap() error {
	return e.Err
}

// Result is a single classification outcome.
type Result struct {
	Class int
	Label string
	// Labels and Probabilities are parallel, one entry per class.
	Labels        []string
	Probabilities []float64
	Confidence    float64
}

// ProbabilityMap returns label → probability.
func (r *Result) ProbabilityMap() map[string]float64 {
	m := make(map[string]float64, len(r.Labels))
	for i, l := range r.Labels {
		m[l] = r.Probabilities[i]
	}
	return m
}

// Classifier is implemented by anything that can classify a tensor.
type Classifier interface {
	Loaded() bool
	Predict(ctx context.Context, t preprocess.Tensor) (*Result, error)
}

// Predictor binds a model handle to a dataset profile.
type Predictor struct {
	model *inference.Model
	prof  profile.DatasetProfile
}

// New creates a Predictor. model may be an unloaded handle.
func New(model *inference.Model, prof profile.DatasetProfile) *Predictor {
	return &Predictor{model: model, prof: prof}
}

// Loaded reports whether the backing model is usable.
func (p *Predictor) Loaded() bool {
	return p.model.Loaded()
}

// Predict runs one forward pass. The model handle is checked on every call.
func (p *Predictor) Predict(ctx context.Context, t preprocess.Tensor) (*Result, error) {
	if !p.model.Loaded() {
		return nil, ErrModelNotLoaded
	}
	if err := ctx.Err(); err != nil {
		return nil, &PredictionError{Err: err}
	}
	if len(t.Data) != p.prof.InputSize() {
		return nil, &PredictionError{Err: fmt.Errorf("tensor has %d values, expected %d", len(t.Data), p.prof.InputSize())}
	}

	logits, err := p.model.Engine().Run(t.Data, t.Shape)
	if err != nil {
		return nil, &PredictionError{Err: err}
	}
	if len(logits) != p.prof.OutputSize() {
		return nil, &PredictionError{Err: fmt.Errorf("model returned %d outputs, expected %d", len(logits), p.prof.OutputSize())}
	}

	switch p.prof.Activation {
	case profile.Sigmoid:
		return p.binary(logits[0]), nil
	default:
		return p.multiClass(logits), nil
	}
}

func (p *Predictor) multiClass(logits []float32) *Result {
	probs := Softmax(logits)
	best := 0
	for i, v := range probs {
		if v > probs[best] {
			best = i
		}
	}
	return &Result{
		Class:         best,
		Label:         p.prof.Label(best),
		Labels:        p.prof.Labels,
		Probabilities: probs,
		Confidence:    probs[best],
	}
}

func (p *Predictor) binary(logit float32) *Result {
	pos := Sigmoid(float64(logit))
	neg := 1 - pos
	class, conf := 0, neg
	if pos > 0.5 {
		class, conf = 1, pos
	}
	return &Result{
		Class:         class,
		Label:         p.prof.Label(class),
		Labels:        p.prof.Labels,
		Probabilities: []float64{neg, pos},
		Confidence:    conf,
	}
}

// Softmax is computed in float64 after subtracting the max logit.
func Softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	max := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > max {
			max = float64(v)
		}
	}
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Sigmoid is the logistic function, stable for large |x|.
func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

var _ Classifier = (*Predictor)(nil)
