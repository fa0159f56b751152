package predictor

import (
	"context"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/SyedDaiam9101/classifier-service/internal/preprocess"
)

// Cache stores encoded results by key. A miss returns ("", nil).
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// CachedClassifier memoises results by tensor fingerprint. Cache failures are
// logged and never fail the prediction.
type CachedClassifier struct {
	next   Classifier
	cache  Cache
	prefix string
	log    *zap.SugaredLogger
}

type cachedResult struct {
	Class         int       `json:"class"`
	Label         string    `json:"label"`
	Labels        []string  `json:"labels"`
	Probabilities []float64 `json:"probabilities"`
	Confidence    float64   `json:"confidence"`
}

// Cached wraps next with cache. prefix namespaces the keys, typically the profile name.
func Cached(next Classifier, cache Cache, prefix string, log *zap.SugaredLogger) *CachedClassifier {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &CachedClassifier{next: next, cache: cache, prefix: prefix, log: log}
}

func (c *CachedClassifier) Loaded() bool {
	return c.next.Loaded()
}

func (c *CachedClassifier) Predict(ctx context.Context, t preprocess.Tensor) (*Result, error) {
	if !c.next.Loaded() {
		return nil, ErrModelNotLoaded
	}
	key := "prediction:" + c.prefix + ":" + t.Fingerprint()

	if raw, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warnw("prediction cache read failed", "error", err)
	} else if raw != "" {
		var cr cachedResult
		if err := sonic.UnmarshalString(raw, &cr); err == nil && len(cr.Probabilities) == len(cr.Labels) {
			return &Result{
				Class:         cr.Class,
				Label:         cr.Label,
				Labels:        cr.Labels,
				Probabilities: cr.Probabilities,
				Confidence:    cr.Confidence,
			}, nil
		}
	}

	res, err := c.next.Predict(ctx, t)
	if err != nil {
		return nil, err
	}

	raw, err := sonic.MarshalString(cachedResult{
		Class:         res.Class,
		Label:         res.Label,
		Labels:        res.Labels,
		Probabilities: res.Probabilities,
		Confidence:    res.Confidence,
	})
	if err == nil {
		err = c.cache.Set(ctx, key, raw)
	}
	if err != nil {
		c.log.Warnw("prediction cache write failed", "error", err)
	}
	return res, nil
}

var _ Classifier = (*CachedClassifier)(nil)
