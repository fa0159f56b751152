// Package preprocess turns request payloads into the fixed-shape tensors a
// dataset profile's network expects.
package preprocess

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/SyedDaiam9101/classifier-service/internal/profile"
)

// Tensor is a batch-of-one NCHW float tensor.
type Tensor struct {
	Data  []float32
	Shape []int64
}

// Len returns the number of elements described by Shape.
func (t Tensor) Len() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return int(n)
}

// Fingerprint is a stable hex digest of the tensor contents, used as a cache key.
func (t Tensor) Fingerprint() string {
	h := sha256.New()
	buf := make([]byte, 8)
	for _, d := range t.Shape {
		binary.LittleEndian.PutUint64(buf, uint64(d))
		h.Write(buf)
	}
	for _, v := range t.Data {
		binary.LittleEndian.PutUint32(buf[:4], math.Float32bits(v))
		h.Write(buf[:4])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Preprocessor applies one profile's resize and normalisation rules.
// It holds no mutable state and is safe for concurrent use.
type Preprocessor struct {
	prof profile.DatasetProfile
}

// New creates a Preprocessor for the given profile.
func New(prof profile.DatasetProfile) *Preprocessor {
	return &Preprocessor{prof: prof}
}

// Profile returns the profile this preprocessor was built for.
func (p *Preprocessor) Profile() profile.DatasetProfile {
	return p.prof
}

// normalize writes (x - mean[c]) / std[c] over a CHW plane-ordered slice in place.
func (p *Preprocessor) normalize(chw []float32) {
	plane := p.prof.Height * p.prof.Width
	for c := 0; c < p.prof.Channels; c++ {
		mean, std := p.prof.Mean[c], p.prof.Std[c]
		seg := chw[c*plane : (c+1)*plane]
		for i, v := range seg {
			seg[i] = (v - mean) / std
		}
	}
}

func (p *Preprocessor) tensor(chw []float32) Tensor {
	p.normalize(chw)
	return Tensor{Data: chw, Shape: p.prof.InputShape()}
}
