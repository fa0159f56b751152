package preprocess

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// FromArray converts a decoded JSON numeric array into a tensor.
//
// Grayscale profiles accept a flat H*W vector or an H×W matrix; RGB profiles accept
// an H×W×3 array. Values are intensities in [0,1]; an array whose maximum exceeds 1 is
// taken to be in [0,255] and rescaled.
func (p *Preprocessor) FromArray(v any) (Tensor, error) {
	values, shape, err := flatten(v)
	if err != nil {
		return Tensor{}, err
	}
	if !p.acceptsShape(shape) {
		return Tensor{}, validationf("image", "array shape %s not accepted, expected %s",
			formatShape(shape), p.acceptedShapes())
	}

	scale := 1.0
	for _, x := range values {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return Tensor{}, validationf("image", "array contains non-finite values")
		}
		if x > 1 {
			scale = 255
		}
	}

	prof := p.prof
	chw := make([]float32, prof.InputSize())
	if prof.Grayscale() {
		for i, x := range values {
			chw[i] = float32(x / scale)
		}
		return p.tensor(chw), nil
	}

	// HWC -> CHW
	plane := prof.Height * prof.Width
	for i := 0; i < plane; i++ {
		for c := 0; c < prof.Channels; c++ {
			chw[c*plane+i] = float32(values[i*prof.Channels+c] / scale)
		}
	}
	return p.tensor(chw), nil
}

func (p *Preprocessor) acceptsShape(shape []int) bool {
	prof := p.prof
	if prof.Grayscale() {
		return equalShape(shape, []int{prof.Height * prof.Width}) ||
			equalShape(shape, []int{prof.Height, prof.Width})
	}
	return equalShape(shape, []int{prof.Height, prof.Width, prof.Channels})
}

func (p *Preprocessor) acceptedShapes() string {
	prof := p.prof
	if prof.Grayscale() {
		return fmt.Sprintf("[%d] or [%d,%d]", prof.Height*prof.Width, prof.Height, prof.Width)
	}
	return formatShape([]int{prof.Height, prof.Width, prof.Channels})
}

// flatten walks a nested array and returns its values in row-major order with its shape.
// Scalars have an empty shape.
func flatten(v any) ([]float64, []int, error) {
	switch x := v.(type) {
	case []any:
		if len(x) == 0 {
			return nil, nil, validationf("image", "empty array")
		}
		var (
			values []float64
			inner  []int
		)
		for i, e := range x {
			d, s, err := flatten(e)
			if err != nil {
				return nil, nil, err
			}
			if i == 0 {
				inner = s
			} else if !equalShape(inner, s) {
				return nil, nil, validationf("image", "ragged array at index %d", i)
			}
			values = append(values, d...)
		}
		return values, append([]int{len(x)}, inner...), nil
	case []float64:
		if len(x) == 0 {
			return nil, nil, validationf("image", "empty array")
		}
		return append([]float64(nil), x...), []int{len(x)}, nil
	case []float32:
		if len(x) == 0 {
			return nil, nil, validationf("image", "empty array")
		}
		out := make([]float64, len(x))
		for i, f := range x {
			out[i] = float64(f)
		}
		return out, []int{len(x)}, nil
	case [][]float64:
		rows := make([]any, len(x))
		for i, r := range x {
			rows[i] = r
		}
		return flatten(rows)
	case float64:
		return []float64{x}, nil, nil
	case float32:
		return []float64{float64(x)}, nil, nil
	case int:
		return []float64{float64(x)}, nil, nil
	case int64:
		return []float64{float64(x)}, nil, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return nil, nil, validationf("image", "invalid number %q", x.String())
		}
		return []float64{f}, nil, nil
	case nil:
		return nil, nil, validationf("image", "missing image data")
	default:
		return nil, nil, validationf("image", "unsupported element type %T", v)
	}
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, d := range shape {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
