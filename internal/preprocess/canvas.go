package preprocess

import (
	"image"
	"image/color"
)

// FromCanvas preprocesses a base64 drawing-surface export for a grayscale profile.
//
// Canvases are dark strokes on a light (or transparent) background while the digit
// corpus is light-on-dark, so intensities are inverted after the resize. RGB profiles
// have no canvas convention and fall back to FromBase64.
func (p *Preprocessor) FromCanvas(s string) (Tensor, error) {
	if !p.prof.Grayscale() {
		return p.FromBase64(s)
	}
	data, err := decodeBase64(s)
	if err != nil {
		return Tensor{}, err
	}
	img, err := decodeImage(data)
	if err != nil {
		return Tensor{}, err
	}
	return p.tensor(p.CanvasPixels(img)), nil
}

// CanvasPixels returns the inverted [0,1] intensities of a canvas image after it has been
// flattened onto white, converted to gray and resized, before normalisation.
// An all-white canvas yields all zeros.
func (p *Preprocessor) CanvasPixels(img image.Image) []float32 {
	prof := p.prof
	gray := toGray(img, color.White)
	gray = resizeGray(gray, prof.Width, prof.Height)
	out := make([]float32, prof.Height*prof.Width)
	for i := range out {
		out[i] = float32(255-gray.Pix[i]) / 255
	}
	return out
}
