package preprocess

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/nfnt/resize"
)

// maxPixels bounds decoded image area so a small compressed payload cannot
// expand into an unbounded allocation.
const maxPixels = 40_000_000

// FromImageBytes decodes an encoded image (PNG, JPEG or GIF), converts it to the
// profile's colour space, resizes it to the profile's resolution and normalises it.
func (p *Preprocessor) FromImageBytes(data []byte) (Tensor, error) {
	img, err := decodeImage(data)
	if err != nil {
		return Tensor{}, err
	}
	return p.FromImage(img), nil
}

// FromBase64 decodes a base64 (optionally data-URL prefixed) image.
func (p *Preprocessor) FromBase64(s string) (Tensor, error) {
	data, err := decodeBase64(s)
	if err != nil {
		return Tensor{}, err
	}
	return p.FromImageBytes(data)
}

// FromFile reads and preprocesses an image file from disk.
func (p *Preprocessor) FromFile(path string) (Tensor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Tensor{}, validationf("path", "read image file: %v", err)
	}
	return p.FromImageBytes(data)
}

// FromImage preprocesses an already decoded image. Alpha is discarded.
func (p *Preprocessor) FromImage(img image.Image) Tensor {
	prof := p.prof
	if prof.Grayscale() {
		gray := toGray(img, nil)
		gray = resizeGray(gray, prof.Width, prof.Height)
		chw := make([]float32, prof.InputSize())
		for i, v := range gray.Pix[:len(chw)] {
			chw[i] = float32(v) / 255
		}
		return p.tensor(chw)
	}

	rgb := resizeRGBA(toRGB(img), prof.Width, prof.Height)
	plane := prof.Height * prof.Width
	chw := make([]float32, prof.InputSize())
	for i := 0; i < plane; i++ {
		chw[i] = float32(rgb.Pix[i*4]) / 255
		chw[plane+i] = float32(rgb.Pix[i*4+1]) / 255
		chw[2*plane+i] = float32(rgb.Pix[i*4+2]) / 255
	}
	return p.tensor(chw)
}

func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, validationf("image", "empty base64 payload")
	}
	if strings.HasPrefix(s, "data:") {
		idx := strings.Index(s, ",")
		if idx < 0 {
			return nil, validationf("image", "malformed data URL")
		}
		s = s[idx+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
			return raw, nil
		}
		return nil, validationf("image", "invalid base64: %v", err)
	}
	return data, nil
}

func decodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, validationf("image", "empty image payload")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, validationf("image", "cannot identify image: %v", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, validationf("image", "unsupported image dimensions %dx%d", cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, validationf("image", "decode image: %v", err)
	}
	return img, nil
}

// toRGB copies img into an opaque RGBA image, dropping alpha like a plain RGB conversion.
func toRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			i := out.PixOffset(x-b.Min.X, y-b.Min.Y)
			out.Pix[i] = c.R
			out.Pix[i+1] = c.G
			out.Pix[i+2] = c.B
			out.Pix[i+3] = 0xff
		}
	}
	return out
}

// toGray converts img to 8-bit luma. When background is non-nil, translucent pixels
// are composited over it first; otherwise alpha is dropped.
func toGray(img image.Image, background color.Color) *image.Gray {
	b := img.Bounds()
	src := img
	if background != nil {
		flat := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(flat, flat.Bounds(), image.NewUniform(background), image.Point{}, draw.Src)
		draw.Draw(flat, flat.Bounds(), img, b.Min, draw.Over)
		src = flat
		b = flat.Bounds()
	}
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			// ITU-R 601-2 luma transform
			l := (299*uint32(c.R) + 587*uint32(c.G) + 114*uint32(c.B) + 500) / 1000
			out.Pix[out.PixOffset(x-b.Min.X, y-b.Min.Y)] = uint8(l)
		}
	}
	return out
}

func resizeGray(img *image.Gray, w, h int) *image.Gray {
	if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		return img
	}
	resized := resize.Resize(uint(w), uint(h), img, resize.Bilinear)
	if g, ok := resized.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	return toGray(resized, nil)
}

func resizeRGBA(img *image.RGBA, w, h int) *image.RGBA {
	if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
		return img
	}
	resized := resize.Resize(uint(w), uint(h), img, resize.Bilinear)
	if rgba, ok := resized.(*image.RGBA); ok && rgba.Bounds().Min == (image.Point{}) {
		return rgba
	}
	return toRGB(resized)
}
