package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	xdraw "golang.org/x/image/draw"
)

const (
	// TensorDim is the side length the model was trained on.
	TensorDim = 50
	// Channels is the number of color channels in the tensor.
	Channels = 3
)

// ErrDecode reports that the uploaded bytes are not a decodable image.
var ErrDecode = errors.New("not a valid image")

// Decode parses raw upload bytes into an image.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// Tensor stretches the image to TensorDim x TensorDim (no aspect-ratio
// preservation), scales RGB channels to [0, 1] and returns the flattened
// (1, 50, 50, 3) tensor the classifier expects.
func Tensor(img image.Image) []float32 {
	dst := image.NewRGBA(image.Rect(0, 0, TensorDim, TensorDim))
	xdraw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	out := make([]float32, TensorDim*TensorDim*Channels)
	i := 0
	for y := 0; y < TensorDim; y++ {
		for x := 0; x < TensorDim; x++ {
			offset := dst.PixOffset(x, y)
			out[i] = float32(dst.Pix[offset]) / 255
			out[i+1] = float32(dst.Pix[offset+1]) / 255
			out[i+2] = float32(dst.Pix[offset+2]) / 255
			i += Channels
		}
	}
	return out
}

// Grayscale converts the source image for embedding in the report.
func Grayscale(img image.Image) *image.Gray {
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	xdraw.Draw(gray, gray.Bounds(), img, bounds.Min, xdraw.Src)
	return gray
}
