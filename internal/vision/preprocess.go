package vision

import (
	"bytes"
	"fmt"
	"image"

	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// Input geometry expected by the classifier (MobileNet-family input).
const (
	InputSize     = 224
	InputChannels = 3
)

// Preprocess decodes image bytes, scales them to 224x224 and returns a
// flat RGB tensor with channel values normalized to [0,1], row-major
// HWC layout.
func Preprocess(imageBytes []byte) ([]float32, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	dst := image.NewRGBA(image.Rect(0, 0, InputSize, InputSize))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	tensor := make([]float32, InputSize*InputSize*InputChannels)
	i := 0
	for y := 0; y < InputSize; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+InputSize*4]
		for x := 0; x < InputSize; x++ {
			tensor[i] = float32(row[x*4]) / 255.0
			tensor[i+1] = float32(row[x*4+1]) / 255.0
			tensor[i+2] = float32(row[x*4+2]) / 255.0
			i += InputChannels
		}
	}
	return tensor, nil
}
