package loader

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"

	// Registered decoders cover the formats glTF assets commonly ship.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// decodeTexture decodes embedded or fetched image bytes to RGBA8, the layout
// GPU texture uploads expect.
//
// Parameters:
//   - data: the raw encoded image bytes
//
// Returns:
//   - *image.RGBA: the decoded pixels
//   - error: error if no registered decoder accepts the data
func decodeTexture(data []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)
	return rgba, nil
}
