package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
)

// EncodedImage is a PNG ready to be returned to an MCP client.
type EncodedImage struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

// CropRegion copies the rectangle [x1,x2) x [y1,y2) out of img, with the
// result's origin at (0,0). It is used to cut a symbol template out of a
// drawing.
func CropRegion(img image.Image, x1, y1, x2, y2 int) (*image.NRGBA, error) {
	bounds := img.Bounds()

	if x1 < bounds.Min.X || y1 < bounds.Min.Y || x2 > bounds.Max.X || y2 > bounds.Max.Y {
		return nil, fmt.Errorf("crop region (%d,%d)-(%d,%d) outside image bounds (%d,%d)-(%d,%d)",
			x1, y1, x2, y2, bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	}
	if x1 >= x2 || y1 >= y2 {
		return nil, fmt.Errorf("invalid crop region: x1 must be < x2, y1 must be < y2")
	}

	return imaging.Crop(img, image.Rect(x1, y1, x2, y2)), nil
}

// EncodePNG encodes img as a base64 PNG, optionally scaled first. A scale
// of 0 or 1 keeps the original size.
func EncodePNG(img image.Image, scale float64) (*EncodedImage, error) {
	if scale > 0 && scale != 1 {
		w := max(1, int(float64(img.Bounds().Dx())*scale))
		h := max(1, int(float64(img.Bounds().Dy())*scale))
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return &EncodedImage{
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}
