package imaging

import (
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
)

// ImageCache provides thread-safe caching of decoded drawings and templates
// so repeated tool calls on the same file do not hit the disk again.
//
// Entries are keyed by the exact path string. A cached image is never
// modified; callers that need to draw on it must copy it first.
//
// # Memory Management
//
// Drawings scanned at 300 DPI are large. Entries stay cached until Evict or
// Clear is called, so long-running servers should evict pages once a run
// is finished with them.
//
// # Example Usage
//
//	cache := imaging.NewImageCache()
//	img, err := cache.Load("/drawings/sheet-1.png")
//	if err != nil {
//	    return err
//	}
//	defer cache.Evict("/drawings/sheet-1.png")
type ImageCache struct {
	mu     sync.RWMutex
	images map[string]image.Image
}

// NewImageCache creates an empty cache.
func NewImageCache() *ImageCache {
	return &ImageCache{
		images: make(map[string]image.Image),
	}
}

// Load returns the cached image for path, decoding it from disk on first
// use. PNG, JPEG, GIF, TIFF and BMP files are supported.
//
// # Errors
//
//   - the file does not exist or cannot be read
//   - the contents are not an image in a supported format
func (c *ImageCache) Load(path string) (image.Image, error) {
	c.mu.RLock()
	if img, ok := c.images[path]; ok {
		c.mu.RUnlock()
		return img, nil
	}
	c.mu.RUnlock()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.images[path] = img
	c.mu.Unlock()

	return img, nil
}

// Clear removes every cached image.
func (c *ImageCache) Clear() {
	c.mu.Lock()
	c.images = make(map[string]image.Image)
	c.mu.Unlock()
}

// Evict removes one image. Unknown paths are ignored.
func (c *ImageCache) Evict(path string) {
	c.mu.Lock()
	delete(c.images, path)
	c.mu.Unlock()
}

// Len reports how many images are cached.
func (c *ImageCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.images)
}

// Decode reads one image in any supported format, for example from an
// HTTP request body.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// ImageInfo describes a drawing or template file.
type ImageInfo struct {
	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`

	// Format is derived from the file extension: "png", "jpeg", "gif",
	// "tiff", "bmp", or "unknown".
	Format string `json:"format"`

	// ColorDepth is "8-bit" or "16-bit" per channel.
	ColorDepth string `json:"color_depth"`

	// Grayscale is true for single-channel images, the usual form of a
	// scanned drawing.
	Grayscale bool `json:"grayscale"`

	// HasAlpha indicates an alpha channel. Transparent template pixels are
	// flattened onto white before matching.
	HasAlpha bool `json:"has_alpha"`

	// FileSizeBytes is the size of the file on disk.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// LoadImageInfo loads path through the cache and describes it.
//
// Color depth and channel layout come from the decoded Go image type:
//   - *image.RGBA64, *image.NRGBA64, *image.Gray16: "16-bit"
//   - *image.Gray, *image.Gray16: grayscale
//   - *image.RGBA, *image.NRGBA and their 16-bit forms: alpha
func LoadImageInfo(cache *ImageCache, path string) (*ImageInfo, error) {
	img, err := cache.Load(path)
	if err != nil {
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	info := &ImageInfo{
		Width:         img.Bounds().Dx(),
		Height:        img.Bounds().Dy(),
		Format:        FormatOf(path),
		ColorDepth:    "8-bit",
		FileSizeBytes: stat.Size(),
	}
	switch img.(type) {
	case *image.Gray:
		info.Grayscale = true
	case *image.Gray16:
		info.Grayscale = true
		info.ColorDepth = "16-bit"
	case *image.RGBA, *image.NRGBA:
		info.HasAlpha = true
	case *image.RGBA64, *image.NRGBA64:
		info.HasAlpha = true
		info.ColorDepth = "16-bit"
	}
	return info, nil
}

// FormatOf names the image format implied by a file extension.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "png"
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".gif":
		return "gif"
	case ".tif", ".tiff":
		return "tiff"
	case ".bmp":
		return "bmp"
	case ".pdf":
		return "pdf"
	}
	return "unknown"
}
