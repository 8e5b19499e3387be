package source

import (
	"bufio"
	"image"
	_ "image/gif"  // GIF format support
	_ "image/jpeg" // JPEG format support
	_ "image/png"  // PNG format support

	_ "golang.org/x/image/bmp"  // BMP format support
	_ "golang.org/x/image/tiff" // TIFF format support
	_ "golang.org/x/image/webp" // WebP format support

	"photo-indexer/internal/filesystem"
)

// Dimensions is an image's pixel size.
type Dimensions struct {
	Width  int
	Height int
}

// ProbeDimensions reads just enough of an image to learn its size.
func ProbeDimensions(path string, retry filesystem.RetryConfig) (*Dimensions, error) {
	file, err := filesystem.OpenWithRetry(path, retry)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := file.Close(); err != nil {
			log.Warn("failed to close image file %s: %v", path, err)
		}
	}()

	config, _, err := image.DecodeConfig(bufio.NewReader(file))
	if err != nil {
		return nil, err
	}

	return &Dimensions{
		Width:  config.Width,
		Height: config.Height,
	}, nil
}
