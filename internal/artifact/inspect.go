package artifact

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

type Info struct {
	Format string
	Width  int
	Height int
}

// Inspect decodes only the image header, enough to reject non-image payloads
// and learn the format.
func Inspect(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, fmt.Errorf("artifact is empty")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("decode artifact header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("artifact has invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}
	return Info{Format: normalizeFormat(format), Width: cfg.Width, Height: cfg.Height}, nil
}

func normalizeFormat(format string) string {
	switch format {
	case "jpg":
		return "jpeg"
	case "jpeg", "png", "webp", "gif":
		return format
	default:
		return "png"
	}
}

func ContentTypeForFormat(format string) string {
	switch normalizeFormat(format) {
	case "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	case "gif":
		return "image/gif"
	default:
		return "image/png"
	}
}
