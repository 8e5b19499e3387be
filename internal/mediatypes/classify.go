package mediatypes

import "strings"

// MediaType is the semantic tag stored on each photo.
type MediaType string

const (
	MediaTypePhoto      MediaType = "photo"
	MediaTypeScreenshot MediaType = "screenshot"
	MediaTypeDocument   MediaType = "document"
	MediaTypeSocial     MediaType = "social"
	MediaTypeBurst      MediaType = "burst"
	MediaTypePanorama   MediaType = "panorama"
	MediaTypeSquare     MediaType = "square"
	MediaTypeSelfie     MediaType = "selfie"
	MediaTypeVideo      MediaType = "video"
	MediaTypeOther      MediaType = "other"
)

// panoramaRatio is the long/short side ratio above which an image is a panorama.
const panoramaRatio = 2.2

// Hints carries whatever is known about an asset when it is classified. The
// enumerator only has name, folder and maybe dimensions; the enricher adds the
// camera fields.
type Hints struct {
	FileName     string
	RelativePath string
	Width        int
	Height       int
	CameraMake   string
	CameraModel  string
}

// Classify derives a media type from filename, folder, aspect ratio and camera
// metadata. Rules are applied in order and the first match wins.
func Classify(h Hints) MediaType {
	name := strings.ToLower(h.FileName)
	path := strings.ToLower(h.RelativePath)

	if GetFileType(Ext(h.FileName)) == FileTypeVideo {
		return MediaTypeVideo
	}

	switch {
	case strings.Contains(name, "screenshot") || strings.Contains(path, "screenshots"):
		return MediaTypeScreenshot
	case strings.Contains(path, "scan") || strings.Contains(path, "office lens"):
		return MediaTypeDocument
	case strings.Contains(path, "whatsapp") || strings.Contains(path, "signal") ||
		strings.Contains(name, "signal") || strings.Contains(path, "telegram"):
		return MediaTypeSocial
	case strings.Contains(name, "burst") || strings.Contains(name, "_seq_"):
		return MediaTypeBurst
	}

	if h.Width > 0 && h.Height > 0 {
		long, short := h.Width, h.Height
		if short > long {
			long, short = short, long
		}
		switch {
		case float64(long)/float64(short) > panoramaRatio:
			return MediaTypePanorama
		case long == short:
			return MediaTypeSquare
		case strings.Contains(strings.ToLower(h.CameraModel), "front"):
			return MediaTypeSelfie
		default:
			return MediaTypePhoto
		}
	}

	if h.CameraMake == "" && h.CameraModel == "" {
		return MediaTypeOther
	}
	return MediaTypePhoto
}
