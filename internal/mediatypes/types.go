package mediatypes

import (
	"path/filepath"
	"strings"
)

// FileType is the coarse kind of a library file, decided by extension.
type FileType string

const (
	// FileTypeImage represents a still image.
	FileTypeImage FileType = "image"
	// FileTypeVideo represents a video clip.
	FileTypeVideo FileType = "video"
	// FileTypeOther represents an unsupported file.
	FileTypeOther FileType = "other"
)

// ImageExtensions lists the still image formats the indexer picks up.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
	".dng":  true,
	".heic": true,
	".heif": true,
}

// VideoExtensions lists the video formats the indexer picks up.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".m4v":  true,
	".3gp":  true,
	".webm": true,
}

// MimeTypes maps extensions to MIME types.
var MimeTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".dng":  "image/x-adobe-dng",
	".heic": "image/heic",
	".heif": "image/heif",

	".mp4":  "video/mp4",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".mov":  "video/quicktime",
	".m4v":  "video/x-m4v",
	".3gp":  "video/3gpp",
	".webm": "video/webm",
}

// GetFileType returns the FileType for a lowercase extension with its leading dot.
func GetFileType(ext string) FileType {
	if ImageExtensions[ext] {
		return FileTypeImage
	}
	if VideoExtensions[ext] {
		return FileTypeVideo
	}
	return FileTypeOther
}

// GetMimeType returns the MIME type for an extension, or application/octet-stream.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

// Ext returns the lowercase extension of name.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// IsMediaFile reports whether name has a supported extension.
func IsMediaFile(name string) bool {
	return GetFileType(Ext(name)) != FileTypeOther
}
