// Package media renders cached thumbnails and previews, hashes file content,
// and extracts image metadata. It never touches the database; the library
// tasks own persistence.
package media

import (
	"mime"
	"path/filepath"
	"strings"
)

// FileType classifies a file for filtering and display.
type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypeVideo FileType = "video"
	FileTypeOther FileType = "other"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".tiff": true, ".tif": true,
	".heic": true, ".heif": true, ".avif": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true,
	".wmv": true, ".flv": true, ".webm": true, ".m4v": true,
}

// decodableExts are the formats with pure-Go decoders. heic/heif/avif/bmp/tiff
// need CGo or extra libraries and are indexed but never rendered.
var decodableExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
}

// Detect returns the FileType for the given file path based on extension.
func Detect(path string) FileType {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case imageExts[ext]:
		return FileTypeImage
	case videoExts[ext]:
		return FileTypeVideo
	default:
		return FileTypeOther
	}
}

// Indexable reports whether a path is worth tracking at all.
func Indexable(path string) bool {
	return Detect(path) != FileTypeOther
}

// ContentType returns the MIME content type for the file based on its
// extension, "application/octet-stream" when unknown.
func ContentType(path string) string {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
