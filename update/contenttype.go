package update

import (
	"mime"
	"strings"
)

const (
	launchAssetExtension   = ".bundle"
	launchAssetContentType = "application/javascript"
	defaultContentType     = "application/octet-stream"
)

// contentTypes covers the asset types bundlers emit. Lookups fall back to
// the system MIME table for anything else.
var contentTypes = map[string]string{
	"png":    "image/png",
	"jpg":    "image/jpeg",
	"jpeg":   "image/jpeg",
	"gif":    "image/gif",
	"webp":   "image/webp",
	"bmp":    "image/bmp",
	"ico":    "image/vnd.microsoft.icon",
	"svg":    "image/svg+xml",
	"heic":   "image/heic",
	"ttf":    "font/ttf",
	"otf":    "font/otf",
	"woff":   "font/woff",
	"woff2":  "font/woff2",
	"mp3":    "audio/mpeg",
	"wav":    "audio/wav",
	"m4a":    "audio/mp4",
	"mp4":    "video/mp4",
	"mov":    "video/quicktime",
	"json":   "application/json",
	"js":     "application/javascript",
	"hbc":    "application/octet-stream",
	"html":   "text/html",
	"css":    "text/css",
	"txt":    "text/plain",
	"db":     "application/octet-stream",
	"lottie": "application/zip",
}

// ContentType returns the media type for a file extension, with or without
// the leading dot.
func ContentType(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return defaultContentType
	}
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension("." + ext); ct != "" {
		mediaType, _, _ := strings.Cut(ct, ";")
		return strings.TrimSpace(mediaType)
	}
	return defaultContentType
}
