package adapters

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// MaxImageBase64Bytes caps the base64-encoded size of an inline image,
// checked pre-decode (Codex's original_source behavior; applied uniformly
// so every adapter drops oversized images the same way).
const MaxImageBase64Bytes = 10 * 1024 * 1024

// DecodeImage resolves img to a local filesystem path: Path is used
// as-is, Base64 is decoded into a temp file. Returns ok=false (logging a
// Warn, never erroring the turn) for invalid or oversized input, per
// spec's image-handling edge cases.
func DecodeImage(img Image, logger *slog.Logger) (path string, mime string, ok bool) {
	if logger == nil {
		logger = slog.Default()
	}
	if img.Path != "" {
		return img.Path, mimeFromPath(img.Path, img.MimeType), true
	}
	if img.Base64 == "" {
		return "", "", false
	}
	if len(img.Base64) > MaxImageBase64Bytes {
		logger.Warn("adapters: dropped oversized image", "base64_bytes", len(img.Base64))
		return "", "", false
	}

	data, err := base64.StdEncoding.DecodeString(img.Base64)
	if err != nil {
		logger.Warn("adapters: invalid base64 image", "error", err)
		return "", "", false
	}

	mime := img.MimeType
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	ext := extFromMime(mime)

	f, err := os.CreateTemp("", "agentcore-img-*"+ext)
	if err != nil {
		logger.Warn("adapters: failed to create temp image file", "error", err)
		return "", "", false
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		logger.Warn("adapters: failed to write temp image file", "error", err)
		return "", "", false
	}
	return f.Name(), mime, true
}

func mimeFromPath(path, fallback string) string {
	if fallback != "" {
		return fallback
	}
	switch filepath.Ext(path) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}

func extFromMime(mime string) string {
	switch mime {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".bin"
	}
}

// ReadImageBase64 reads path and returns its base64-encoded contents,
// for adapters (ACP) whose wire protocol always wants inline image data
// regardless of how the caller originally supplied it.
func ReadImageBase64(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("adapters: read image %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
