package chat

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrUnsupportedImage   = errors.New("unsupported image type")
	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")
)

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// Attachment is an image sent along with a user message
type Attachment struct {
	Name     string
	MimeType string
	Data     []byte
}

// NewAttachment validates data against the image allow-list and maxBytes.
// maxBytes <= 0 disables the size check.
func NewAttachment(name string, data []byte, maxBytes int64) (*Attachment, error) {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrAttachmentTooLarge, name, len(data), maxBytes)
	}

	mimeType := http.DetectContentType(data)
	if !allowedImageTypes[mimeType] {
		return nil, fmt.Errorf("%w: %s (%s)", ErrUnsupportedImage, name, mimeType)
	}

	return &Attachment{
		Name:     name,
		MimeType: mimeType,
		Data:     data,
	}, nil
}

// LoadAttachment reads and validates an image file
func LoadAttachment(path string, maxBytes int64) (*Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat attachment: %w", err)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrAttachmentTooLarge, path, info.Size(), maxBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return NewAttachment(filepath.Base(path), data, maxBytes)
}

// Ref returns the byte-free description stored in the turn log
func (a *Attachment) Ref() *AttachmentRef {
	if a == nil {
		return nil
	}
	return &AttachmentRef{Name: a.Name, MimeType: a.MimeType}
}

// Base64 returns the standard base64 encoding of the image
func (a *Attachment) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// DataURL returns the image as a data: URL
func (a *Attachment) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", a.MimeType, a.Base64())
}

// Payload formats the image the way provider expects it. Unknown providers
// get the openai shape.
func (a *Attachment) Payload(provider string) any {
	switch strings.ToLower(provider) {
	case "anthropic":
		return map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": a.MimeType,
				"data":       a.Base64(),
			},
		}
	case "ollama":
		return a.Base64()
	case "gemini", "google":
		return map[string]any{
			"inline_data": map[string]any{
				"mime_type": a.MimeType,
				"data":      a.Base64(),
			},
		}
	default:
		return map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url": a.DataURL(),
			},
		}
	}
}
