// Package imaging decodes uploaded images for vision requests.
package imaging

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"path/filepath"
	"strings"
)

// ErrMalformedImage is returned when an upload cannot be decoded; the user should re-upload.
var ErrMalformedImage = errors.New("image could not be decoded, please re-upload")

// AcceptedExtensions lists the upload types the vision endpoint takes.
var AcceptedExtensions = []string{"jpg", "jpeg", "png"}

var mimeByFormat = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
}

// Image is a decoded upload. Raw keeps the original bytes for the model request.
type Image struct {
	Name     string
	Format   string
	MIMEType string
	Width    int
	Height   int
	Digest   string
	Raw      []byte
	Pixels   image.Image
}

// Digest returns the content digest used to recognise repeated uploads.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Decoder validates and decodes uploads up to MaxBytes.
type Decoder struct {
	MaxBytes int64
}

// Decode checks the extension and size, then fully decodes data.
// An empty name skips the extension check.
func (d Decoder) Decode(name string, data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty upload", ErrMalformedImage)
	}
	if d.MaxBytes > 0 && int64(len(data)) > d.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrMalformedImage, len(data), d.MaxBytes)
	}
	if name != "" && !acceptedExtension(name) {
		return nil, fmt.Errorf("%w: unsupported file type %q", ErrMalformedImage, filepath.Ext(name))
	}

	pixels, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedImage, err)
	}
	mime, ok := mimeByFormat[format]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrMalformedImage, format)
	}

	bounds := pixels.Bounds()
	return &Image{
		Name:     name,
		Format:   format,
		MIMEType: mime,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Digest:   Digest(data),
		Raw:      data,
		Pixels:   pixels,
	}, nil
}

func acceptedExtension(name string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, a := range AcceptedExtensions {
		if ext == a {
			return true
		}
	}
	return false
}
