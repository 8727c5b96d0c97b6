package generation

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// DefaultImageMIMEType is assumed when a data URI omits its media type.
const DefaultImageMIMEType = "image/png"

// Image is an in-memory image with its media type.
type Image struct {
	Data     []byte
	MIMEType string
}

// IsZero reports whether the image carries no bytes.
func (i Image) IsZero() bool {
	return len(i.Data) == 0
}

// Base64 returns the standard base64 encoding of the image bytes.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURI renders the image as a data: URI.
func (i Image) DataURI() string {
	mime := i.MIMEType
	if mime == "" {
		mime = DefaultImageMIMEType
	}
	return "data:" + mime + ";base64," + i.Base64()
}

// NewImage builds an Image, sniffing the media type when mime is blank.
func NewImage(data []byte, mime string) Image {
	mime = strings.TrimSpace(mime)
	if mime == "" && len(data) > 0 {
		mime = http.DetectContentType(data)
		if idx := strings.IndexByte(mime, ';'); idx >= 0 {
			mime = mime[:idx]
		}
	}
	return Image{Data: data, MIMEType: mime}
}

// DecodeBase64Image decodes base64 bytes into an Image.
func DecodeBase64Image(encoded, mime string) (Image, error) {
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return Image{}, fmt.Errorf("decode image base64: %w", err)
	}
	return NewImage(data, mime), nil
}

// ParseDataURI decodes a base64 data: URI.
func ParseDataURI(uri string) (Image, error) {
	data, mime, err := DecodeDataURI(uri)
	if err != nil {
		return Image{}, err
	}
	if mime == "" {
		mime = DefaultImageMIMEType
	}
	return Image{Data: data, MIMEType: mime}, nil
}

// DecodeDataURI returns the payload and media type of a base64 data: URI.
func DecodeDataURI(uri string) ([]byte, string, error) {
	uri = strings.TrimSpace(uri)
	if !strings.HasPrefix(uri, "data:") {
		return nil, "", errors.New("not a data uri")
	}
	header, payload, ok := strings.Cut(uri[len("data:"):], ",")
	if !ok {
		return nil, "", errors.New("data uri missing payload separator")
	}
	mime, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 {
		return nil, "", errors.New("data uri is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("decode data uri: %w", err)
	}
	return data, mime, nil
}
