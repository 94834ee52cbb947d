package photo

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidDataURI is returned for anything that is not a base64 image data URI
var ErrInvalidDataURI = errors.New("photo: invalid image data URI")

var extToMIME = map[string]string{
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

var mimeToExt = map[string]string{
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
}

// MIMEFromURL guesses an image type from the URL path. Unknown extensions are treated as JPEG.
func MIMEFromURL(rawURL string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if m, ok := extToMIME[strings.ToLower(path.Ext(p))]; ok {
		return m
	}
	return "image/jpeg"
}

// EncodeDataURI renders bytes as a data URI
func EncodeDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI splits a base64 data URI into its MIME type and bytes
func DecodeDataURI(uri string) (mimeType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, ErrInvalidDataURI
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURI
	}
	mimeType, ok = strings.CutSuffix(header, ";base64")
	if !ok || !strings.HasPrefix(mimeType, "image/") {
		return "", nil, ErrInvalidDataURI
	}

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	if len(data) == 0 {
		return "", nil, ErrInvalidDataURI
	}
	return strings.ToLower(mimeType), data, nil
}

// ExtensionFor returns the file extension for an image MIME type, defaulting to jpg
func ExtensionFor(mimeType string) string {
	if ext, ok := mimeToExt[strings.ToLower(mimeType)]; ok {
		return ext
	}
	return "jpg"
}
