package qrcode

import (
	"encoding/base64"
	"fmt"

	qrc "github.com/skip2/go-qrcode"
)

// Image size bounds in pixels. Size only affects rendering, never the
// encoded payload.
const (
	MinImageSize     = 128
	DefaultImageSize = 256
	MaxImageSize     = 1024
)

func ClampSize(size int) int {
	if size <= 0 {
		return DefaultImageSize
	}
	if size < MinImageSize {
		return MinImageSize
	}
	if size > MaxImageSize {
		return MaxImageSize
	}
	return size
}

// EncodeDataURL renders payload as a PNG QR image and returns it as a
// base64 data URL suitable for an <img> src.
func EncodeDataURL(payload []byte, size int) (string, error) {
	png, err := qrc.Encode(string(payload), qrc.Medium, ClampSize(size))
	if err != nil {
		return "", fmt.Errorf("encode qr image: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
