package utils

import (
	"encoding/base64"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// RenderQRPNG encodes text as a square PNG of size pixels with medium
// error correction.
func RenderQRPNG(text string, size int) ([]byte, error) {
	if size <= 0 {
		size = 300
	}
	qr, err := qrcode.New(text, qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("generate qr: %w", err)
	}
	png, err := qr.PNG(size)
	if err != nil {
		return nil, fmt.Errorf("encode qr png: %w", err)
	}
	return png, nil
}

// RenderQRDataURI returns the QR image as a data URI usable directly in an
// <img> tag.  The payload is the opaque QR token and nothing else.
func RenderQRDataURI(text string, size int) (string, error) {
	png, err := RenderQRPNG(text, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
