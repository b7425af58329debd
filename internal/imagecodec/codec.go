// Package imagecodec converts portraits to and from the text form stored
// in the directory.
package imagecodec

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"strings"
	"unicode"

	// Formats accepted on decode besides JPEG.
	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/dtroode/staffsync/internal/logger"
)

// Quality is the fixed JPEG quality used for stored portraits.
const Quality = 70

// ContentType of the bytes produced by EncodeBytes.
const ContentType = "image/jpeg"

var errNilImage = errors.New("image is nil")

// Codec encodes portraits as base64 JPEG text.
type Codec struct {
	logger   *logger.Logger
	onFailed func()
}

// New creates a Codec. onDecodeFailed, if not nil, is called for every
// stored string that could not be turned back into an image.
func New(logger *logger.Logger, onDecodeFailed func()) *Codec {
	return &Codec{logger: logger, onFailed: onDecodeFailed}
}

// EncodeBytes compresses img to JPEG.
func (c *Codec) EncodeBytes(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, errNilImage
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, fmt.Errorf("failed to compress image: %w", err)
	}

	return buf.Bytes(), nil
}

// Encode compresses img and returns it as padded standard base64.
func (c *Codec) Encode(img image.Image) (string, error) {
	text, _, err := c.EncodeWithBytes(img)
	return text, err
}

// EncodeWithBytes compresses img once and returns both the stored text and
// the JPEG bytes behind it.
func (c *Codec) EncodeWithBytes(img image.Image) (string, []byte, error) {
	data, err := c.EncodeBytes(img)
	if err != nil {
		return "", nil, err
	}

	return base64.StdEncoding.EncodeToString(data), data, nil
}

// Decode reverses Encode. Malformed input yields nil; the failure is logged
// and never returned.
func (c *Codec) Decode(text string) image.Image {
	img, _ := c.DecodeWithBytes(text)
	return img
}

// DecodeWithBytes is Decode that also returns the stored bytes when they are
// JPEG, so they can be served without compressing the image again.
func (c *Codec) DecodeWithBytes(text string) (image.Image, []byte) {
	// older writers wrap base64 at 76 columns
	text = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	if text == "" {
		return nil, nil
	}

	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		c.failed("invalid base64", err)
		return nil, nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		c.failed("corrupt image data", err)
		return nil, nil
	}
	if format != "jpeg" {
		return img, nil
	}

	return img, data
}

// DecodeBytes parses an uploaded image in any registered format. Unlike
// Decode it reports the failure to the caller.
func (c *Codec) DecodeBytes(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errNilImage
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	return img, nil
}

func (c *Codec) failed(reason string, err error) {
	if c.logger != nil {
		c.logger.Warn("Image codec: failed to decode stored image", "reason", reason, "error", err)
	}
	if c.onFailed != nil {
		c.onFailed()
	}
}
