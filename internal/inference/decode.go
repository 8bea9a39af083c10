package inference

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
)

var errEmptyFrame = errors.New("empty image payload")

// DecodeFrame decodes a base64 image, optionally wrapped in a data URL
// such as "data:image/jpeg;base64,...".
func DecodeFrame(payload string, flipHorizontal bool) (image.Image, error) {
	mediaType, encoded := splitDataURL(strings.TrimSpace(payload))
	if encoded == "" {
		return nil, &DecodeError{Err: errEmptyFrame}
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// canvas.toDataURL output is padded, but some clients strip it
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if err != nil {
			return nil, &DecodeError{Err: fmt.Errorf("invalid base64: %w", err)}
		}
	}

	img, err := decodeImage(mediaType, raw)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}

	if flipHorizontal {
		img = imaging.FlipH(img)
	}
	return img, nil
}

// DecodeFile reads an extracted frame from disk
func DecodeFile(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return img, nil
}

func splitDataURL(payload string) (mediaType, data string) {
	if !strings.HasPrefix(payload, "data:") {
		return "", payload
	}
	header, data, found := strings.Cut(payload, ",")
	if !found {
		return "", ""
	}
	header = strings.TrimPrefix(header, "data:")
	mediaType, _, _ = strings.Cut(header, ";")
	return mediaType, data
}

func decodeImage(mediaType string, raw []byte) (image.Image, error) {
	if mediaType == "image/webp" || isWebP(raw) {
		img, err := webp.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid webp image: %w", err)
		}
		return img, nil
	}

	img, err := imaging.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unsupported or corrupt image: %w", err)
	}
	return img, nil
}

func isWebP(raw []byte) bool {
	return len(raw) >= 12 && string(raw[0:4]) == "RIFF" && string(raw[8:12]) == "WEBP"
}

// encodeJPEG serializes a frame for the model process
func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
