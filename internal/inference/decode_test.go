package inference

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testImage is 4x2 with a red left half and a blue right half
func testImage() *image.NRGBA {
	img := imaging.New(4, 2, color.NRGBA{B: 255, A: 255})
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, color.NRGBA{R: 255, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDecodeFrame(t *testing.T) {
	encoded := encodePNG(t, testImage())

	tests := []struct {
		name    string
		payload string
	}{
		{name: "raw base64", payload: encoded},
		{name: "data url", payload: "data:image/png;base64," + encoded},
		{name: "unpadded", payload: string(bytes.TrimRight([]byte(encoded), "="))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeFrame(tt.payload, false)
			require.NoError(t, err)
			assert.Equal(t, 4, img.Bounds().Dx())
			assert.Equal(t, 2, img.Bounds().Dy())
		})
	}
}

func TestDecodeFrameWebP(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, webp.Encode(&buf, testImage(), &webp.Options{Lossless: true}))
	payload := "data:image/webp;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	img, err := DecodeFrame(payload, false)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	// sniffed without a media type too
	img, err = DecodeFrame(base64.StdEncoding.EncodeToString(buf.Bytes()), false)
	require.NoError(t, err)
	assert.Equal(t, 2, img.Bounds().Dy())
}

func TestDecodeFrameFlip(t *testing.T) {
	img, err := DecodeFrame(encodePNG(t, testImage()), true)
	require.NoError(t, err)

	r, _, b, _ := img.At(0, 0).RGBA()
	assert.Zero(t, r)
	assert.NotZero(t, b)
}

func TestDecodeFrameErrors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{name: "empty", payload: ""},
		{name: "empty data url", payload: "data:image/png;base64,"},
		{name: "no comma", payload: "data:image/png;base64"},
		{name: "not base64", payload: "!!!not-base64!!!"},
		{name: "not an image", payload: base64.StdEncoding.EncodeToString([]byte("hello world"))},
		{name: "corrupt webp", payload: "data:image/webp;base64," + base64.StdEncoding.EncodeToString([]byte("RIFFxxxxWEBPjunk"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.payload, false)
			require.Error(t, err)
			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr))
		})
	}
}

func TestDecodeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame_000001.jpg")
	require.NoError(t, imaging.Save(testImage(), path))

	img, err := DecodeFile(path)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())

	_, err = DecodeFile(filepath.Join(t.TempDir(), "missing.jpg"))
	var decodeErr *DecodeError
	assert.True(t, errors.As(err, &decodeErr))
}
