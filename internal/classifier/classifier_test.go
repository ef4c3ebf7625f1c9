package classifier

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPredictor struct {
	prediction Prediction
	err        error
}

func (s stubPredictor) Predict(ctx context.Context, image []byte) (Prediction, error) {
	return s.prediction, s.err
}

func encodeJPEG(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil))
	return buf.Bytes()
}

func encodePNG(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestCheckAcceptsJPEGAndPNG(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(stubPredictor{})

	contentType, err := gate.Check(ctx, encodeJPEG(t))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", contentType)

	contentType, err = gate.Check(ctx, encodePNG(t))
	require.NoError(t, err)
	assert.Equal(t, "image/png", contentType)
}

func TestCheckRejectsOtherFormats(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(stubPredictor{})

	for name, payload := range map[string][]byte{
		"gif":  []byte("GIF89a\x01\x00\x01\x00"),
		"html": []byte("<html><body>not an image</body></html>"),
		"text": []byte("plain text"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := gate.Check(ctx, payload)
			assert.ErrorIs(t, err, ErrUnsupportedFormat)
		})
	}
}

func TestCheckRejectsOversizedImages(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(stubPredictor{})

	_, err := gate.Check(ctx, make([]byte, MaxImageSize+1))
	assert.ErrorIs(t, err, ErrImageTooLarge)
}

func TestCheckThresholds(t *testing.T) {
	ctx := context.Background()
	img := encodeJPEG(t)

	tests := []struct {
		name       string
		prediction Prediction
		rejected   bool
	}{
		{"clean", Prediction{Hentai: 0.1, Porn: 0.1, Sexy: 0.1}, false},
		{"at thresholds passes", Prediction{Hentai: 0.5, Porn: 0.5, Sexy: 0.6}, false},
		{"hentai above", Prediction{Hentai: 0.51}, true},
		{"porn above", Prediction{Porn: 0.51}, true},
		{"sexy above", Prediction{Sexy: 0.61}, true},
		{"sexy between porn and sexy thresholds", Prediction{Sexy: 0.55}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGate(stubPredictor{prediction: tt.prediction}).Check(ctx, img)
			if tt.rejected {
				assert.ErrorIs(t, err, ErrContentRejected)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckPropagatesPredictorError(t *testing.T) {
	ctx := context.Background()
	wantErr := errors.New("model offline")
	gate := NewGate(stubPredictor{err: wantErr})

	_, err := gate.Check(ctx, encodeJPEG(t))
	assert.ErrorIs(t, err, wantErr)
}
