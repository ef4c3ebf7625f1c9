// Package classifier gates images before they can be minted. The ledger
// itself knows nothing about content rules; callers run the gate first.
package classifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
)

// MaxImageSize is the largest accepted image payload
const MaxImageSize = 13 << 20 // 13 MiB

// Category probability thresholds above which an image is rejected
const (
	hentaiThreshold = 0.5
	pornThreshold   = 0.5
	sexyThreshold   = 0.6
)

var (
	// ErrUnsupportedFormat indicates the payload is not a JPEG or PNG
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrImageTooLarge indicates the payload exceeds MaxImageSize
	ErrImageTooLarge = errors.New("image too large")
	// ErrContentRejected indicates the prediction crossed a threshold
	ErrContentRejected = errors.New("content rejected")
)

// Prediction holds per-category probabilities in [0, 1]
type Prediction struct {
	Hentai float64
	Porn   float64
	Sexy   float64
}

// Predictor scores an image. Implementations wrap an external model.
//
//go:generate mockgen -source=classifier.go -destination=../mocks/classifier_predictor.go -package=mocks -mock_names=Predictor=MockPredictor
type Predictor interface {
	Predict(ctx context.Context, image []byte) (Prediction, error)
}

// Gate validates an image's format, size and content
type Gate struct {
	predictor Predictor
}

// NewGate creates a Gate backed by the given predictor
func NewGate(predictor Predictor) *Gate {
	return &Gate{predictor: predictor}
}

// Check returns the sniffed content type if the image passes the gate.
// The type is detected from the payload bytes, never from a file name.
func (g *Gate) Check(ctx context.Context, image []byte) (string, error) {
	if len(image) > MaxImageSize {
		return "", fmt.Errorf("%w: %d bytes", ErrImageTooLarge, len(image))
	}

	detected := mimetype.Detect(image)
	if !detected.Is("image/jpeg") && !detected.Is("image/png") {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, detected.String())
	}

	prediction, err := g.predictor.Predict(ctx, image)
	if err != nil {
		return "", fmt.Errorf("failed to classify image: %w", err)
	}

	switch {
	case prediction.Hentai > hentaiThreshold:
		return "", fmt.Errorf("%w: hentai %.2f", ErrContentRejected, prediction.Hentai)
	case prediction.Porn > pornThreshold:
		return "", fmt.Errorf("%w: porn %.2f", ErrContentRejected, prediction.Porn)
	case prediction.Sexy > sexyThreshold:
		return "", fmt.Errorf("%w: sexy %.2f", ErrContentRejected, prediction.Sexy)
	}

	return detected.String(), nil
}
