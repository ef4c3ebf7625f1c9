// Package minter runs the pre-mint pipeline: classify the image, pin it,
// compose and pin the metadata document, then mint the token.
package minter

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/artista/market-ledger/internal/classifier"
	"github.com/artista/market-ledger/internal/domain"
	"github.com/artista/market-ledger/internal/logger"
	"github.com/artista/market-ledger/internal/metadata"
)

// idAttempts bounds retries when a random token id collides
const idAttempts = 5

// Registry is the minting surface of the token registry
type Registry interface {
	Mint(ctx context.Context, id domain.TokenID, ref domain.MetadataRef, caller domain.Identity) (domain.Token, error)
}

// Request describes a token to create
type Request struct {
	Name        string
	Description string
	Image       []byte
}

// Minter wires the content gate, the content store and the registry into
// one pipeline
type Minter struct {
	gate     *classifier.Gate
	content  metadata.Store
	registry Registry
}

// New creates a Minter
func New(gate *classifier.Gate, content metadata.Store, registry Registry) *Minter {
	return &Minter{gate: gate, content: content, registry: registry}
}

// Mint validates the image, pins image and metadata, and mints a token
// with a random id owned by caller. Nothing is pinned if the gate rejects
// the image, and no token is minted if pinning fails.
func (m *Minter) Mint(ctx context.Context, req Request, caller domain.Identity) (domain.Token, error) {
	if req.Name == "" {
		return domain.Token{}, errors.New("token name is required")
	}

	contentType, err := m.gate.Check(ctx, req.Image)
	if err != nil {
		return domain.Token{}, err
	}

	imageRef, err := m.content.AddBlob(ctx, req.Image, contentType)
	if err != nil {
		return domain.Token{}, fmt.Errorf("failed to pin image: %w", err)
	}

	doc := domain.MetadataDocument{
		Name:        req.Name,
		Description: req.Description,
		Image:       string(imageRef),
	}
	ref, err := m.content.Add(ctx, doc)
	if err != nil {
		return domain.Token{}, fmt.Errorf("failed to pin metadata: %w", err)
	}

	for attempt := 0; attempt < idAttempts; attempt++ {
		id, err := randomTokenID()
		if err != nil {
			return domain.Token{}, err
		}
		token, err := m.registry.Mint(ctx, id, ref, caller)
		if errors.Is(err, domain.ErrDuplicateID) {
			logger.Warn("token id collision, retrying",
				zap.String("token_id", id.String()))
			continue
		}
		if err != nil {
			return domain.Token{}, err
		}
		return token, nil
	}
	return domain.Token{}, fmt.Errorf("failed to draw an unused token id after %d attempts", idAttempts)
}

func randomTokenID() (domain.TokenID, error) {
	var buf [8]byte
	if _, err := crand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("failed to draw token id: %w", err)
	}
	id := domain.TokenID(binary.BigEndian.Uint64(buf[:]))
	if id == 0 {
		id = 1
	}
	return id, nil
}
