package minter

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/jpeg"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artista/market-ledger/internal/classifier"
	"github.com/artista/market-ledger/internal/domain"
	"github.com/artista/market-ledger/internal/metadata"
)

var alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")

type stubPredictor struct {
	prediction classifier.Prediction
}

func (s stubPredictor) Predict(ctx context.Context, image []byte) (classifier.Prediction, error) {
	return s.prediction, nil
}

// fakeContent records pinned content in memory
type fakeContent struct {
	docs  map[domain.MetadataRef]domain.MetadataDocument
	blobs map[domain.MetadataRef][]byte
	err   error
}

func newFakeContent() *fakeContent {
	return &fakeContent{
		docs:  make(map[domain.MetadataRef]domain.MetadataDocument),
		blobs: make(map[domain.MetadataRef][]byte),
	}
}

func (c *fakeContent) Get(ctx context.Context, ref domain.MetadataRef) (domain.MetadataDocument, error) {
	doc, ok := c.docs[ref]
	if !ok {
		return domain.MetadataDocument{}, domain.Transient(errors.New("not pinned"))
	}
	return doc, nil
}

func (c *fakeContent) Add(ctx context.Context, doc domain.MetadataDocument) (domain.MetadataRef, error) {
	if c.err != nil {
		return "", c.err
	}
	ref, err := metadata.ContentRef(doc)
	if err != nil {
		return "", err
	}
	c.docs[ref] = doc
	return ref, nil
}

func (c *fakeContent) AddBlob(ctx context.Context, data []byte, contentType string) (domain.MetadataRef, error) {
	if c.err != nil {
		return "", c.err
	}
	ref := metadata.BlobRef(data)
	c.blobs[ref] = data
	return ref, nil
}

// fakeRegistry mints into a map and can force id collisions
type fakeRegistry struct {
	tokens     map[domain.TokenID]domain.Token
	collisions int
}

func (r *fakeRegistry) Mint(ctx context.Context, id domain.TokenID, ref domain.MetadataRef, caller domain.Identity) (domain.Token, error) {
	if r.collisions > 0 {
		r.collisions--
		return domain.Token{}, domain.ErrDuplicateID
	}
	token := domain.Token{ID: id, Owner: caller, MetadataRef: ref}
	r.tokens[id] = token
	return token, nil
}

func testImage(t *testing.T) []byte {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4)), nil))
	return buf.Bytes()
}

func newTestMinter(content *fakeContent, registry *fakeRegistry) *Minter {
	return New(classifier.NewGate(stubPredictor{}), content, registry)
}

func TestMintPinsContentAndMints(t *testing.T) {
	ctx := context.Background()
	content := newFakeContent()
	registry := &fakeRegistry{tokens: make(map[domain.TokenID]domain.Token)}
	img := testImage(t)

	token, err := newTestMinter(content, registry).Mint(ctx, Request{
		Name:        "Sunset",
		Description: "Oil on canvas",
		Image:       img,
	}, alice)
	require.NoError(t, err)

	assert.Equal(t, alice, token.Owner)
	assert.NotZero(t, token.ID)

	// The pinned metadata points at the pinned image
	doc, err := content.Get(ctx, token.MetadataRef)
	require.NoError(t, err)
	assert.Equal(t, "Sunset", doc.Name)
	assert.Equal(t, img, content.blobs[domain.MetadataRef(doc.Image)])

	// And the registry holds the same ref
	assert.Equal(t, token, registry.tokens[token.ID])
}

func TestMintRejectedImagePinsNothing(t *testing.T) {
	ctx := context.Background()
	content := newFakeContent()
	registry := &fakeRegistry{tokens: make(map[domain.TokenID]domain.Token)}

	gate := classifier.NewGate(stubPredictor{prediction: classifier.Prediction{Porn: 0.9}})
	_, err := New(gate, content, registry).Mint(ctx, Request{
		Name:  "Sunset",
		Image: testImage(t),
	}, alice)
	assert.ErrorIs(t, err, classifier.ErrContentRejected)
	assert.Empty(t, content.blobs)
	assert.Empty(t, content.docs)
	assert.Empty(t, registry.tokens)
}

func TestMintPinFailureMintsNothing(t *testing.T) {
	ctx := context.Background()
	content := newFakeContent()
	content.err = domain.Transient(errors.New("store down"))
	registry := &fakeRegistry{tokens: make(map[domain.TokenID]domain.Token)}

	_, err := newTestMinter(content, registry).Mint(ctx, Request{
		Name:  "Sunset",
		Image: testImage(t),
	}, alice)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
	assert.Empty(t, registry.tokens)
}

func TestMintRetriesIDCollisions(t *testing.T) {
	ctx := context.Background()
	content := newFakeContent()
	registry := &fakeRegistry{tokens: make(map[domain.TokenID]domain.Token), collisions: 2}

	token, err := newTestMinter(content, registry).Mint(ctx, Request{
		Name:  "Sunset",
		Image: testImage(t),
	}, alice)
	require.NoError(t, err)
	assert.Len(t, registry.tokens, 1)
	assert.Contains(t, registry.tokens, token.ID)
}

func TestMintRequiresName(t *testing.T) {
	ctx := context.Background()
	content := newFakeContent()
	registry := &fakeRegistry{tokens: make(map[domain.TokenID]domain.Token)}

	_, err := newTestMinter(content, registry).Mint(ctx, Request{Image: testImage(t)}, alice)
	assert.Error(t, err)
}
