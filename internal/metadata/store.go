// Package metadata talks to the external content store that holds token
// metadata documents and image blobs, addressed by content hash.
package metadata

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gowebpki/jcs"

	"github.com/artista/market-ledger/internal/domain"
)

const maxDocumentSize = 1 << 20 // 1 MiB, documents only; blobs are capped upstream

// Store defines the interface for the content-addressed metadata store
//
//go:generate mockgen -source=store.go -destination=../mocks/metadata_store.go -package=mocks -mock_names=Store=MockMetadataStore
type Store interface {
	// Get fetches the metadata document for a ref
	Get(ctx context.Context, ref domain.MetadataRef) (domain.MetadataDocument, error)
	// Add pins a metadata document and returns its content-addressed ref
	Add(ctx context.Context, doc domain.MetadataDocument) (domain.MetadataRef, error)
	// AddBlob pins an opaque blob (an image) and returns its ref
	AddBlob(ctx context.Context, data []byte, contentType string) (domain.MetadataRef, error)
}

type httpStore struct {
	baseURL    string
	httpClient *http.Client
	maxRetry   time.Duration
}

// NewHTTPStore creates a Store backed by an HTTP content store. Transient
// failures on Get are retried with exponential backoff up to maxRetry.
func NewHTTPStore(baseURL string, httpClient *http.Client, maxRetry time.Duration) Store {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetry == 0 {
		maxRetry = 30 * time.Second
	}
	return &httpStore{
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetry:   maxRetry,
	}
}

// ContentRef computes the content-addressed ref of a metadata document:
// sha256 over the JCS-canonicalized JSON encoding
func ContentRef(doc domain.MetadataDocument) (domain.MetadataRef, error) {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	canonical, err := jcs.Transform(docJSON)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize metadata: %w", err)
	}

	hash := sha256.Sum256(canonical)
	return domain.MetadataRef("sha256:" + hex.EncodeToString(hash[:])), nil
}

// BlobRef computes the content-addressed ref of an opaque blob
func BlobRef(data []byte) domain.MetadataRef {
	hash := sha256.Sum256(data)
	return domain.MetadataRef("sha256:" + hex.EncodeToString(hash[:]))
}

func (s *httpStore) Get(ctx context.Context, ref domain.MetadataRef) (domain.MetadataDocument, error) {
	var doc domain.MetadataDocument

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.contentURL(ref), nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to fetch metadata: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("metadata %s not found", ref))
		case resp.StatusCode >= 500:
			return fmt.Errorf("content store returned %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("content store returned %d", resp.StatusCode))
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
		if err != nil {
			return fmt.Errorf("failed to read metadata body: %w", err)
		}
		if err := json.Unmarshal(body, &doc); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode metadata: %w", err))
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = s.maxRetry
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return domain.MetadataDocument{}, domain.Transient(err)
	}
	return doc, nil
}

func (s *httpStore) Add(ctx context.Context, doc domain.MetadataDocument) (domain.MetadataRef, error) {
	ref, err := ContentRef(doc)
	if err != nil {
		return "", err
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if err := s.put(ctx, ref, docJSON, "application/json"); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *httpStore) AddBlob(ctx context.Context, data []byte, contentType string) (domain.MetadataRef, error) {
	ref := BlobRef(data)
	if err := s.put(ctx, ref, data, contentType); err != nil {
		return "", err
	}
	return ref, nil
}

// put uploads content under its ref. The store treats uploads as
// idempotent since the ref is derived from the content.
func (s *httpStore) put(ctx context.Context, ref domain.MetadataRef, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.contentURL(ref), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return domain.Transient(fmt.Errorf("failed to upload content: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return domain.Transient(fmt.Errorf("content store returned %d", resp.StatusCode))
	}
	return nil
}

func (s *httpStore) contentURL(ref domain.MetadataRef) string {
	return fmt.Sprintf("%s/content/%s", s.baseURL, url.PathEscape(string(ref)))
}
