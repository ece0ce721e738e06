package metadata

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pharmatrace/internal/custody/domain/shared"
	"pharmatrace/pkg/platform/sentinel"
)

const doc = `{"product":"Amoxicillin 500mg","batch":"B001"}`

func refFor(t *testing.T, body, rawURL string) shared.ContentReference {
	t.Helper()
	sum := sha256.Sum256([]byte(body))
	ref, err := shared.NewContentReference("sha256:"+hex.EncodeToString(sum[:]), rawURL)
	require.NoError(t, err)
	return ref
}

// fakeS3 answers path-style GetObject requests.
func fakeS3(t *testing.T, objects map[string]string) *S3Resolver {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := objects[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`))
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	r, err := NewS3Resolver(context.Background(), Config{
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		PathStyle:       true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		MaxBytes:        1024,
	})
	require.NoError(t, err)
	return r
}

func TestS3Resolver_Fetch(t *testing.T) {
	r := fakeS3(t, map[string]string{
		"meta/units/B001.json": doc,
		"meta/units/big.json":  strings.Repeat("x", 2048),
	})
	ctx := context.Background()

	t.Run("returns verified bytes", func(t *testing.T) {
		body, err := r.Fetch(ctx, refFor(t, doc, "s3://meta/units/B001.json"))
		require.NoError(t, err)
		assert.Equal(t, doc, string(body))
	})

	t.Run("hash mismatch is reported", func(t *testing.T) {
		_, err := r.Fetch(ctx, refFor(t, "something else", "s3://meta/units/B001.json"))
		assert.ErrorIs(t, err, ErrHashMismatch)
	})

	t.Run("missing object is not found", func(t *testing.T) {
		_, err := r.Fetch(ctx, refFor(t, doc, "s3://meta/units/nope.json"))
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("oversized document is refused", func(t *testing.T) {
		_, err := r.Fetch(ctx, refFor(t, strings.Repeat("x", 2048), "s3://meta/units/big.json"))
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("non-s3 url is unsupported", func(t *testing.T) {
		_, err := r.Fetch(ctx, refFor(t, doc, "https://example.com/B001.json"))
		assert.ErrorIs(t, err, ErrUnsupported)
	})
}

func TestVerify(t *testing.T) {
	t.Run("cid references cannot be checked locally", func(t *testing.T) {
		ref, err := shared.NewContentReference("bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi", "ipfs://bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi")
		require.NoError(t, err)
		assert.ErrorIs(t, Verify(ref, []byte(doc)), ErrUnverifiable)
	})
}

func TestMemory(t *testing.T) {
	m := NewMemory()
	ref := refFor(t, doc, "https://meta.example.com/B001.json")
	ctx := context.Background()

	_, err := m.Fetch(ctx, ref)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	m.Put(ref.URL(), []byte(doc))
	body, err := m.Fetch(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, doc, string(body))

	m.Put(ref.URL(), []byte("tampered"))
	_, err = m.Fetch(ctx, ref)
	assert.ErrorIs(t, err, ErrHashMismatch)
}
