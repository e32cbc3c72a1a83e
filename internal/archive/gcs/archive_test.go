package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

func newTestArchive(t *testing.T, handler http.Handler) *Archive {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)

	a, err := New(client, Config{Bucket: "gdp-raw", Prefix: "worldbank"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestPutPageUploads(t *testing.T) {
	body := `[{"page":1,"pages":1},[]]`
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/gdp-raw/o")
		assert.Equal(t, "worldbank/run-1/page-0001-abc.json", r.URL.Query().Get("name"))
		payload, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(payload), body)
		assert.Contains(t, string(payload), `"sha256":"abc"`)
		fmt.Fprintln(w, `{"name":"worldbank/run-1/page-0001-abc.json","bucket":"gdp-raw"}`)
	})

	a := newTestArchive(t, handler)
	uri, err := a.PutPage(context.Background(), etl.PageRef{RunID: "run-1", Page: 1, Digest: "abc"}, []byte(body))
	require.NoError(t, err)
	assert.Equal(t, "gs://gdp-raw/worldbank/run-1/page-0001-abc.json", uri)
}

func TestPutPageServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	a := newTestArchive(t, handler)
	_, err := a.PutPage(context.Background(), etl.PageRef{RunID: "run-1", Page: 1, Digest: "abc"}, []byte("x"))
	require.Error(t, err)
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer client.Close()
	_, err = New(client, Config{})
	require.ErrorContains(t, err, "gcs_bucket")
}
