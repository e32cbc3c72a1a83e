package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/worldbank-gdp-pipeline/internal/etl"
)

func TestArchivePutPage(t *testing.T) {
	t.Parallel()

	a := New("raw")
	body := []byte(`[{"page":1},[]]`)
	uri, err := a.PutPage(context.Background(), etl.PageRef{RunID: "r1", Page: 1, Digest: "d1"}, body)
	require.NoError(t, err)
	require.Equal(t, "memory://raw/r1/page-0001-d1.json", uri)

	body[0] = 'X'
	got, ok := a.Get("raw/r1/page-0001-d1.json")
	require.True(t, ok)
	require.Equal(t, `[{"page":1},[]]`, string(got))

	_, err = a.PutPage(context.Background(), etl.PageRef{RunID: "r1", Page: 2, Digest: "d2"}, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"raw/r1/page-0001-d1.json", "raw/r1/page-0002-d2.json"}, a.Paths())

	_, err = a.PutPage(context.Background(), etl.PageRef{Page: 1, Digest: "d"}, body)
	require.Error(t, err)
}
