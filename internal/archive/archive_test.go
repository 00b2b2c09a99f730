package archive

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-watcher/internal/config"
)

var fetchedAt = time.Date(2026, 3, 4, 5, 6, 7, 8, time.UTC)

func TestKey(t *testing.T) {
	assert.Equal(t, "watch-7/2026-03-04/050607.000000008.html", Key(Page{WatchID: 7, FetchedAt: fetchedAt}))
}

func TestDirArchiverWritesPage(t *testing.T) {
	root := t.TempDir()
	a, err := NewDirArchiver(filepath.Join(root, "dump"))
	require.NoError(t, err)

	target, err := a.Archive(context.Background(), Page{WatchID: 7, HTML: "<div>row</div>", FetchedAt: fetchedAt})
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "<div>row</div>", string(data))
	assert.True(t, strings.HasPrefix(target, filepath.Join(root, "dump", "watch-7")))
}

func TestS3ArchiverPutsObject(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(data)
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := NewS3Archiver(context.Background(), config.S3Config{
		Bucket:         "pages",
		Region:         "us-east-1",
		Endpoint:       srv.URL,
		Prefix:         "/listings/",
		AccessKey:      "key",
		SecretKey:      "secret",
		ForcePathStyle: true,
	})
	require.NoError(t, err)

	location, err := a.Archive(context.Background(), Page{WatchID: 7, HTML: "<div>row</div>", FetchedAt: fetchedAt})
	require.NoError(t, err)
	assert.Equal(t, "s3://pages/listings/watch-7/2026-03-04/050607.000000008.html", location)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPut, method)
	assert.Equal(t, "/pages/listings/watch-7/2026-03-04/050607.000000008.html", path)
	assert.Contains(t, body, "<div>row</div>")
}
