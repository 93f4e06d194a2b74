package fetcher

import (
	"context"
	"io"
	"net/http"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// Get fetches the URL with extra request headers and returns the full body.
	Get(ctx context.Context, url string, header http.Header) ([]byte, error)
}
