package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	fetchTimeout = 15 * time.Second
	maxImageSize = 5 << 20
)

// ImageFetcher downloads post images from their cloud URLs with a bounded
// timeout and size cap so a hostile or broken host cannot stall a publish.
type ImageFetcher struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewImageFetcher creates a new image fetcher.
func NewImageFetcher(logger *slog.Logger) *ImageFetcher {
	return &ImageFetcher{
		httpClient: &http.Client{
			Timeout: fetchTimeout,
		},
		logger: logger,
	}
}

// Fetch downloads one image. Bodies over the size cap fail rather than
// truncate, since a truncated upload would corrupt the attachment.
func (f *ImageFetcher) Fetch(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > maxImageSize {
		return nil, fmt.Errorf("fetch image: %d bytes exceeds %d byte limit", resp.ContentLength, maxImageSize)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, fmt.Errorf("read image body: %w", err)
	}
	if len(data) > maxImageSize {
		return nil, fmt.Errorf("fetch image: body exceeds %d byte limit", maxImageSize)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("fetch image: empty body")
	}

	return data, nil
}
