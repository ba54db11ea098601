package hikvisionclient

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/hcpvision/induction-sync/internal/observability"
)

const maxPhotoBytes = 10 << 20

// downloadPhotoBase64 fetches the photo and returns it base64-encoded. Any failure yields
// "" so that person creation proceeds without a face.
func (c *Client) downloadPhotoBase64(ctx context.Context, link string, log *zap.Logger) string {
	if link == "" {
		log.Warn("employee has no photo link, sending empty face data")
		return ""
	}

	data, err := c.fetchPhoto(ctx, link)
	if err != nil {
		observability.PhotoDownloadFailures.Inc()
		log.Warn("failed to download photo, sending empty face data", zap.String("photo_url", link), zap.Error(err))
		return ""
	}
	return base64.StdEncoding.EncodeToString(data)
}

func (c *Client) fetchPhoto(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create photo request: %w", err)
	}

	resp, err := c.photoClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("photo download failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read photo body: %w", err)
	}
	if len(data) > maxPhotoBytes {
		return nil, fmt.Errorf("photo exceeds %d bytes", maxPhotoBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("photo body is empty")
	}
	return data, nil
}
