package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"caseline-sync/internal/config"
	"caseline-sync/internal/logger"
)

// HTTPClient is the default Sender/BlobUploader over plain JSON HTTP.
type HTTPClient struct {
	baseURL string
	blobURL string
	token   string
	client  *http.Client
}

func NewHTTPClient(cfg config.RemoteConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		blobURL: cfg.BlobURL,
		token:   cfg.AuthToken,
		client:  &http.Client{Timeout: cfg.GetTimeout()},
	}
}

func (c *HTTPClient) Send(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.CorrelationID != "" {
		httpReq.Header.Set("X-Correlation-Id", req.CorrelationID)
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	logger.Log.Debug("Remote call",
		zap.String("method", req.Method),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
	)

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func (c *HTTPClient) UploadBlob(ctx context.Context, up *BlobUpload) (*BlobResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.blobURL, bytes.NewReader(up.Data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mimetype.Detect(up.Data).String())
	httpReq.Header.Set("X-File-Name", up.FileName)
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("blob upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("blob upload returned status %d", resp.StatusCode)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode blob response: %w", err)
	}

	return &BlobResult{URL: out.URL}, nil
}
