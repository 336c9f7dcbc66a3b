// Package transport abstracts the remote authority. The engine only cares
// about status codes and bodies; authentication and framing live behind
// these interfaces.
package transport

import "context"

type Request struct {
	Method        string
	Path          string
	Body          any
	CorrelationID string
}

type Response struct {
	StatusCode int
	Body       []byte
}

// Sender submits one reconciliation request to the remote authority.
type Sender interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}

type BlobUpload struct {
	FileName string
	Data     []byte
}

type BlobResult struct {
	URL string
}

// BlobUploader pushes raw bytes to the blob endpoint (phase one of
// attachment handling).
type BlobUploader interface {
	UploadBlob(ctx context.Context, up *BlobUpload) (*BlobResult, error)
}
