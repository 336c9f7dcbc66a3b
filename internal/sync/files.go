package sync

import (
	"context"

	"go.uber.org/zap"

	"caseline-sync/internal/domain"
	"caseline-sync/internal/errs"
	"caseline-sync/internal/logger"
	"caseline-sync/internal/transport"
)

// filePhase runs phase one of attachment handling: upload raw bytes to the
// blob endpoint and record the returned URL. A record is only released into
// a domain sync task once every referenced file reports ready.
type filePhase struct {
	repo  domain.Repository
	blobs transport.BlobUploader
}

// ensureFilesReady uploads any files of the record that are not yet ready.
// It returns false when the record must stay out of this cycle, which is not
// an error: a failed blob upload simply defers the record. A non-nil error
// is a local persistence failure.
func (p *filePhase) ensureFilesReady(ctx context.Context, recordID string) (bool, error) {
	files, err := p.repo.ListFiles(ctx, recordID)
	if err != nil {
		return false, errs.Storage(err)
	}

	ready := true
	for _, f := range files {
		if f.ReadyToSync {
			continue
		}
		if len(f.Data) == 0 {
			// Nothing to upload yet; the record waits for the next cycle.
			ready = false
			continue
		}

		res, err := p.blobs.UploadBlob(ctx, &transport.BlobUpload{
			FileName: f.Name,
			Data:     f.Data,
		})
		if err != nil {
			logger.Log.Warn("Blob upload failed, deferring record",
				zap.String("record_id", recordID),
				zap.String("file", f.Name),
				zap.Error(err),
			)
			ready = false
			continue
		}

		if err := p.repo.MarkFileUploaded(ctx, f.ID, res.URL); err != nil {
			return false, errs.Storage(err)
		}
	}

	return ready, nil
}

// fileURLs returns the blob URLs of a record's ready files, for phase-two
// payloads that must reference URLs, never bytes.
func (p *filePhase) fileURLs(ctx context.Context, recordID string) ([]string, error) {
	files, err := p.repo.ListFiles(ctx, recordID)
	if err != nil {
		return nil, errs.Storage(err)
	}

	urls := make([]string, 0, len(files))
	for _, f := range files {
		if f.ReadyToSync && f.RemoteURL != "" {
			urls = append(urls, f.RemoteURL)
		}
	}
	return urls, nil
}
