package sync

import (
	"context"
	"fmt"
	"net/http"

	"caseline-sync/internal/domain"
	"caseline-sync/internal/errs"
	"caseline-sync/internal/store"
	"caseline-sync/internal/transport"
)

// HandleResult pairs the remote response with the record it concerns so the
// resolver outcome can be applied to the local mirror.
type HandleResult struct {
	Record   *domain.Record
	Response *transport.Response
}

// Handler knows how to build a request for one task type, call the remote
// endpoint and hand the response back for resolution. A transport failure is
// returned as an error and retried; a recognized remote rejection is a
// response, not an error.
type Handler interface {
	Type() store.TaskType
	Handle(ctx context.Context, task *store.SyncTask) (*HandleResult, error)
}

// baseHandler carries the collaborators every handler needs.
type baseHandler struct {
	repo   domain.Repository
	sender transport.Sender
}

// load resolves the task payload to its record and a fresh sync model. The
// correlation id is generated once per logical edit and persisted before the
// first attempt goes out.
func (b *baseHandler) load(ctx context.Context, task *store.SyncTask) (*domain.Record, *TaskPayload, *SyncModel, error) {
	payload, err := decodePayload(task)
	if err != nil {
		return nil, nil, nil, errs.Storage(err)
	}

	rec, err := b.repo.GetRecord(ctx, payload.RecordID)
	if err != nil {
		return nil, nil, nil, errs.Storage(err)
	}
	if rec == nil {
		return nil, nil, nil, errs.Storage(fmt.Errorf("record %s not found", payload.RecordID))
	}

	if _, err := b.repo.EnsureCorrelationID(ctx, rec); err != nil {
		return nil, nil, nil, errs.Storage(err)
	}

	return rec, payload, buildSyncModel(rec), nil
}

// send submits the envelope and returns the response for the resolver.
func (b *baseHandler) send(ctx context.Context, rec *domain.Record, method, path string, env *syncEnvelope) (*HandleResult, error) {
	resp, err := b.sender.Send(ctx, &transport.Request{
		Method:        method,
		Path:          path,
		Body:          env,
		CorrelationID: env.Model.CorrelationID,
	})
	if err != nil {
		return nil, err
	}
	return &HandleResult{Record: rec, Response: resp}, nil
}

// upsertMethod picks create-vs-update from the addressing id.
func upsertMethod(rec *domain.Record) string {
	if rec.ContentItemID != "" {
		return http.MethodPut
	}
	return http.MethodPost
}
