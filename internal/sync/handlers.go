package sync

import (
	"context"
	"fmt"
	"net/http"

	"caseline-sync/internal/domain"
	"caseline-sync/internal/store"
	"caseline-sync/internal/transport"
)

// recordHandler covers the plain record families (case, license, settings,
// admin notes, contacts): ship the record body plus sync model to the type's
// endpoint, create or update depending on the addressing id.
type recordHandler struct {
	baseHandler
	taskType store.TaskType
	path     string
}

func newRecordHandler(repo domain.Repository, sender transport.Sender, t store.TaskType, path string) *recordHandler {
	return &recordHandler{
		baseHandler: baseHandler{repo: repo, sender: sender},
		taskType:    t,
		path:        path,
	}
}

func (h *recordHandler) Type() store.TaskType { return h.taskType }

func (h *recordHandler) Handle(ctx context.Context, task *store.SyncTask) (*HandleResult, error) {
	rec, _, model, err := h.load(ctx, task)
	if err != nil {
		return nil, err
	}

	env := &syncEnvelope{Record: rec.Body, Model: model}
	path := h.path
	method := upsertMethod(rec)
	if method == http.MethodPut {
		path = fmt.Sprintf("%s/%s", h.path, rec.ContentItemID)
	}

	return h.send(ctx, rec, method, path, env)
}

// contactHandler is a record handler whose endpoint nests under the owning
// case. Its remote effect is not idempotent per attempt, which is why the
// orchestrator guards contact tasks with the reservation table.
type contactHandler struct {
	baseHandler
}

func newContactHandler(repo domain.Repository, sender transport.Sender) *contactHandler {
	return &contactHandler{baseHandler{repo: repo, sender: sender}}
}

func (h *contactHandler) Type() store.TaskType { return store.TaskTypeContacts }

func (h *contactHandler) Handle(ctx context.Context, task *store.SyncTask) (*HandleResult, error) {
	rec, payload, model, err := h.load(ctx, task)
	if err != nil {
		return nil, err
	}

	env := &syncEnvelope{Record: rec.Body, Model: model}
	path := fmt.Sprintf("/api/cases/%s/contacts", payload.CaseID)
	method := http.MethodPost
	if !payload.IsNew && rec.ContentItemID != "" {
		method = http.MethodPut
		path = fmt.Sprintf("%s/%s", path, rec.ContentItemID)
	}

	return h.send(ctx, rec, method, path, env)
}

// fileSetHandler covers the binary-bearing families (attachment sets, form
// files, admin-note files). By the time one of these tasks drains, phase one
// has already pushed the bytes; the payload references blob URLs only.
type fileSetHandler struct {
	baseHandler
	taskType store.TaskType
	pathFmt  string
	files    *filePhase
}

func newFileSetHandler(repo domain.Repository, sender transport.Sender, files *filePhase, t store.TaskType, pathFmt string) *fileSetHandler {
	return &fileSetHandler{
		baseHandler: baseHandler{repo: repo, sender: sender},
		taskType:    t,
		pathFmt:     pathFmt,
		files:       files,
	}
}

func (h *fileSetHandler) Type() store.TaskType { return h.taskType }

func (h *fileSetHandler) Handle(ctx context.Context, task *store.SyncTask) (*HandleResult, error) {
	rec, payload, model, err := h.load(ctx, task)
	if err != nil {
		return nil, err
	}

	urls, err := h.files.fileURLs(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	env := &syncEnvelope{Record: rec.Body, Model: model, Files: urls}
	path := fmt.Sprintf(h.pathFmt, payload.CaseID)

	return h.send(ctx, rec, upsertMethod(rec), path, env)
}

// docTreeHandler ships the attached-document hierarchy for a case as one
// nested request assembled from the flat local rows.
type docTreeHandler struct {
	baseHandler
}

func newDocTreeHandler(repo domain.Repository, sender transport.Sender) *docTreeHandler {
	return &docTreeHandler{baseHandler{repo: repo, sender: sender}}
}

func (h *docTreeHandler) Type() store.TaskType { return store.TaskTypeAttachedDoc }

func (h *docTreeHandler) Handle(ctx context.Context, task *store.SyncTask) (*HandleResult, error) {
	rec, payload, model, err := h.load(ctx, task)
	if err != nil {
		return nil, err
	}

	entries, err := h.repo.ListDocEntries(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	env := &syncEnvelope{Model: model, Documents: BuildDocTree(entries)}
	path := fmt.Sprintf("/api/cases/%s/documents", payload.CaseID)

	return h.send(ctx, rec, upsertMethod(rec), path, env)
}

// formHandler covers form submissions; edited forms update the remote
// document in place via the document id.
type formHandler struct {
	baseHandler
	taskType store.TaskType
}

func newFormHandler(repo domain.Repository, sender transport.Sender, t store.TaskType) *formHandler {
	return &formHandler{
		baseHandler: baseHandler{repo: repo, sender: sender},
		taskType:    t,
	}
}

func (h *formHandler) Type() store.TaskType { return h.taskType }

func (h *formHandler) Handle(ctx context.Context, task *store.SyncTask) (*HandleResult, error) {
	rec, _, model, err := h.load(ctx, task)
	if err != nil {
		return nil, err
	}

	env := &syncEnvelope{Record: rec.Body, Model: model}
	method := http.MethodPost
	path := "/api/forms"
	if h.taskType == store.TaskTypeEditedForm && rec.DocumentID != "" {
		method = http.MethodPut
		path = fmt.Sprintf("/api/forms/%s", rec.DocumentID)
	}

	return h.send(ctx, rec, method, path, env)
}

// defaultHandlers wires one handler per task type.
func defaultHandlers(repo domain.Repository, sender transport.Sender, files *filePhase) map[store.TaskType]Handler {
	handlers := []Handler{
		newRecordHandler(repo, sender, store.TaskTypeCase, "/api/cases"),
		newRecordHandler(repo, sender, store.TaskTypeLicense, "/api/licenses"),
		newRecordHandler(repo, sender, store.TaskTypeSettings, "/api/settings"),
		newRecordHandler(repo, sender, store.TaskTypeAdminNotes, "/api/admin-notes"),
		newContactHandler(repo, sender),
		newFileSetHandler(repo, sender, files, store.TaskTypeAttachment, "/api/cases/%s/attachments"),
		newFileSetHandler(repo, sender, files, store.TaskTypeFormFile, "/api/cases/%s/form-files"),
		newFileSetHandler(repo, sender, files, store.TaskTypeAdminNotesFile, "/api/cases/%s/note-files"),
		newDocTreeHandler(repo, sender),
		newFormHandler(repo, sender, store.TaskTypeForm),
		newFormHandler(repo, sender, store.TaskTypeEditedForm),
	}

	m := make(map[store.TaskType]Handler, len(handlers))
	for _, h := range handlers {
		m[h.Type()] = h
	}
	return m
}
