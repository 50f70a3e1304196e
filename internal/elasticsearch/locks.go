package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/newsline/backend/internal/models"
)

// Lock documents live in their own small index, keyed by job name.
// Mutual exclusion relies on Elasticsearch optimistic concurrency:
// op_type=create for first acquisition and if_seq_no/if_primary_term
// preconditions for takeover and release. Either the whole operation
// applies or it fails with a version conflict; there is no window where
// two writers can both succeed.

// StoredLock is a lock record together with the document version that
// was current when it was read. Replace and Delete only apply if the
// document has not changed since.
type StoredLock struct {
	Record      models.LockRecord
	SeqNo       int
	PrimaryTerm int
}

// CreateLock inserts the lock document only if none exists for the job.
// Returns ErrConflict when a document is already present.
func (c *Client) CreateLock(ctx context.Context, rec models.LockRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}

	req := esapi.CreateRequest{
		Index:      c.locks,
		DocumentID: rec.JobName,
		Body:       bytes.NewReader(payload),
		Refresh:    "true",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("create lock: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusConflict {
		return ErrConflict
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("create lock failed: %s", strings.TrimSpace(string(data)))
	}

	return nil
}

// GetLock reads the current lock document. Returns ErrNotFound when the
// job has no lock document.
func (c *Client) GetLock(ctx context.Context, jobName string) (*StoredLock, error) {
	req := esapi.GetRequest{
		Index:      c.locks,
		DocumentID: jobName,
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return nil, fmt.Errorf("get lock: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("get lock failed: %s", strings.TrimSpace(string(data)))
	}

	var parsed struct {
		SeqNo       int               `json:"_seq_no"`
		PrimaryTerm int               `json:"_primary_term"`
		Source      models.LockRecord `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode lock: %w", err)
	}

	return &StoredLock{
		Record:      parsed.Source,
		SeqNo:       parsed.SeqNo,
		PrimaryTerm: parsed.PrimaryTerm,
	}, nil
}

// ReplaceLock overwrites the lock document, but only if it is unchanged
// since cur was read. Returns ErrConflict when the precondition fails.
func (c *Client) ReplaceLock(ctx context.Context, cur *StoredLock, rec models.LockRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal lock: %w", err)
	}

	req := esapi.IndexRequest{
		Index:         c.locks,
		DocumentID:    rec.JobName,
		Body:          bytes.NewReader(payload),
		IfSeqNo:       esapi.IntPtr(cur.SeqNo),
		IfPrimaryTerm: esapi.IntPtr(cur.PrimaryTerm),
		Refresh:       "true",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("replace lock: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusConflict {
		return ErrConflict
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("replace lock failed: %s", strings.TrimSpace(string(data)))
	}

	return nil
}

// DeleteLock removes the lock document if it is unchanged since cur was
// read. A missing document counts as already released.
func (c *Client) DeleteLock(ctx context.Context, cur *StoredLock) error {
	req := esapi.DeleteRequest{
		Index:         c.locks,
		DocumentID:    cur.Record.JobName,
		IfSeqNo:       esapi.IntPtr(cur.SeqNo),
		IfPrimaryTerm: esapi.IntPtr(cur.PrimaryTerm),
		Refresh:       "true",
	}

	res, err := req.Do(ctx, c.es)
	if err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.StatusCode == http.StatusConflict {
		return ErrConflict
	}
	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("delete lock failed: %s", strings.TrimSpace(string(data)))
	}

	return nil
}
