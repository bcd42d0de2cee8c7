package auditexport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/taskrelay-labs/taskrelay-go/internal/domain"
	"github.com/taskrelay-labs/taskrelay-go/internal/repo"
)

const exportContentType = "application/x-ndjson"

// Result describes a completed export.
type Result struct {
	Key     string `json:"key"`
	Entries int    `json:"entries"`
	Bytes   int64  `json:"bytes"`
}

// RequestGetter is the slice of the request store the exporter needs: the
// ownership-checked lookup.
type RequestGetter interface {
	Get(ctx context.Context, userID, id string) (domain.Request, error)
}

// Service snapshots a request's action log into the sink.
type Service struct {
	requests RequestGetter
	logs     repo.ActionLogReader
	sink     Sink
}

func New(requests RequestGetter, logs repo.ActionLogReader, sink Sink) *Service {
	if requests == nil || logs == nil || sink == nil {
		return nil
	}
	return &Service{requests: requests, logs: logs, sink: sink}
}

// Export writes the request's full action log, oldest entry first, to
// <request_id>.ndjson. Re-exporting overwrites the previous snapshot.
func (s *Service) Export(ctx context.Context, userID, requestID string) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(requestID) == "" {
		return Result{}, fmt.Errorf("%w: request id is required", domain.ErrInvalidInput)
	}

	request, err := s.requests.Get(ctx, userID, requestID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: request %s", domain.ErrNotFound, requestID)
		}
		return Result{}, fmt.Errorf("load request: %w", err)
	}

	entries, err := s.logs.ListByRequest(ctx, request.ID)
	if err != nil {
		return Result{}, fmt.Errorf("list action log: %w", err)
	}

	var buf bytes.Buffer
	enc := NewNDJSONEncoder(&buf)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return Result{}, fmt.Errorf("encode entry %d: %w", entry.EntryID, err)
		}
	}

	key := request.ID + ".ndjson"
	size := int64(buf.Len())
	if err := s.sink.Put(ctx, key, &buf, size, exportContentType); err != nil {
		return Result{}, fmt.Errorf("store export: %w", err)
	}
	return Result{Key: key, Entries: len(entries), Bytes: size}, nil
}
