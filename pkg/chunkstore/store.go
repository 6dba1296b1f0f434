// Package chunkstore implements the chunked result store (C2): a large
// JSON value for an audit is kept inline on audit_records when small, or
// split across result_chunks rows when it would otherwise bloat a single
// row past Postgres's comfortable TOAST size. Grounded on the teacher's
// database/sql + pgx/v5 repository shape (pkg/queue/repository.go,
// pkg/preflight/repository.go), with klauspost/compress standing in for
// the teacher's own use of that library elsewhere in its dependency tree.
package chunkstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/apperrors"
	"github.com/Farahprojects/repo-audit-ai-sub001/pkg/models"
	"github.com/klauspost/compress/gzip"
)

const (
	// InlineThresholdBytes is the serialized-issues size under which
	// results are kept inline on the audit_records row instead of chunked.
	InlineThresholdBytes = 100 * 1024

	// ChunkSizeBoundBytes is the maximum serialized size a single issues
	// chunk may reach before the batch size is halved.
	ChunkSizeBoundBytes = 500 * 1024

	// InitialBatchSize is the starting number of issues per chunk.
	InitialBatchSize = 50

	// MinBatchSize is the floor the adaptive halving stops at.
	MinBatchSize = 1
)

// Store implements StoreAuditResults/LoadAuditResults against the
// audit_records and result_chunks tables.
type Store struct {
	db *sql.DB
}

// NewStore wraps a pooled *sql.DB.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// StoreAuditResults persists the issues (and optional extra data) for
// auditId, choosing inline storage or chunking per the adaptive-batch-size
// algorithm. Returns the number of chunk rows written (0 for inline).
func (s *Store) StoreAuditResults(ctx context.Context, auditID string, issues []models.Issue, extraData map[string]any) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.Persistence("chunkstore.StoreAuditResults", fmt.Errorf("beginning transaction: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM result_chunks WHERE audit_id = $1`, auditID); err != nil {
		return 0, apperrors.Persistence("chunkstore.StoreAuditResults", fmt.Errorf("clearing existing chunks: %w", err))
	}

	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return 0, apperrors.Validation(fmt.Sprintf("chunkstore.StoreAuditResults: marshaling issues: %v", err))
	}

	if len(issuesJSON) <= InlineThresholdBytes {
		if _, err := tx.ExecContext(ctx, `
			UPDATE audit_records SET issues = $1, extra_data = $2, results_chunked = false WHERE id = $3`,
			issuesJSON, extraDataJSON(extraData), auditID,
		); err != nil {
			return 0, apperrors.Persistence("chunkstore.StoreAuditResults", fmt.Errorf("writing inline results: %w", err))
		}
		if err := tx.Commit(); err != nil {
			return 0, apperrors.Persistence("chunkstore.StoreAuditResults", err)
		}
		return 0, nil
	}

	chunks := batchIssues(issues)
	chunkIndex := 0
	if extraData != nil {
		data, err := json.Marshal(extraData)
		if err != nil {
			return 0, apperrors.Validation(fmt.Sprintf("chunkstore.StoreAuditResults: marshaling extra data: %v", err))
		}
		if err := s.writeChunk(ctx, tx, auditID, models.ChunkTypeMetadata, 0, data); err != nil {
			return 0, err
		}
		chunkIndex = 1
	}

	written := chunkIndex
	for _, batch := range chunks {
		data, err := json.Marshal(batch)
		if err != nil {
			return 0, apperrors.Validation(fmt.Sprintf("chunkstore.StoreAuditResults: marshaling chunk: %v", err))
		}
		if err := s.writeChunk(ctx, tx, auditID, models.ChunkTypeIssues, chunkIndex, data); err != nil {
			return 0, err
		}
		chunkIndex++
		written++
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE audit_records SET issues = '[]', extra_data = NULL, results_chunked = true WHERE id = $1`,
		auditID,
	); err != nil {
		return 0, apperrors.Persistence("chunkstore.StoreAuditResults", fmt.Errorf("marking results chunked: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return 0, apperrors.Persistence("chunkstore.StoreAuditResults", err)
	}

	return written, nil
}

// batchIssues splits issues into chunks using the adaptive halving
// algorithm: start at InitialBatchSize items per chunk; if a candidate
// chunk's serialized size is at or above ChunkSizeBoundBytes, halve the
// batch size (down to MinBatchSize) and retry from the same offset. A
// chunk that still exceeds the bound at MinBatchSize is written anyway,
// with a warning — items are never dropped.
func batchIssues(issues []models.Issue) [][]models.Issue {
	var chunks [][]models.Issue
	offset := 0
	batchSize := InitialBatchSize

	for offset < len(issues) {
		for {
			end := offset + batchSize
			if end > len(issues) {
				end = len(issues)
			}
			candidate := issues[offset:end]

			size, err := json.Marshal(candidate)
			if err != nil {
				// Unmarshalable issue content can't happen for this struct;
				// fall through and accept the batch as-is.
				chunks = append(chunks, candidate)
				offset = end
				break
			}

			if len(size) < ChunkSizeBoundBytes || batchSize <= MinBatchSize {
				if len(size) >= ChunkSizeBoundBytes {
					slog.Warn("chunkstore: issues chunk exceeds size bound even at minimum batch size",
						"offset", offset, "batch_size", batchSize, "bytes", len(size))
				}
				chunks = append(chunks, candidate)
				offset = end
				break
			}

			batchSize /= 2
		}
	}

	return chunks
}

// writeChunk compresses data with gzip when it shrinks meaningfully and
// inserts the result_chunks row.
func (s *Store) writeChunk(ctx context.Context, tx *sql.Tx, auditID string, chunkType models.ChunkType, index int, data []byte) error {
	stored, compressed := maybeCompress(data)
	_, err := tx.ExecContext(ctx, `
		INSERT INTO result_chunks (audit_id, chunk_type, chunk_index, data, data_size_bytes, compressed)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		auditID, chunkType, index, stored, len(data), compressed,
	)
	if err != nil {
		return apperrors.Persistence("chunkstore.writeChunk", fmt.Errorf("inserting chunk %d: %w", index, err))
	}
	return nil
}

// maybeCompress gzips data when doing so saves meaningful space; returns
// the original bytes and false otherwise so small/incompressible payloads
// aren't penalized with gzip's framing overhead.
func maybeCompress(data []byte) ([]byte, bool) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return data, false
	}
	if err := w.Close(); err != nil {
		return data, false
	}
	if buf.Len() >= len(data) {
		return data, false
	}
	return buf.Bytes(), true
}

func decompress(data []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return data, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening gzip reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading gzip stream: %w", err)
	}
	return out, nil
}

func extraDataJSON(extraData map[string]any) []byte {
	if extraData == nil {
		return nil
	}
	b, err := json.Marshal(extraData)
	if err != nil {
		return nil
	}
	return b
}

// AuditResults is the result of LoadAuditResults.
type AuditResults struct {
	Issues    []models.Issue
	ExtraData map[string]any
}

// LoadAuditResults reassembles the issues (and extra data) for auditId. If
// resultsChunked is false the inline columns are returned directly; a
// mismatch between resultsChunked and the chunks actually present is
// reported as ErrCorrupted — the caller must treat the audit as
// unreadable, not empty.
func (s *Store) LoadAuditResults(ctx context.Context, auditID string) (*AuditResults, error) {
	var issuesJSON []byte
	var extraDataJSONBytes []byte
	var chunked bool
	err := s.db.QueryRowContext(ctx, `
		SELECT issues, extra_data, results_chunked FROM audit_records WHERE id = $1`, auditID,
	).Scan(&issuesJSON, &extraDataJSONBytes, &chunked)
	if err != nil {
		return nil, apperrors.Persistence("chunkstore.LoadAuditResults", fmt.Errorf("reading audit record: %w", err))
	}

	if !chunked {
		var issues []models.Issue
		if err := json.Unmarshal(issuesJSON, &issues); err != nil {
			return nil, apperrors.Corrupted(fmt.Sprintf("chunkstore.LoadAuditResults: audit %s: invalid inline issues: %v", auditID, err))
		}
		var extraData map[string]any
		if len(extraDataJSONBytes) > 0 {
			if err := json.Unmarshal(extraDataJSONBytes, &extraData); err != nil {
				return nil, apperrors.Corrupted(fmt.Sprintf("chunkstore.LoadAuditResults: audit %s: invalid inline extra data: %v", auditID, err))
			}
		}
		return &AuditResults{Issues: issues, ExtraData: extraData}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_type, chunk_index, data, compressed
		FROM result_chunks WHERE audit_id = $1
		ORDER BY chunk_type, chunk_index ASC`, auditID)
	if err != nil {
		return nil, apperrors.Persistence("chunkstore.LoadAuditResults", err)
	}
	defer rows.Close()

	var issues []models.Issue
	var extraData map[string]any
	sawChunk := false

	for rows.Next() {
		var chunkType models.ChunkType
		var index int
		var data []byte
		var compressed bool
		if err := rows.Scan(&chunkType, &index, &data, &compressed); err != nil {
			return nil, apperrors.Persistence("chunkstore.LoadAuditResults", err)
		}
		raw, err := decompress(data, compressed)
		if err != nil {
			return nil, apperrors.Corrupted(fmt.Sprintf("chunkstore.LoadAuditResults: audit %s chunk %d: %v", auditID, index, err))
		}

		switch chunkType {
		case models.ChunkTypeIssues:
			var batch []models.Issue
			if err := json.Unmarshal(raw, &batch); err != nil {
				return nil, apperrors.Corrupted(fmt.Sprintf("chunkstore.LoadAuditResults: audit %s chunk %d: invalid issues json: %v", auditID, index, err))
			}
			issues = append(issues, batch...)
			sawChunk = true
		case models.ChunkTypeMetadata:
			if err := json.Unmarshal(raw, &extraData); err != nil {
				return nil, apperrors.Corrupted(fmt.Sprintf("chunkstore.LoadAuditResults: audit %s metadata chunk: invalid json: %v", auditID, err))
			}
			sawChunk = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Persistence("chunkstore.LoadAuditResults", err)
	}

	if !sawChunk {
		return nil, apperrors.Corrupted(fmt.Sprintf("chunkstore.LoadAuditResults: audit %s marked chunked but no chunks found", auditID))
	}

	return &AuditResults{Issues: issues, ExtraData: extraData}, nil
}

// DeleteOlderThan removes every audit record created before cutoff,
// cascading to its result_chunks rows via ON DELETE CASCADE. Used by
// pkg/cleanup to enforce config.RetentionConfig.AuditRetentionDays.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_records WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperrors.Persistence("chunkstore.DeleteOlderThan", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Persistence("chunkstore.DeleteOlderThan", err)
	}
	return int(n), nil
}
