package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrDocumentNotFound = errors.New("document not found")

// 草稿的持久化快照
type Snapshot struct {
	ID        string
	Title     string
	Body      string // content_markdown
	AltBody   string // content_latex
	Version   uint64
	Citations []string
	UpdatedAt time.Time
}

// 一次防抖写入的内容
type ContentWrite struct {
	Body     string
	AltBody  string
	Revision uint64
}

type DocumentStore struct{ db *sql.DB }

func NewDocumentStore(db *sql.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

func (s *DocumentStore) Load(ctx context.Context, docID string) (*Snapshot, error) {
	var (
		snap      = Snapshot{ID: docID}
		alt       sql.NullString
		citations []byte
		updatedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT title, content_markdown, content_latex, version, referenced_chunk_ids, updated_at
		FROM drafts WHERE id = ?`,
		docID,
	).Scan(&snap.Title, &snap.Body, &alt, &snap.Version, &citations, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, docID)
		}
		return nil, err
	}
	snap.AltBody = alt.String
	snap.UpdatedAt = updatedAt.Time
	if len(citations) > 0 {
		if err := json.Unmarshal(citations, &snap.Citations); err != nil {
			return nil, fmt.Errorf("decode referenced_chunk_ids of %s: %w", docID, err)
		}
	}
	return &snap, nil
}

// SaveContent 用 version 做条件更新：同一 revision 重试写入是幂等的，旧 revision 不会覆盖新内容
func (s *DocumentStore) SaveContent(ctx context.Context, docID string, w ContentWrite) error {
	citations, err := json.Marshal(ExtractCitations(w.Body))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE drafts
		SET content_markdown = ?, content_latex = ?, version = ?, referenced_chunk_ids = ?, updated_at = ?
		WHERE id = ? AND version <= ?`,
		w.Body,
		w.AltBody,
		w.Revision,
		citations,
		time.Now().UTC(),
		docID,
		w.Revision,
	)
	return err
}

func (s *DocumentStore) SaveTitle(ctx context.Context, docID string, title string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE drafts SET title = ?, updated_at = ? WHERE id = ?`,
		title,
		time.Now().UTC(),
		docID,
	)
	return err
}
