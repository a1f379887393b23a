package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tasklane/tasklane/internal/domain"
)

// NewThreadID returns a fresh thread identifier.
func NewThreadID() string {
	return "thread_" + hex12()
}

// NewItemID returns a fresh item identifier for the given kind.
func NewItemID(kind domain.ItemKind) string {
	return string(kind) + "_" + hex12()
}

func hex12() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// ThreadStore persists threads and their items. Every query is scoped by
// owner; a thread belonging to another owner behaves as if it does not exist.
type ThreadStore struct {
	db *DB
}

// NewThreadStore creates a thread store using the given database.
func NewThreadStore(db *DB) *ThreadStore {
	return &ThreadStore{db: db}
}

// CreateThread inserts a new thread for the owner.
func (s *ThreadStore) CreateThread(ctx context.Context, ownerID string) (*domain.Thread, error) {
	now := time.Now().UTC().Truncate(time.Second)
	thread := &domain.Thread{
		ID:        NewThreadID(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO threads (id, owner_id, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		thread.ID, ownerID, now.Format(time.DateTime), now.Format(time.DateTime),
	)
	if err != nil {
		return nil, fmt.Errorf("creating thread: %w", err)
	}
	return thread, nil
}

// LoadThread returns the owner's thread by id.
func (s *ThreadStore) LoadThread(ctx context.Context, ownerID, threadID string) (*domain.Thread, error) {
	var thread domain.Thread
	var createdAt, updatedAt string

	err := s.db.sql.QueryRowContext(ctx,
		`SELECT id, owner_id, created_at, updated_at FROM threads WHERE id = ? AND owner_id = ?`,
		threadID, ownerID,
	).Scan(&thread.ID, &thread.OwnerID, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading thread %s: %w", threadID, err)
	}

	thread.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
	thread.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
	return &thread, nil
}

// ListThreads returns the owner's threads, newest first by default.
// after is an exclusive cursor thread id; limit <= 0 means no limit.
// The second return value reports whether more threads remain.
func (s *ThreadStore) ListThreads(ctx context.Context, ownerID, after string, limit int, order string) ([]*domain.Thread, bool, error) {
	cmp, dir := "<", "DESC"
	if order == "asc" {
		cmp, dir = ">", "ASC"
	}

	query := `SELECT id, owner_id, created_at, updated_at FROM threads WHERE owner_id = ?`
	args := []any{ownerID}

	// created_at has one-second resolution, so the cursor and ordering
	// tie-break on id to keep same-second threads stable across pages.
	if after != "" {
		query += fmt.Sprintf(` AND (created_at, id) %s (SELECT created_at, id FROM threads WHERE id = ?)`, cmp)
		args = append(args, after)
	}
	query += fmt.Sprintf(` ORDER BY created_at %s, id %s`, dir, dir)
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit+1)
	}

	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("listing threads: %w", err)
	}
	defer rows.Close()

	var threads []*domain.Thread
	for rows.Next() {
		var thread domain.Thread
		var createdAt, updatedAt string
		if err := rows.Scan(&thread.ID, &thread.OwnerID, &createdAt, &updatedAt); err != nil {
			return nil, false, fmt.Errorf("scanning thread: %w", err)
		}
		thread.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		thread.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
		threads = append(threads, &thread)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := limit > 0 && len(threads) > limit
	if hasMore {
		threads = threads[:limit]
	}
	return threads, hasMore, nil
}

// DeleteThread removes the owner's thread and, via cascade, its items.
func (s *ThreadStore) DeleteThread(ctx context.Context, ownerID, threadID string) error {
	res, err := s.db.sql.ExecContext(ctx,
		`DELETE FROM threads WHERE id = ? AND owner_id = ?`, threadID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("deleting thread %s: %w", threadID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Resolve maps a client-supplied thread reference onto a concrete thread.
// An id of an existing thread owned by the caller wins; otherwise the
// owner's most recent thread is reused; failing that a new thread is
// created. The reference is never trusted to name another owner's thread.
func (s *ThreadStore) Resolve(ctx context.Context, ownerID, ref string) (*domain.Thread, error) {
	if ref != "" {
		thread, err := s.LoadThread(ctx, ownerID, ref)
		if err == nil {
			return thread, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	threads, _, err := s.ListThreads(ctx, ownerID, "", 1, "desc")
	if err != nil {
		return nil, err
	}
	if len(threads) > 0 {
		s.db.log.Debug().Str("ref", ref).Str("thread", threads[0].ID).Msg("mapped thread ref to most recent thread")
		return threads[0], nil
	}

	thread, err := s.CreateThread(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	s.db.log.Debug().Str("ref", ref).Str("thread", thread.ID).Msg("created thread for unresolved ref")
	return thread, nil
}

// AppendItem stores an item, assigning an id if it does not have one.
// The thread must exist and belong to the item's owner.
func (s *ThreadStore) AppendItem(ctx context.Context, item *domain.Item) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if err := s.appendItemTx(ctx, tx, item); err != nil {
		return err
	}
	return tx.Commit()
}

// AppendTurn stores a user item and its assistant reply in one
// transaction so a turn is never half-persisted.
func (s *ThreadStore) AppendTurn(ctx context.Context, user, assistant *domain.Item) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin turn: %w", err)
	}
	defer tx.Rollback()

	if err := s.appendItemTx(ctx, tx, user); err != nil {
		return err
	}
	if err := s.appendItemTx(ctx, tx, assistant); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *ThreadStore) appendItemTx(ctx context.Context, tx *sql.Tx, item *domain.Item) error {
	var ownerID string
	err := tx.QueryRowContext(ctx,
		`SELECT owner_id FROM threads WHERE id = ?`, item.ThreadID,
	).Scan(&ownerID)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && ownerID != item.OwnerID) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking thread %s: %w", item.ThreadID, err)
	}

	if item.ID == "" {
		item.ID = NewItemID(item.Kind)
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	// The column stores second resolution; keep the in-memory item equal
	// to what a later read returns.
	item.CreatedAt = item.CreatedAt.Truncate(time.Second)

	content, err := encodeItem(item)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO items (id, thread_id, owner_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		item.ID, item.ThreadID, item.OwnerID, string(item.Role), content,
		item.CreatedAt.Format(time.DateTime),
	); err != nil {
		return fmt.Errorf("inserting item %s: %w", item.ID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE threads SET updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.DateTime), item.ThreadID,
	); err != nil {
		return fmt.Errorf("touching thread %s: %w", item.ThreadID, err)
	}
	return nil
}

// ListItems returns the thread's items in insertion order.
// limit <= 0 means all items.
func (s *ThreadStore) ListItems(ctx context.Context, ownerID, threadID string, limit int) ([]*domain.Item, error) {
	query := `SELECT id, thread_id, owner_id, role, content, created_at
		FROM items WHERE thread_id = ? AND owner_id = ? ORDER BY rowid`
	args := []any{threadID, ownerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryItems(ctx, query, args...)
}

// RecentItems returns the last n items of the thread in insertion order.
func (s *ThreadStore) RecentItems(ctx context.Context, ownerID, threadID string, n int) ([]*domain.Item, error) {
	return s.queryItems(ctx,
		`SELECT id, thread_id, owner_id, role, content, created_at FROM (
			SELECT rowid AS rid, id, thread_id, owner_id, role, content, created_at
			FROM items WHERE thread_id = ? AND owner_id = ?
			ORDER BY rid DESC LIMIT ?
		) ORDER BY rid`,
		threadID, ownerID, n,
	)
}

// LoadItem returns a single item from the owner's thread.
func (s *ThreadStore) LoadItem(ctx context.Context, ownerID, threadID, itemID string) (*domain.Item, error) {
	items, err := s.queryItems(ctx,
		`SELECT id, thread_id, owner_id, role, content, created_at
		 FROM items WHERE id = ? AND thread_id = ? AND owner_id = ?`,
		itemID, threadID, ownerID,
	)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, domain.ErrNotFound
	}
	return items[0], nil
}

// DeleteItem removes a single item from the owner's thread.
func (s *ThreadStore) DeleteItem(ctx context.Context, ownerID, threadID, itemID string) error {
	res, err := s.db.sql.ExecContext(ctx,
		`DELETE FROM items WHERE id = ? AND thread_id = ? AND owner_id = ?`,
		itemID, threadID, ownerID,
	)
	if err != nil {
		return fmt.Errorf("deleting item %s: %w", itemID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *ThreadStore) queryItems(ctx context.Context, query string, args ...any) ([]*domain.Item, error) {
	rows, err := s.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var items []*domain.Item
	for rows.Next() {
		var id, threadID, ownerID, role, content, createdAt string
		if err := rows.Scan(&id, &threadID, &ownerID, &role, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		ts, _ := time.Parse(time.DateTime, createdAt)
		items = append(items, decodeItem(id, threadID, ownerID, role, content, ts))
	}
	return items, rows.Err()
}
