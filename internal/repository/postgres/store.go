// Package postgres implements model.RemoteStore on a postgres table of
// JSONB nodes, with change notifications over LISTEN/NOTIFY.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dtroode/staffsync/internal/logger"
	"github.com/dtroode/staffsync/internal/model"
	"github.com/dtroode/staffsync/internal/repository/nodejson"
)

// NotifyChannel is the channel the nodes trigger notifies with the changed
// collection as payload.
const NotifyChannel = "node_changes"

var _ model.RemoteStore = (*Store)(nil)

type Store struct {
	db     *Connection
	logger *logger.Logger
}

func NewStore(db *Connection, logger *logger.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

// Set implements model.RemoteStore. A collection path takes a node whose
// children replace the collection.
func (s *Store) Set(ctx context.Context, path string, value any) error {
	collection, key, err := model.SplitPath(path)
	if err != nil {
		return err
	}

	if key == "" {
		children, ok := model.AsNode(value)
		if !ok {
			return fmt.Errorf("%w: collection %q takes a node, got %T", model.ErrUnsupportedPath, collection, value)
		}
		return s.replaceCollection(ctx, collection, children)
	}

	data, err := nodejson.Marshal(value)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO nodes (collection, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	if _, err := s.db.Exec(ctx, query, collection, key, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *Store) replaceCollection(ctx context.Context, collection string, children model.Node) error {
	encoded := make(map[string][]byte, len(children))
	for key, child := range children {
		data, err := nodejson.Marshal(child)
		if err != nil {
			return fmt.Errorf("child %s: %w", key, err)
		}
		encoded[key] = data
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Error("Failed to rollback transaction", "error", err)
		}
	}()

	if _, err := tx.Exec(ctx, `DELETE FROM nodes WHERE collection = $1`, collection); err != nil {
		return fmt.Errorf("failed to clear %s: %w", collection, err)
	}

	batch := &pgx.Batch{}
	for key, data := range encoded {
		batch.Queue(`INSERT INTO nodes (collection, key, value) VALUES ($1, $2, $3)`, collection, key, data)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", collection, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Get implements model.RemoteStore.
func (s *Store) Get(ctx context.Context, path string) (any, bool, error) {
	collection, key, err := model.SplitPath(path)
	if err != nil {
		return nil, false, err
	}

	if key == "" {
		children, err := s.loadCollection(ctx, collection)
		if err != nil {
			return nil, false, err
		}
		if len(children) == 0 {
			return nil, false, nil
		}
		return children, true, nil
	}

	var data []byte
	err = s.db.QueryRow(ctx, `SELECT value FROM nodes WHERE collection = $1 AND key = $2`, collection, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	value, err := nodejson.Unmarshal(data)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return value, true, nil
}

func (s *Store) loadCollection(ctx context.Context, collection string) (model.Node, error) {
	rows, err := s.db.Query(ctx, `SELECT key, value FROM nodes WHERE collection = $1`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", collection, err)
	}
	defer rows.Close()

	children := model.Node{}
	for rows.Next() {
		var (
			key  string
			data []byte
		)
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
		}

		value, err := nodejson.Unmarshal(data)
		if err != nil {
			s.logger.Warn("Skipping undecodable node", "collection", collection, "key", key, "error", err)
			continue
		}
		children[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", collection, err)
	}

	return children, nil
}

// Delete implements model.RemoteStore.
func (s *Store) Delete(ctx context.Context, path string) error {
	collection, key, err := model.SplitPath(path)
	if err != nil {
		return err
	}

	if key == "" {
		_, err = s.db.Exec(ctx, `DELETE FROM nodes WHERE collection = $1`, collection)
	} else {
		_, err = s.db.Exec(ctx, `DELETE FROM nodes WHERE collection = $1 AND key = $2`, collection, key)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// CompareAndSetInt implements model.RemoteStore with a single conditional
// statement.
func (s *Store) CompareAndSetInt(ctx context.Context, path string, expected *int64, next int64) (bool, error) {
	collection, key, err := model.SplitPath(path)
	if err != nil {
		return false, err
	}
	if key == "" {
		return false, fmt.Errorf("%w: %q is not a scalar", model.ErrUnsupportedPath, path)
	}

	data, err := nodejson.Marshal(next)
	if err != nil {
		return false, err
	}

	var query string
	args := []any{collection, key, data}
	if expected == nil {
		query = `
			INSERT INTO nodes (collection, key, value)
			VALUES ($1, $2, $3)
			ON CONFLICT (collection, key) DO NOTHING`
	} else {
		want, err := nodejson.Marshal(*expected)
		if err != nil {
			return false, err
		}
		query = `
			UPDATE nodes SET value = $3, updated_at = now()
			WHERE collection = $1 AND key = $2 AND value = $4`
		args = append(args, want)
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to compare and set %s: %w", path, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Ping implements model.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
