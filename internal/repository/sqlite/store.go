// Package sqlite implements model.RemoteStore on an embedded sqlite
// database. Changes are detected by polling per-collection version counters
// maintained by triggers.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dtroode/staffsync/database"
	"github.com/dtroode/staffsync/internal/logger"
	"github.com/dtroode/staffsync/internal/model"
	"github.com/dtroode/staffsync/internal/repository/nodejson"
)

// DefaultPollInterval is how often subscriptions check for changes.
const DefaultPollInterval = 200 * time.Millisecond

// maxPollFailures consecutive failed version checks end a subscription.
const maxPollFailures = 3

var _ model.RemoteStore = (*Store)(nil)

// Open opens the database file at path and applies the migrations. All
// access goes through a single connection.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	if err := database.MigrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

type Store struct {
	db       *sql.DB
	interval time.Duration
	logger   *logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPollInterval sets how often subscriptions check for changes.
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.interval = d
		}
	}
}

func NewStore(db *sql.DB, logger *logger.Logger, opts ...Option) *Store {
	s := &Store{
		db:       db,
		interval: DefaultPollInterval,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
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
		INSERT INTO nodes (collection, key, value) VALUES (?, ?, ?)
		ON CONFLICT (collection, key) DO UPDATE SET value = excluded.value`

	if _, err := s.db.ExecContext(ctx, query, collection, key, string(data)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *Store) replaceCollection(ctx context.Context, collection string, children model.Node) error {
	encoded := make(map[string]string, len(children))
	for key, child := range children {
		data, err := nodejson.Marshal(child)
		if err != nil {
			return fmt.Errorf("child %s: %w", key, err)
		}
		encoded[key] = string(data)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Error("Failed to rollback transaction", "error", err)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE collection = ?`, collection); err != nil {
		return fmt.Errorf("failed to clear %s: %w", collection, err)
	}

	for key, data := range encoded {
		if _, err := tx.ExecContext(ctx, `INSERT INTO nodes (collection, key, value) VALUES (?, ?, ?)`, collection, key, data); err != nil {
			return fmt.Errorf("failed to write %s/%s: %w", collection, key, err)
		}
	}

	if err := tx.Commit(); err != nil {
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

	var data string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM nodes WHERE collection = ? AND key = ?`, collection, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}

	value, err := nodejson.Unmarshal([]byte(data))
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return value, true, nil
}

func (s *Store) loadCollection(ctx context.Context, collection string) (model.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM nodes WHERE collection = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", collection, err)
	}
	defer rows.Close()

	children := model.Node{}
	for rows.Next() {
		var key, data string
		if err := rows.Scan(&key, &data); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
		}

		value, err := nodejson.Unmarshal([]byte(data))
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
		_, err = s.db.ExecContext(ctx, `DELETE FROM nodes WHERE collection = ?`, collection)
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM nodes WHERE collection = ? AND key = ?`, collection, key)
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

	var res sql.Result
	if expected == nil {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO nodes (collection, key, value) VALUES (?, ?, ?)
			ON CONFLICT (collection, key) DO NOTHING`,
			collection, key, string(data))
	} else {
		want, merr := nodejson.Marshal(*expected)
		if merr != nil {
			return false, merr
		}
		res, err = s.db.ExecContext(ctx, `
			UPDATE nodes SET value = ?
			WHERE collection = ? AND key = ? AND value = ?`,
			string(data), collection, key, string(want))
	}
	if err != nil {
		return false, fmt.Errorf("failed to compare and set %s: %w", path, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to compare and set %s: %w", path, err)
	}
	return n == 1, nil
}

func (s *Store) version(ctx context.Context, collection string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM node_versions WHERE collection = ?`, collection).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read %s version: %w", collection, err)
	}
	return v, nil
}

type subscription struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Subscribe implements model.RemoteStore for collection paths.
func (s *Store) Subscribe(ctx context.Context, path string, onSnapshot func(model.Node), onError func(error)) (model.Subscription, error) {
	collection, key, err := model.SplitPath(path)
	if err != nil {
		return nil, err
	}
	if key != "" {
		return nil, fmt.Errorf("%w: subscriptions are per collection, got %q", model.ErrUnsupportedPath, path)
	}

	subCtx, cancel := context.WithCancel(ctx)
	go s.poll(subCtx, collection, onSnapshot, onError)

	return &subscription{cancel: cancel}, nil
}

func (s *Store) poll(ctx context.Context, collection string, onSnapshot func(model.Node), onError func(error)) {
	fail := func(err error) {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("SQLite store: subscription ended", "collection", collection, "error", err)
		if onError != nil {
			onError(err)
		}
	}

	deliver := func() bool {
		children, err := s.loadCollection(ctx, collection)
		if err != nil {
			fail(err)
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		onSnapshot(children)
		return true
	}

	seen, err := s.version(ctx, collection)
	if err != nil {
		fail(err)
		return
	}
	if !deliver() {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cur, err := s.version(ctx, collection)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			s.logger.Warn("SQLite store: version check failed", "collection", collection, "attempt", failures, "error", err)
			if failures >= maxPollFailures {
				fail(err)
				return
			}
			continue
		}
		failures = 0

		if cur == seen {
			continue
		}
		seen = cur
		if !deliver() {
			return
		}
	}
}

// Ping implements model.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
