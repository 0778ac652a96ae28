// Package sqlstore keeps the entity cache in a SQLite database so that it
// survives restarts. Snapshots are stored as JSON rows keyed by kind and key.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/luciancaetano/kephasgate"
	"github.com/luciancaetano/kephasgate/entity"
)

var ErrUnknownKind = errors.New("sqlstore: unknown entity kind")

var _ kephasgate.Cache = (*Store)(nil)

type decoder func([]byte) (entity.Entity, error)

func decodeAs[T entity.Entity](data []byte) (entity.Entity, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var decoders = map[entity.Kind]decoder{
	entity.KindGuild:    decodeAs[entity.Guild],
	entity.KindChannel:  decodeAs[entity.Channel],
	entity.KindMember:   decodeAs[entity.Member],
	entity.KindRole:     decodeAs[entity.Role],
	entity.KindEmoji:    decodeAs[entity.Emoji],
	entity.KindPresence: decodeAs[entity.Presence],
	entity.KindInvite:   decodeAs[entity.Invite],
	entity.KindUser:     decodeAs[entity.User],
	entity.KindMessage:  decodeAs[entity.Message],
}

// Store is a SQLite backed cache. Every mutation runs in its own
// transaction over a single connection, so read-modify-write on a key is
// atomic.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close()
		return nil, fmt.Errorf("chmod db path: %w", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Clear removes every snapshot.
func (s *Store) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities`); err != nil {
		return fmt.Errorf("clear entities: %w", err)
	}
	return nil
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Get(ctx context.Context, kind entity.Kind, key entity.Key) (entity.Entity, bool, error) {
	if _, ok := decoders[kind]; !ok {
		return nil, false, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	e, err := get(ctx, s.db, kind, key)
	if err != nil {
		return nil, false, err
	}
	return e, e != nil, nil
}

func (s *Store) Query(ctx context.Context, kind entity.Kind, match func(entity.Entity) bool) ([]entity.Entity, error) {
	if _, ok := decoders[kind]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	return scanKind(ctx, s.db, kind, match)
}

func (s *Store) Put(ctx context.Context, e entity.Entity) (entity.Change, error) {
	var change entity.Change
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		old, err := get(ctx, tx, e.Kind(), e.Key())
		if err != nil {
			return err
		}
		if err := put(ctx, tx, e); err != nil {
			return err
		}
		change = entity.Change{Old: old, New: e}
		return nil
	})
	return change, err
}

func (s *Store) PutAll(ctx context.Context, es []entity.Entity) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, e := range es {
			if err := put(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Update(ctx context.Context, kind entity.Kind, match func(entity.Entity) bool, merge func(entity.Entity) entity.Entity) ([]entity.Change, error) {
	var changes []entity.Change
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		olds, err := scanKind(ctx, tx, kind, match)
		if err != nil {
			return err
		}
		changes = changes[:0]
		for _, old := range olds {
			updated, err := apply(ctx, tx, kind, old.Key(), old, merge)
			if err != nil {
				return err
			}
			changes = append(changes, entity.Change{Old: old, New: updated})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changes, nil
}

func (s *Store) UpdateKey(ctx context.Context, kind entity.Kind, key entity.Key, merge func(entity.Entity) entity.Entity) (entity.Change, error) {
	var change entity.Change
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		old, err := get(ctx, tx, kind, key)
		if err != nil {
			return err
		}
		updated, err := apply(ctx, tx, kind, key, old, merge)
		if err != nil {
			return err
		}
		change = entity.Change{Old: old, New: updated}
		return nil
	})
	return change, err
}

func (s *Store) Remove(ctx context.Context, kind entity.Kind, match func(entity.Entity) bool) ([]entity.Entity, error) {
	var removed []entity.Entity
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		matched, err := scanKind(ctx, tx, kind, match)
		if err != nil {
			return err
		}
		for _, e := range matched {
			if err := remove(ctx, tx, kind, e.Key()); err != nil {
				return err
			}
		}
		removed = matched
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func apply(ctx context.Context, q querier, kind entity.Kind, key entity.Key, old entity.Entity, merge func(entity.Entity) entity.Entity) (entity.Entity, error) {
	updated := merge(old)
	if updated == nil {
		if old == nil {
			return nil, nil
		}
		return nil, remove(ctx, q, kind, key)
	}
	if updated.Kind() != kind || updated.Key() != key {
		return nil, fmt.Errorf("sqlstore: merge moved %s %v to %s %v", kind, key, updated.Kind(), updated.Key())
	}
	return updated, put(ctx, q, updated)
}

func get(ctx context.Context, q querier, kind entity.Kind, key entity.Key) (entity.Entity, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `
SELECT data FROM entities WHERE kind = ? AND parent = ? AND id = ? AND code = ?
`, int(kind), int64(key.Parent), int64(key.ID), key.Code).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", kind, err)
	}
	return decode(kind, data)
}

func put(ctx context.Context, q querier, e entity.Entity) error {
	if _, ok := decoders[e.Kind()]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownKind, e.Kind())
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", e.Kind(), err)
	}
	key := e.Key()
	_, err = q.ExecContext(ctx, `
INSERT INTO entities(kind, parent, id, code, data, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(kind, parent, id, code) DO UPDATE SET
	data=excluded.data,
	updated_at=excluded.updated_at
`, int(e.Kind()), int64(key.Parent), int64(key.ID), key.Code, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", e.Kind(), err)
	}
	return nil
}

func remove(ctx context.Context, q querier, kind entity.Kind, key entity.Key) error {
	_, err := q.ExecContext(ctx, `
DELETE FROM entities WHERE kind = ? AND parent = ? AND id = ? AND code = ?
`, int(kind), int64(key.Parent), int64(key.ID), key.Code)
	if err != nil {
		return fmt.Errorf("delete %s: %w", kind, err)
	}
	return nil
}

func scanKind(ctx context.Context, q querier, kind entity.Kind, match func(entity.Entity) bool) ([]entity.Entity, error) {
	rows, err := q.QueryContext(ctx, `
SELECT data FROM entities WHERE kind = ? ORDER BY parent, id, code
`, int(kind))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", kind, err)
	}
	defer rows.Close()

	var out []entity.Entity
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		e, err := decode(kind, data)
		if err != nil {
			return nil, err
		}
		if match == nil || match(e) {
			out = append(out, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", kind, err)
	}
	return out, nil
}

func decode(kind entity.Kind, data []byte) (entity.Entity, error) {
	dec, ok := decoders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	e, err := dec(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return e, nil
}
