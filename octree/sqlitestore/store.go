// Package sqlitestore persists encoded octree nodes in a SQLite database and serves them as an
// octree.DataSource.
package sqlitestore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	// registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"

	"go.viam.com/octreeview/logging"
	"go.viam.com/octreeview/octree"
)

// Store is a SQLite backed octree.DataSource and octree.Lister. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string, logger logging.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS nodes (
			level INTEGER NOT NULL,
			idx INTEGER NOT NULL,
			num_points INTEGER NOT NULL,
			encoding TEXT NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (level, idx)
		);`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "initializing %s", path)
		}
	}
	logger.Debugw("opened node store", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Put stores or replaces one node.
func (s *Store) Put(ctx context.Context, d octree.NodeData) error {
	return put(ctx, s.db, d)
}

// PutAll stores nodes in a single transaction.
func (s *Store) PutAll(ctx context.Context, nodes []octree.NodeData) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	for _, d := range nodes {
		if err := put(ctx, tx, d); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func put(ctx context.Context, db execer, d octree.NodeData) error {
	payload, err := octree.MarshalNodeData(d)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO nodes (level, idx, num_points, encoding, payload) VALUES (?, ?, ?, ?, ?)`,
		d.Meta.ID.Level, int64(d.Meta.ID.Index), d.Meta.NumPoints, d.Meta.Encoding.String(), payload)
	return errors.Wrapf(err, "storing node %s", d.Meta.ID)
}

// Fetch loads and decodes one node.
func (s *Store) Fetch(ctx context.Context, id octree.NodeID) (octree.NodeData, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM nodes WHERE level = ? AND idx = ?`, id.Level, int64(id.Index)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return octree.NodeData{}, errors.Wrapf(octree.ErrNodeNotFound, "node %s", id)
	}
	if err != nil {
		return octree.NodeData{}, errors.Wrapf(err, "loading node %s", id)
	}
	d, err := octree.UnmarshalNodeData(payload)
	if err != nil {
		return octree.NodeData{}, errors.Wrapf(err, "decoding node %s", id)
	}
	if d.Meta.ID != id {
		return octree.NodeData{}, errors.Wrapf(octree.ErrInvalidPayload, "row for node %s holds node %s", id, d.Meta.ID)
	}
	return d, nil
}

// NodeIDs lists stored nodes, parents before children.
func (s *Store) NodeIDs(ctx context.Context) ([]octree.NodeID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT level, idx FROM nodes ORDER BY level, idx`)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()
	var ids []octree.NodeID
	for rows.Next() {
		var level uint8
		var idx int64
		if err := rows.Scan(&level, &idx); err != nil {
			return nil, err
		}
		ids = append(ids, octree.NodeID{Level: level, Index: uint64(idx)})
	}
	return ids, rows.Err()
}

// Summary describes the stored octree.
type Summary struct {
	Nodes  int64
	Points int64
	Bytes  int64
}

// Summarize counts the stored nodes, points and encoded bytes.
func (s *Store) Summarize(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(num_points), 0), COALESCE(SUM(LENGTH(payload)), 0) FROM nodes`,
	).Scan(&sum.Nodes, &sum.Points, &sum.Bytes)
	return sum, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
