// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bootctl

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLStore keeps the boot state in a single row of the `boot_state` table.
type SQLStore struct {
	driver string
	dsn    string
	db     *sql.DB
}

// NewSQLStore creates a new SQLStore.
// Note: The driver (e.g., sqlite3) must be imported in main.go
func NewSQLStore(driver, dsn string) *SQLStore {
	return &SQLStore{
		driver: driver,
		dsn:    dsn,
	}
}

// Open connects to the DB and creates the table if needed.
func (s *SQLStore) Open() error {
	db, err := sql.Open(s.driver, s.dsn)
	if err != nil {
		return fmt.Errorf("failed to open db: %w", err)
	}
	s.db = db

	if err := s.initSchema(); err != nil {
		db.Close()
		s.db = nil
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

func (s *SQLStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS boot_state (
		id INTEGER PRIMARY KEY,
		pending INTEGER NOT NULL,
		permanent INTEGER NOT NULL,
		confirmed INTEGER NOT NULL,
		image_size INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLStore) Load() (State, error) {
	var st State
	if s.db == nil {
		return st, errors.New("bootctl: sql store not open")
	}

	var updated int64
	row := s.db.QueryRow("SELECT pending, permanent, confirmed, image_size, updated_at FROM boot_state WHERE id = 1")
	err := row.Scan(&st.Pending, &st.Permanent, &st.Confirmed, &st.ImageSize, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("failed to query boot state: %w", err)
	}
	if updated != 0 {
		st.UpdatedAt = time.Unix(0, updated).UTC()
	}
	return st, nil
}

func (s *SQLStore) Save(st State) error {
	if s.db == nil {
		return errors.New("bootctl: sql store not open")
	}

	var updated int64
	if !st.UpdatedAt.IsZero() {
		updated = st.UpdatedAt.UnixNano()
	}
	query := "INSERT INTO boot_state (id, pending, permanent, confirmed, image_size, updated_at) VALUES (1, ?, ?, ?, ?, ?) " +
		"ON CONFLICT(id) DO UPDATE SET pending=excluded.pending, permanent=excluded.permanent, " +
		"confirmed=excluded.confirmed, image_size=excluded.image_size, updated_at=excluded.updated_at"
	if _, err := s.db.Exec(query, st.Pending, st.Permanent, st.Confirmed, int64(st.ImageSize), updated); err != nil {
		return fmt.Errorf("failed to persist boot state: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
