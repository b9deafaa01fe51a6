package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/satori/go.uuid"
	_ "modernc.org/sqlite"

	"github.com/Merkerhood/paragon/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS progression_state (
	subject_id TEXT PRIMARY KEY,
	level      INTEGER NOT NULL,
	experience INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS progression_investments (
	subject_id TEXT    NOT NULL,
	stat_id    INTEGER NOT NULL,
	value      INTEGER NOT NULL,
	PRIMARY KEY (subject_id, stat_id)
);
`

// Store persists progression state and investments in SQLite. All writes
// are upserts: saving the same record twice is a no-op the second time.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if necessary) the SQLite database at path and
// bootstraps the schema.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	logger.Debug().Str("path", path).Msg("progression store opened")
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadState returns the persisted level and experience for a subject, or
// core.ErrNotFound when the subject has never been saved.
func (s *Store) LoadState(ctx context.Context, subjectID uuid.UUID) (level, experience int, err error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT level, experience FROM progression_state WHERE subject_id = ?`,
		subjectID.String(),
	)
	if err := row.Scan(&level, &experience); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, core.ErrNotFound
		}
		return 0, 0, fmt.Errorf("load state for %s: %w", subjectID, err)
	}
	return level, experience, nil
}

// SaveState upserts a subject's level and experience.
func (s *Store) SaveState(ctx context.Context, subjectID uuid.UUID, level, experience int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO progression_state (subject_id, level, experience) VALUES (?, ?, ?)
		 ON CONFLICT (subject_id) DO UPDATE SET level = excluded.level, experience = excluded.experience`,
		subjectID.String(), level, experience,
	)
	if err != nil {
		return fmt.Errorf("save state for %s: %w", subjectID, err)
	}
	return nil
}

// LoadInvestments returns the subject's sparse investment table; a subject
// with no rows yields an empty map, not an error.
func (s *Store) LoadInvestments(ctx context.Context, subjectID uuid.UUID) (map[uint32]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stat_id, value FROM progression_investments WHERE subject_id = ?`,
		subjectID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("load investments for %s: %w", subjectID, err)
	}
	defer rows.Close()

	investments := make(map[uint32]int)
	for rows.Next() {
		var statID uint32
		var value int
		if err := rows.Scan(&statID, &value); err != nil {
			return nil, fmt.Errorf("scan investment row for %s: %w", subjectID, err)
		}
		investments[statID] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investments for %s: %w", subjectID, err)
	}
	return investments, nil
}

// SaveInvestments replaces the subject's investment rows with the supplied
// table inside one transaction.
func (s *Store) SaveInvestments(ctx context.Context, subjectID uuid.UUID, investments map[uint32]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin investments tx for %s: %w", subjectID, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM progression_investments WHERE subject_id = ?`,
		subjectID.String(),
	); err != nil {
		return fmt.Errorf("clear investments for %s: %w", subjectID, err)
	}

	statIDs := make([]uint32, 0, len(investments))
	for statID := range investments {
		statIDs = append(statIDs, statID)
	}
	sort.Slice(statIDs, func(i, j int) bool { return statIDs[i] < statIDs[j] })

	for _, statID := range statIDs {
		value := investments[statID]
		if value <= 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO progression_investments (subject_id, stat_id, value) VALUES (?, ?, ?)`,
			subjectID.String(), statID, value,
		); err != nil {
			return fmt.Errorf("save investment %d for %s: %w", statID, subjectID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit investments for %s: %w", subjectID, err)
	}
	return nil
}
