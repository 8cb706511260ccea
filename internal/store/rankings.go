package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rankwatch/rankwatch/internal/model"
)

// RankingsStore persists the per-mode top-10k tables with current and
// yesterday ranks. All public operations serialize on a single mutex.
type RankingsStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// OpenRankingsStore opens (or creates) the rankings database and applies
// migrations.
func OpenRankingsStore(path string) (*RankingsStore, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrateDB(db, rankingsMigrationsPath); err != nil {
		db.Close()
		return nil, err
	}
	return &RankingsStore{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *RankingsStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// LastWriteTime returns the mtime of the database file set. The rankings
// pipeline uses it for the wipe-on-stale guard.
func (s *RankingsStore) LastWriteTime() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fileWriteTime(s.path)
}

// WipeTables deletes every row of every mode table in one transaction.
func (s *RankingsStore) WipeTables() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: rankings wipe begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, mode := range model.Gamemodes {
		if _, err := tx.Exec("DELETE FROM " + mode.RankingsTable()); err != nil {
			return fmt.Errorf("store: rankings wipe %s: %w", mode, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: rankings wipe commit: %w", err)
	}
	return nil
}

// ShiftRanks rolls every row's current rank into yesterday and clears
// current. Idempotent only relative to a single pipeline run.
func (s *RankingsStore) ShiftRanks(mode model.Gamemode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt := fmt.Sprintf("UPDATE %s SET yesterday_rank = current_rank, current_rank = NULL", mode.RankingsTable())
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("store: shift ranks %s: %w", mode, err)
	}
	return nil
}

// InsertRankingsUsers batch-upserts rows. On a user_id conflict the incoming
// current rank wins while the existing yesterday rank is preserved via a
// scalar subquery on the same table.
func (s *RankingsStore) InsertRankingsUsers(rows []model.RankingsUser, mode model.Gamemode) error {
	for i := range rows {
		if err := rows[i].Validate(); err != nil {
			return fmt.Errorf("store: insert rankings %s: %w", mode, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: insert rankings %s begin: %w", mode, err)
	}
	defer tx.Rollback() //nolint:errcheck

	table := mode.RankingsTable()
	stmt, err := tx.Prepare(fmt.Sprintf(`INSERT OR REPLACE INTO %s (
		user_id, username, country_code, avatar_url,
		performance_points, accuracy, hours_played,
		yesterday_rank, current_rank
	) VALUES (?,?,?,?,?,?,?,
		(SELECT yesterday_rank FROM %s WHERE user_id = ?),
		?)`, table, table))
	if err != nil {
		return fmt.Errorf("store: insert rankings %s prepare: %w", mode, err)
	}
	defer stmt.Close()

	for i := range rows {
		r := &rows[i]
		if _, err := stmt.Exec(
			r.UserID, r.Username, r.CountryCode, r.AvatarURL,
			r.PerformancePoints, r.Accuracy, r.HoursPlayed,
			r.UserID, nullableInt(r.CurrentRank),
		); err != nil {
			return fmt.Errorf("store: insert rankings %s user %d: %w", mode, r.UserID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: insert rankings %s commit: %w", mode, err)
	}
	return nil
}

// DeleteUsersWithNullCurrentRank removes users who dropped out of the
// top-10k on the latest scrape.
func (s *RankingsStore) DeleteUsersWithNullCurrentRank(mode model.Gamemode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt := fmt.Sprintf("DELETE FROM %s WHERE current_rank IS NULL", mode.RankingsTable())
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("store: delete dropped users %s: %w", mode, err)
	}
	return nil
}

// UserIDsWithNullYesterdayRank lists users newly entered into the top-10k.
func (s *RankingsStore) UserIDsWithNullYesterdayRank(mode model.Gamemode) ([]model.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt := fmt.Sprintf("SELECT user_id FROM %s WHERE yesterday_rank IS NULL", mode.RankingsTable())
	rows, err := s.db.Query(stmt)
	if err != nil {
		return nil, fmt.Errorf("store: new entrants %s: %w", mode, err)
	}
	defer rows.Close()

	var ids []model.UserID
	for rows.Next() {
		var id model.UserID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: new entrants %s scan: %w", mode, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RankPair binds a user to a resolved yesterday rank.
type RankPair struct {
	UserID model.UserID
	Rank   int
}

// UpdateYesterdayRanks writes resolved yesterday ranks in one transaction.
func (s *RankingsStore) UpdateYesterdayRanks(pairs []RankPair, mode model.Gamemode) error {
	if len(pairs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: update yesterday ranks %s begin: %w", mode, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(fmt.Sprintf("UPDATE %s SET yesterday_rank = ? WHERE user_id = ?", mode.RankingsTable()))
	if err != nil {
		return fmt.Errorf("store: update yesterday ranks %s prepare: %w", mode, err)
	}
	defer stmt.Close()

	for _, p := range pairs {
		if _, err := stmt.Exec(p.Rank, p.UserID); err != nil {
			return fmt.Errorf("store: update yesterday rank for user %d (%s): %w", p.UserID, mode, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: update yesterday ranks %s commit: %w", mode, err)
	}
	return nil
}

// HasEmptyTable reports whether any mode table has zero rows.
func (s *RankingsStore) HasEmptyTable() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, mode := range model.Gamemodes {
		var count int
		stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s", mode.RankingsTable())
		if err := s.db.QueryRow(stmt).Scan(&count); err != nil {
			return false, fmt.Errorf("store: count %s: %w", mode, err)
		}
		if count == 0 {
			return true, nil
		}
	}
	return false, nil
}

// RankImprovement is a rankings row plus its relative movement since
// yesterday.
type RankImprovement struct {
	model.RankingsUser
	Relative float64
}

// CountryGlobal disables the country filter on improvement and top-play
// queries.
const CountryGlobal = "GLOBAL"

// TopRankImprovements returns the n rows with the largest relative climb
// inside [minRank, maxRank], ordered by relative improvement descending.
func (s *RankingsStore) TopRankImprovements(country string, minRank, maxRank, n int, mode model.Gamemode) ([]RankImprovement, error) {
	stmt := fmt.Sprintf(`SELECT user_id, username, country_code, avatar_url,
		performance_points, accuracy, hours_played, yesterday_rank, current_rank,
		CAST(yesterday_rank - current_rank AS REAL) / current_rank AS relative
	FROM %s
	WHERE current_rank IS NOT NULL AND yesterday_rank IS NOT NULL
	  AND current_rank BETWEEN ? AND ?
	  AND yesterday_rank > current_rank
	  AND (? = '%s' OR country_code = ?)
	ORDER BY relative DESC LIMIT ?`, mode.RankingsTable(), CountryGlobal)
	return s.queryImprovements(stmt, country, minRank, maxRank, n, mode)
}

// BottomRankImprovements mirrors TopRankImprovements for the steepest falls:
// rows where yesterday < current, ordered by relative drop descending.
func (s *RankingsStore) BottomRankImprovements(country string, minRank, maxRank, n int, mode model.Gamemode) ([]RankImprovement, error) {
	stmt := fmt.Sprintf(`SELECT user_id, username, country_code, avatar_url,
		performance_points, accuracy, hours_played, yesterday_rank, current_rank,
		CAST(current_rank - yesterday_rank AS REAL) / current_rank AS relative
	FROM %s
	WHERE current_rank IS NOT NULL AND yesterday_rank IS NOT NULL
	  AND current_rank BETWEEN ? AND ?
	  AND yesterday_rank < current_rank
	  AND (? = '%s' OR country_code = ?)
	ORDER BY relative DESC LIMIT ?`, mode.RankingsTable(), CountryGlobal)
	return s.queryImprovements(stmt, country, minRank, maxRank, n, mode)
}

func (s *RankingsStore) queryImprovements(stmt, country string, minRank, maxRank, n int, mode model.Gamemode) ([]RankImprovement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(stmt, minRank, maxRank, country, country, n)
	if err != nil {
		return nil, fmt.Errorf("store: rank improvements %s: %w", mode, err)
	}
	defer rows.Close()

	var result []RankImprovement
	for rows.Next() {
		var r RankImprovement
		var yesterday, current sql.NullInt64
		if err := rows.Scan(
			&r.UserID, &r.Username, &r.CountryCode, &r.AvatarURL,
			&r.PerformancePoints, &r.Accuracy, &r.HoursPlayed,
			&yesterday, &current, &r.Relative,
		); err != nil {
			return nil, fmt.Errorf("store: rank improvements %s scan: %w", mode, err)
		}
		r.YesterdayRank = nullInt(yesterday)
		r.CurrentRank = nullInt(current)
		result = append(result, r)
	}
	return result, rows.Err()
}

// Maintain reclaims space and refreshes statistics.
func (s *RankingsStore) Maintain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maintain(s.db)
}

func nullableInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}
