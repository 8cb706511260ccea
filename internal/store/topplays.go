package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rankwatch/rankwatch/internal/model"
)

// TopPlaysStore persists the per-mode daily best-plays tables. Each pipeline
// run wipes and rebuilds the tables, so rows only ever describe one day.
type TopPlaysStore struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// OpenTopPlaysStore opens (or creates) the top-plays database and applies
// migrations.
func OpenTopPlaysStore(path string) (*TopPlaysStore, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := migrateDB(db, topPlaysMigrationsPath); err != nil {
		db.Close()
		return nil, err
	}
	return &TopPlaysStore{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *TopPlaysStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// LastWriteTime returns the mtime of the database file set.
func (s *TopPlaysStore) LastWriteTime() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fileWriteTime(s.path)
}

// WipeTables deletes every row of every mode table in one transaction.
func (s *TopPlaysStore) WipeTables() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: top plays wipe begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, mode := range model.Gamemodes {
		if _, err := tx.Exec("DELETE FROM " + mode.TopPlaysTable()); err != nil {
			return fmt.Errorf("store: top plays wipe %s: %w", mode, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: top plays wipe commit: %w", err)
	}
	return nil
}

// HasEmptyTable reports whether any mode table has zero rows.
func (s *TopPlaysStore) HasEmptyTable() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, mode := range model.Gamemodes {
		var count int
		stmt := fmt.Sprintf("SELECT COUNT(*) FROM %s", mode.TopPlaysTable())
		if err := s.db.QueryRow(stmt).Scan(&count); err != nil {
			return false, fmt.Errorf("store: count %s: %w", mode, err)
		}
		if count == 0 {
			return true, nil
		}
	}
	return false, nil
}

// InsertTopPlays writes a full day of rows for one mode in one transaction.
// Ranks are expected to be unique; a duplicate fails the whole batch.
func (s *TopPlaysStore) InsertTopPlays(plays []model.TopPlay, mode model.Gamemode) error {
	for i := range plays {
		if err := plays[i].Validate(); err != nil {
			return fmt.Errorf("store: insert top plays %s: %w", mode, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: insert top plays %s begin: %w", mode, err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(fmt.Sprintf(`INSERT INTO %s (
		rank, score_id, mods, performance_points, accuracy, total_score,
		created_at, combo, letter_rank, count_300, count_100, count_50, count_miss,
		beatmap_id, star_rating, difficulty_name, artist, title, mapset_creator, max_combo,
		user_id, username, country_code, avatar_url,
		user_pp, user_accuracy, hours_played, user_rank
	) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`, mode.TopPlaysTable()))
	if err != nil {
		return fmt.Errorf("store: insert top plays %s prepare: %w", mode, err)
	}
	defer stmt.Close()

	for i := range plays {
		p := &plays[i]
		if _, err := stmt.Exec(
			p.Rank, p.ScoreID, p.Mods, p.PerformancePoints, p.Accuracy, p.TotalScore,
			p.CreatedAt, p.Combo, p.LetterRank, p.Count300, p.Count100, p.Count50, p.CountMiss,
			p.BeatmapID, p.StarRating, p.DifficultyName, p.Artist, p.Title, p.MapsetCreator, p.MaxCombo,
			p.User.UserID, p.User.Username, p.User.CountryCode, p.User.AvatarURL,
			p.User.PerformancePoints, p.User.Accuracy, p.User.HoursPlayed,
			nullableInt(p.User.CurrentRank),
		); err != nil {
			return fmt.Errorf("store: insert top play rank %d (%s): %w", p.Rank, mode, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: insert top plays %s commit: %w", mode, err)
	}
	return nil
}

// TopPlays returns up to n rows for one mode ordered by rank ascending.
// CountryGlobal disables the country filter.
func (s *TopPlaysStore) TopPlays(country string, n int, mode model.Gamemode) ([]model.TopPlay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stmt := fmt.Sprintf(`SELECT rank, score_id, mods, performance_points, accuracy, total_score,
		created_at, combo, letter_rank, count_300, count_100, count_50, count_miss,
		beatmap_id, star_rating, difficulty_name, artist, title, mapset_creator, max_combo,
		user_id, username, country_code, avatar_url,
		user_pp, user_accuracy, hours_played, user_rank
	FROM %s WHERE (? = '%s' OR country_code = ?) ORDER BY rank ASC LIMIT ?`,
		mode.TopPlaysTable(), CountryGlobal)

	rows, err := s.db.Query(stmt, country, country, n)
	if err != nil {
		return nil, fmt.Errorf("store: top plays %s: %w", mode, err)
	}
	defer rows.Close()

	var result []model.TopPlay
	for rows.Next() {
		var p model.TopPlay
		var userRank sql.NullInt64
		if err := rows.Scan(
			&p.Rank, &p.ScoreID, &p.Mods, &p.PerformancePoints, &p.Accuracy, &p.TotalScore,
			&p.CreatedAt, &p.Combo, &p.LetterRank, &p.Count300, &p.Count100, &p.Count50, &p.CountMiss,
			&p.BeatmapID, &p.StarRating, &p.DifficultyName, &p.Artist, &p.Title, &p.MapsetCreator, &p.MaxCombo,
			&p.User.UserID, &p.User.Username, &p.User.CountryCode, &p.User.AvatarURL,
			&p.User.PerformancePoints, &p.User.Accuracy, &p.User.HoursPlayed,
			&userRank,
		); err != nil {
			return nil, fmt.Errorf("store: top plays %s scan: %w", mode, err)
		}
		p.User.CurrentRank = nullInt(userRank)
		result = append(result, p)
	}
	return result, rows.Err()
}

// Maintain reclaims space and refreshes statistics.
func (s *TopPlaysStore) Maintain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maintain(s.db)
}
