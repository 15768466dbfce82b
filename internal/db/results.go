package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/networkbrawler/brawler/internal/events"
	"github.com/rs/zerolog/log"
)

// ErrNoResults is returned when a player has no recorded matches.
var ErrNoResults = errors.New("no recorded matches")

// MatchStore records finished matches and lag events.
type MatchStore struct {
	db *sqliteDB
}

// MatchRecord is one stored match with its players ordered by placement.
type MatchRecord struct {
	ID          int64                 `json:"id"`
	MatchNumber uint64                `json:"match_number"`
	StartedAt   time.Time             `json:"started_at"`
	EndedAt     time.Time             `json:"ended_at"`
	Winner      string                `json:"winner,omitempty"`
	HasWinner   bool                  `json:"has_winner"`
	Aborted     bool                  `json:"aborted"`
	Players     []events.PlayerResult `json:"players"`
}

// Duration returns how long the match ran.
func (r MatchRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// PlayerStats aggregates every stored result for one player name.
type PlayerStats struct {
	Name         string  `json:"name"`
	Matches      int     `json:"matches"`
	Wins         int     `json:"wins"`
	TotalScore   int64   `json:"total_score"`
	BestScore    uint32  `json:"best_score"`
	AvgPlacement float64 `json:"avg_placement"`
}

// LagRecord is one stored long frame.
type LagRecord struct {
	OccurredAt   time.Time `json:"occurred_at"`
	BehindMs     int64     `json:"behind_ms"`
	SkippedTicks int       `json:"skipped_ticks"`
}

// matchSchema lists the schema steps in order. Append new steps; never edit
// a released one. Times are stored as unix milliseconds.
var matchSchema = []string{
	`CREATE TABLE IF NOT EXISTS matches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		match_number INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		winner TEXT NOT NULL DEFAULT '',
		has_winner INTEGER NOT NULL DEFAULT 0,
		aborted INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS match_players (
		match_id INTEGER NOT NULL,
		slot INTEGER NOT NULL,
		name TEXT NOT NULL,
		score INTEGER NOT NULL,
		placement INTEGER NOT NULL,
		dead INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (match_id, slot),
		FOREIGN KEY (match_id) REFERENCES matches(id) ON DELETE CASCADE
	);`,

	`CREATE TABLE IF NOT EXISTS lag_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at INTEGER NOT NULL,
		behind_ms INTEGER NOT NULL,
		skipped_ticks INTEGER NOT NULL
	);`,

	`CREATE INDEX IF NOT EXISTS idx_matches_ended ON matches(ended_at);
	CREATE INDEX IF NOT EXISTS idx_match_players_name ON match_players(name);
	CREATE INDEX IF NOT EXISTS idx_lag_events_time ON lag_events(occurred_at);`,
}

// NewMatchStore opens the database at dbPath and brings its schema up to date.
func NewMatchStore(dbPath string) (*MatchStore, error) {
	database, err := openSQLite(dbPath, matchSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to open match database: %w", err)
	}
	return &MatchStore{db: database}, nil
}

// Close closes the underlying database.
func (s *MatchStore) Close() error {
	return s.db.close()
}

// RecordMatch stores a finished match and returns its row id.
func (s *MatchStore) RecordMatch(p events.MatchEndedPayload) (int64, error) {
	var id int64
	err := s.db.tx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO matches (match_number, started_at, ended_at, winner, has_winner, aborted)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			int64(p.MatchNumber), p.StartedAt.UnixMilli(), p.EndedAt.UnixMilli(),
			p.WinnerName, boolInt(p.HasWinner), boolInt(p.Aborted))
		if err != nil {
			return fmt.Errorf("failed to insert match: %w", err)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return err
		}

		for _, r := range p.Results {
			_, err := tx.Exec(
				`INSERT INTO match_players (match_id, slot, name, score, placement, dead)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				id, r.Slot, r.Name, int64(r.Score), r.Placement, boolInt(r.Dead))
			if err != nil {
				return fmt.Errorf("failed to insert result for %s: %w", r.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Debug().
		Int64("id", id).
		Uint64("match", p.MatchNumber).
		Str("winner", p.WinnerName).
		Msg("match recorded")
	return id, nil
}

// RecentMatches returns up to limit matches, newest first.
func (s *MatchStore) RecentMatches(limit int) ([]MatchRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.query(`
		SELECT id, match_number, started_at, ended_at, winner, has_winner, aborted
		FROM matches
		ORDER BY ended_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}

	var records []MatchRecord
	for rows.Next() {
		var (
			r                  MatchRecord
			number             int64
			started, ended     int64
			hasWinner, aborted int
		)
		if err := rows.Scan(&r.ID, &number, &started, &ended, &r.Winner, &hasWinner, &aborted); err != nil {
			rows.Close()
			return nil, err
		}
		r.MatchNumber = uint64(number)
		r.StartedAt = time.UnixMilli(started).UTC()
		r.EndedAt = time.UnixMilli(ended).UTC()
		r.HasWinner = hasWinner != 0
		r.Aborted = aborted != 0
		records = append(records, r)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range records {
		players, err := s.matchPlayers(records[i].ID)
		if err != nil {
			return nil, err
		}
		records[i].Players = players
	}
	return records, nil
}

func (s *MatchStore) matchPlayers(matchID int64) ([]events.PlayerResult, error) {
	rows, err := s.db.query(`
		SELECT slot, name, score, placement, dead
		FROM match_players
		WHERE match_id = ?
		ORDER BY placement
	`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []events.PlayerResult
	for rows.Next() {
		var (
			p     events.PlayerResult
			score int64
			dead  int
		)
		if err := rows.Scan(&p.Slot, &p.Name, &score, &p.Placement, &dead); err != nil {
			return nil, err
		}
		p.Score = uint32(score)
		p.Dead = dead != 0
		players = append(players, p)
	}
	return players, rows.Err()
}

const statsColumns = `
	mp.name,
	COUNT(*),
	COALESCE(SUM(CASE WHEN mp.placement = 1 AND m.has_winner = 1 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(mp.score), 0),
	COALESCE(MAX(mp.score), 0),
	COALESCE(AVG(mp.placement), 0)
`

// PlayerStats aggregates the results stored under name.
func (s *MatchStore) PlayerStats(name string) (PlayerStats, error) {
	row := s.db.queryRow(`
		SELECT `+statsColumns+`
		FROM match_players mp
		JOIN matches m ON m.id = mp.match_id
		WHERE mp.name = ?
		GROUP BY mp.name
	`, name)

	st, err := scanStats(row)
	if errors.Is(err, sql.ErrNoRows) {
		return PlayerStats{}, fmt.Errorf("player %q: %w", name, ErrNoResults)
	}
	return st, err
}

// TopPlayers ranks players by wins, then total score.
func (s *MatchStore) TopPlayers(limit int) ([]PlayerStats, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.query(`
		SELECT `+statsColumns+`
		FROM match_players mp
		JOIN matches m ON m.id = mp.match_id
		GROUP BY mp.name
		ORDER BY 3 DESC, 4 DESC, mp.name
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlayerStats
	for rows.Next() {
		st, err := scanStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStats(row scanner) (PlayerStats, error) {
	var (
		st   PlayerStats
		best int64
	)
	if err := row.Scan(&st.Name, &st.Matches, &st.Wins, &st.TotalScore, &best, &st.AvgPlacement); err != nil {
		return PlayerStats{}, err
	}
	st.BestScore = uint32(best)
	return st, nil
}

// RecordLag stores one long frame.
func (s *MatchStore) RecordLag(at time.Time, behind time.Duration, skipped int) error {
	_, err := s.db.exec(
		"INSERT INTO lag_events (occurred_at, behind_ms, skipped_ticks) VALUES (?, ?, ?)",
		at.UnixMilli(), behind.Milliseconds(), skipped)
	return err
}

// LagSince returns the long frames recorded at or after since, oldest first.
func (s *MatchStore) LagSince(since time.Time) ([]LagRecord, error) {
	rows, err := s.db.query(`
		SELECT occurred_at, behind_ms, skipped_ticks
		FROM lag_events
		WHERE occurred_at >= ?
		ORDER BY occurred_at, id
	`, since.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LagRecord
	for rows.Next() {
		var (
			r  LagRecord
			at int64
		)
		if err := rows.Scan(&at, &r.BehindMs, &r.SkippedTicks); err != nil {
			return nil, err
		}
		r.OccurredAt = time.UnixMilli(at).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneOlderThan deletes matches that ended, and lag events that occurred,
// before cutoff. It returns the number of matches removed.
func (s *MatchStore) PruneOlderThan(cutoff time.Time) (int64, error) {
	var removed int64
	err := s.db.tx(func(tx *sql.Tx) error {
		ms := cutoff.UnixMilli()
		if _, err := tx.Exec(
			"DELETE FROM match_players WHERE match_id IN (SELECT id FROM matches WHERE ended_at < ?)", ms); err != nil {
			return err
		}
		res, err := tx.Exec("DELETE FROM matches WHERE ended_at < ?", ms)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		_, err = tx.Exec("DELETE FROM lag_events WHERE occurred_at < ?", ms)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune failed: %w", err)
	}
	if removed > 0 {
		log.Info().Int64("matches", removed).Time("cutoff", cutoff).Msg("pruned old matches")
	}
	return removed, nil
}

// Subscribe records every finished match and long frame published on bus.
func (s *MatchStore) Subscribe(bus *events.EventBus) {
	bus.Subscribe(events.EventMatchEnded, "match_store", func(_ context.Context, e events.Event) error {
		p, ok := e.Payload.(events.MatchEndedPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		_, err := s.RecordMatch(p)
		return err
	})
	bus.Subscribe(events.EventLongFrame, "match_store", func(_ context.Context, e events.Event) error {
		p, ok := e.Payload.(events.LongFramePayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Payload)
		}
		return s.RecordLag(time.Now(), p.Behind, p.SkippedTicks)
	})
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
