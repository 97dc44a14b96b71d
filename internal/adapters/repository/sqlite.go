package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/okian/fleettrack/internal/adapters/repository/migrations"
	"github.com/okian/fleettrack/internal/domain/model"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// SQLiteStore persists pipeline state in SQLite.
type SQLiteStore struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a SQLite store and applies embedded migrations.
func Open(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateKill inserts one kill event. The UNIQUE constraint on kill_id turns
// a concurrent double-insert into ErrDuplicateKill instead of a second row.
func (s *SQLiteStore) CreateKill(ctx context.Context, kill model.KillEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var fleetID any
	if kill.FleetID != nil {
		fleetID = *kill.FleetID
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO kills (
		   kill_id, time, pos_x, pos_y, pos_z,
		   ship_type_id, victim_id, system_id, fleet_id
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		kill.KillID,
		toMillis(kill.Time),
		kill.Position.X,
		kill.Position.Y,
		kill.Position.Z,
		kill.ShipTypeID,
		kill.VictimID,
		kill.SystemID,
		fleetID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKill
		}
		return fmt.Errorf("create kill: %w", err)
	}
	return nil
}

// GetKill returns one kill by external id.
func (s *SQLiteStore) GetKill(ctx context.Context, killID int64) (model.KillEvent, error) {
	if err := ctx.Err(); err != nil {
		return model.KillEvent{}, err
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT kill_id, time, pos_x, pos_y, pos_z,
		        ship_type_id, victim_id, system_id, fleet_id
		   FROM kills
		  WHERE kill_id = ?`,
		killID,
	)

	var kill model.KillEvent
	var killTime int64
	var fleetID sql.NullString
	err := row.Scan(
		&kill.KillID,
		&killTime,
		&kill.Position.X,
		&kill.Position.Y,
		&kill.Position.Z,
		&kill.ShipTypeID,
		&kill.VictimID,
		&kill.SystemID,
		&fleetID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.KillEvent{}, ErrNotFound
		}
		return model.KillEvent{}, fmt.Errorf("get kill: %w", err)
	}

	kill.Time = fromMillis(killTime)
	if fleetID.Valid {
		kill.FleetID = &fleetID.String
	}
	return kill, nil
}

// CreateFleet inserts one fleet with its seed members.
func (s *SQLiteStore) CreateFleet(ctx context.Context, fleet model.Fleet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create fleet: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var endTime any
	if fleet.EndTime != nil {
		endTime = toMillis(*fleet.EndTime)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO fleets (
		   id, system_id, is_active, danger_ratio,
		   start_time, end_time, updated_at, last_seen
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		fleet.ID,
		fleet.SystemID,
		boolToInt(fleet.IsActive),
		fleet.DangerRatio,
		toMillis(fleet.StartTime),
		endTime,
		toMillis(fleet.UpdatedAt),
		toMillis(fleet.LastSeen),
	)
	if err != nil {
		return fmt.Errorf("create fleet: %w", err)
	}

	for seq, characterID := range fleet.Members {
		if err := addMember(ctx, tx, fleet.ID, characterID, fleet.Composition[characterID], seq+1); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create fleet: %w", err)
	}
	return nil
}

// GetFleet returns one fleet with members and composition.
func (s *SQLiteStore) GetFleet(ctx context.Context, id string) (model.Fleet, error) {
	if err := ctx.Err(); err != nil {
		return model.Fleet{}, err
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, system_id, is_active, danger_ratio,
		        start_time, end_time, updated_at, last_seen
		   FROM fleets
		  WHERE id = ?`,
		id,
	)

	fleet, err := scanFleet(row)
	if err != nil {
		return model.Fleet{}, err
	}

	if err := s.loadMembers(ctx, &fleet); err != nil {
		return model.Fleet{}, err
	}
	return fleet, nil
}

// ActiveFleetsBySystem returns all active fleets in a system, with members.
func (s *SQLiteStore) ActiveFleetsBySystem(ctx context.Context, systemID int64) ([]model.Fleet, error) {
	return s.queryFleets(
		ctx,
		`SELECT id, system_id, is_active, danger_ratio,
		        start_time, end_time, updated_at, last_seen
		   FROM fleets
		  WHERE system_id = ? AND is_active = 1
		  ORDER BY start_time ASC`,
		systemID,
	)
}

// StaleActiveFleets returns up to limit active fleets not updated since cutoff.
func (s *SQLiteStore) StaleActiveFleets(ctx context.Context, cutoff time.Time, limit int) ([]model.Fleet, error) {
	return s.queryFleets(
		ctx,
		`SELECT id, system_id, is_active, danger_ratio,
		        start_time, end_time, updated_at, last_seen
		   FROM fleets
		  WHERE is_active = 1 AND updated_at <= ?
		  ORDER BY updated_at ASC
		  LIMIT ?`,
		toMillis(cutoff),
		limit,
	)
}

// ZeroThreatActiveFleets returns up to limit active fleets with no danger ratio.
func (s *SQLiteStore) ZeroThreatActiveFleets(ctx context.Context, limit int) ([]model.Fleet, error) {
	return s.queryFleets(
		ctx,
		`SELECT id, system_id, is_active, danger_ratio,
		        start_time, end_time, updated_at, last_seen
		   FROM fleets
		  WHERE is_active = 1 AND danger_ratio = 0
		  ORDER BY start_time ASC
		  LIMIT ?`,
		limit,
	)
}

// ExtendFleet merges participants into membership/composition and
// refreshes the liveness stamps, in one transaction.
func (s *SQLiteStore) ExtendFleet(ctx context.Context, fleetID string, participants []model.Participant, seenAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin extend fleet: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var nextSeq int
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(joined_seq), 0) FROM fleet_members WHERE fleet_id = ?`, fleetID)
	if err := row.Scan(&nextSeq); err != nil {
		return fmt.Errorf("extend fleet: %w", err)
	}

	for _, p := range participants {
		nextSeq++
		if err := addMember(ctx, tx, fleetID, p.CharacterID, p.ShipTypeID, nextSeq); err != nil {
			return err
		}
	}

	res, err := tx.ExecContext(
		ctx,
		`UPDATE fleets SET last_seen = ?, updated_at = ? WHERE id = ?`,
		toMillis(seenAt),
		toMillis(seenAt),
		fleetID,
	)
	if err != nil {
		return fmt.Errorf("extend fleet: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit extend fleet: %w", err)
	}
	return nil
}

// ExpireFleet flips an active fleet to inactive. The is_active guard makes
// the transition exactly-once even if two sweeps race.
func (s *SQLiteStore) ExpireFleet(ctx context.Context, fleetID string, endTime time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	res, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE fleets
		    SET is_active = 0, end_time = ?, updated_at = ?
		  WHERE id = ? AND is_active = 1`,
		toMillis(endTime),
		toMillis(endTime),
		fleetID,
	)
	if err != nil {
		return false, fmt.Errorf("expire fleet: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("expire fleet: %w", err)
	}
	return n > 0, nil
}

// TouchFleet refreshes a fleet's updated_at stamp.
func (s *SQLiteStore) TouchFleet(ctx context.Context, fleetID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE fleets SET updated_at = ? WHERE id = ?`,
		toMillis(at),
		fleetID,
	)
	if err != nil {
		return fmt.Errorf("touch fleet: %w", err)
	}
	return nil
}

// SetFleetDangerRatio persists a recomputed danger ratio.
func (s *SQLiteStore) SetFleetDangerRatio(ctx context.Context, fleetID string, ratio float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE fleets SET danger_ratio = ? WHERE id = ?`,
		ratio,
		fleetID,
	)
	if err != nil {
		return fmt.Errorf("set fleet danger ratio: %w", err)
	}
	return nil
}

// CountActiveFleets returns the number of active fleets.
func (s *SQLiteStore) CountActiveFleets(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM fleets WHERE is_active = 1`)
}

// CountKills returns the number of persisted kill events.
func (s *SQLiteStore) CountKills(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM kills`)
}

// EnsureCharacter creates a character row if missing.
func (s *SQLiteStore) EnsureCharacter(ctx context.Context, characterID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO characters (character_id) VALUES (?)`,
		characterID,
	)
	if err != nil {
		return fmt.Errorf("ensure character: %w", err)
	}
	return nil
}

// SetCharacterAffiliation records the corporation and alliance a character
// was last seen with.
func (s *SQLiteStore) SetCharacterAffiliation(ctx context.Context, characterID, corporationID int64, allianceID *int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var alliance any
	if allianceID != nil {
		alliance = *allianceID
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO characters (character_id, corporation_id, alliance_id)
		 VALUES (?, ?, ?)
		 ON CONFLICT (character_id)
		 DO UPDATE SET corporation_id = excluded.corporation_id,
		               alliance_id = excluded.alliance_id`,
		characterID,
		corporationID,
		alliance,
	)
	if err != nil {
		return fmt.Errorf("set character affiliation: %w", err)
	}
	return nil
}

// GetCharacter returns one character.
func (s *SQLiteStore) GetCharacter(ctx context.Context, characterID int64) (model.Character, error) {
	if err := ctx.Err(); err != nil {
		return model.Character{}, err
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT character_id, corporation_id, alliance_id,
		        danger_ratio, last_stats_update, fleet_id
		   FROM characters
		  WHERE character_id = ?`,
		characterID,
	)
	return scanCharacter(row)
}

// SetCharacterStats persists a fetched danger ratio with its fetch time.
func (s *SQLiteStore) SetCharacterStats(ctx context.Context, characterID int64, ratio float64, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`UPDATE characters SET danger_ratio = ?, last_stats_update = ? WHERE character_id = ?`,
		ratio,
		toMillis(at),
		characterID,
	)
	if err != nil {
		return fmt.Errorf("set character stats: %w", err)
	}
	return nil
}

// CharactersNeedingStats returns up to limit characters with no ratio and
// no prior stats fetch.
func (s *SQLiteStore) CharactersNeedingStats(ctx context.Context, limit int) ([]model.Character, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT character_id, corporation_id, alliance_id,
		        danger_ratio, last_stats_update, fleet_id
		   FROM characters
		  WHERE danger_ratio = 0 AND last_stats_update IS NULL
		  ORDER BY character_id ASC
		  LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("characters needing stats: %w", err)
	}
	defer rows.Close()

	var out []model.Character
	for rows.Next() {
		c, err := scanCharacter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("characters needing stats: %w", err)
	}
	return out, nil
}

// MemberDangerRatios returns the danger ratios of a fleet's members.
func (s *SQLiteStore) MemberDangerRatios(ctx context.Context, fleetID string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT c.danger_ratio
		   FROM fleet_members m
		   JOIN characters c ON c.character_id = m.character_id
		  WHERE m.fleet_id = ?
		  ORDER BY m.joined_seq ASC`,
		fleetID,
	)
	if err != nil {
		return nil, fmt.Errorf("member danger ratios: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var ratio float64
		if err := rows.Scan(&ratio); err != nil {
			return nil, fmt.Errorf("member danger ratios: %w", err)
		}
		out = append(out, ratio)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("member danger ratios: %w", err)
	}
	return out, nil
}

// addMember upserts a fleet member row and stamps the character's fleet.
// A character joining this fleet is implicitly pulled out of any other:
// the fleet_id column on characters is the single active-membership slot.
func addMember(ctx context.Context, tx *sql.Tx, fleetID string, characterID, shipTypeID int64, seq int) error {
	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO fleet_members (fleet_id, character_id, ship_type_id, joined_seq)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (fleet_id, character_id)
		 DO UPDATE SET ship_type_id = excluded.ship_type_id`,
		fleetID,
		characterID,
		shipTypeID,
		seq,
	)
	if err != nil {
		return fmt.Errorf("add fleet member: %w", err)
	}

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO characters (character_id, fleet_id) VALUES (?, ?)
		 ON CONFLICT (character_id) DO UPDATE SET fleet_id = excluded.fleet_id`,
		characterID,
		fleetID,
	)
	if err != nil {
		return fmt.Errorf("stamp character fleet: %w", err)
	}
	return nil
}

func (s *SQLiteStore) queryFleets(ctx context.Context, query string, args ...any) ([]model.Fleet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query fleets: %w", err)
	}
	defer rows.Close()

	var fleets []model.Fleet
	for rows.Next() {
		fleet, err := scanFleet(rows)
		if err != nil {
			return nil, err
		}
		fleets = append(fleets, fleet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query fleets: %w", err)
	}

	for i := range fleets {
		if err := s.loadMembers(ctx, &fleets[i]); err != nil {
			return nil, err
		}
	}
	return fleets, nil
}

func (s *SQLiteStore) loadMembers(ctx context.Context, fleet *model.Fleet) error {
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT character_id, ship_type_id
		   FROM fleet_members
		  WHERE fleet_id = ?
		  ORDER BY joined_seq ASC`,
		fleet.ID,
	)
	if err != nil {
		return fmt.Errorf("load fleet members: %w", err)
	}
	defer rows.Close()

	fleet.Members = nil
	fleet.Composition = make(map[int64]int64)
	for rows.Next() {
		var characterID, shipTypeID int64
		if err := rows.Scan(&characterID, &shipTypeID); err != nil {
			return fmt.Errorf("load fleet members: %w", err)
		}
		fleet.Members = append(fleet.Members, characterID)
		fleet.Composition[characterID] = shipTypeID
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load fleet members: %w", err)
	}
	return nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanFleet(row scanner) (model.Fleet, error) {
	var fleet model.Fleet
	var isActive int
	var startTime, updatedAt, lastSeen int64
	var endTime sql.NullInt64
	err := row.Scan(
		&fleet.ID,
		&fleet.SystemID,
		&isActive,
		&fleet.DangerRatio,
		&startTime,
		&endTime,
		&updatedAt,
		&lastSeen,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Fleet{}, ErrNotFound
		}
		return model.Fleet{}, fmt.Errorf("scan fleet: %w", err)
	}

	fleet.IsActive = isActive != 0
	fleet.StartTime = fromMillis(startTime)
	fleet.UpdatedAt = fromMillis(updatedAt)
	fleet.LastSeen = fromMillis(lastSeen)
	if endTime.Valid {
		t := fromMillis(endTime.Int64)
		fleet.EndTime = &t
	}
	return fleet, nil
}

func scanCharacter(row scanner) (model.Character, error) {
	var c model.Character
	var allianceID sql.NullInt64
	var lastStats sql.NullInt64
	var fleetID sql.NullString
	err := row.Scan(
		&c.CharacterID,
		&c.CorporationID,
		&allianceID,
		&c.DangerRatio,
		&lastStats,
		&fleetID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Character{}, ErrNotFound
		}
		return model.Character{}, fmt.Errorf("scan character: %w", err)
	}

	if allianceID.Valid {
		c.AllianceID = &allianceID.Int64
	}
	if lastStats.Valid {
		t := fromMillis(lastStats.Int64)
		c.LastStatsUpdate = &t
	}
	if fleetID.Valid {
		c.FleetID = &fleetID.String
	}
	return c, nil
}

func (s *SQLiteStore) count(ctx context.Context, query string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int
	if err := s.sqlDB.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

var _ Store = (*SQLiteStore)(nil)
