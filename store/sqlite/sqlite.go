/*
Package sqlite provides the SQLite-backed implementation of the engine
storage interfaces.

PURPOSE:
  Implements engine.TxStore plus the compatibility-rule table and the
  donor registry. The same patterns apply to PostgreSQL - only minor
  SQL dialect differences.

GUARDED TRANSITIONS:
  Every status write is an UPDATE with the expected status in the WHERE
  clause. Zero affected rows means either the row is gone (NotFound) or
  another writer got there first (Conflict); the two are told apart
  with a follow-up read. This is the optimistic check that resolves
  planner/commit races.

ATOMICITY:
  WithTx wraps writes in a database transaction opened with
  _txlock=immediate, so competing commit batches serialize instead of
  failing mid-flight. The invariant that a unit is held by at most one
  Assigned link is additionally enforced by a partial unique index.

KEY TABLES:
  blood_units:         Unit inventory with status and remaining volume
  demands:             Routine and urgent transfusion requests
  reservation_links:   Demand-to-unit join records
  compatibility_rules: Directional donor/recipient/component rows
  collection_periods:  Donation drive windows
  donors:              Read-only registry rows for mobilization

VOLUMES & TIMES:
  Volumes are stored as decimal strings and compared with CAST where
  SQL needs them numeric. Timestamps are stored as UTC RFC3339 text, so
  lexicographic comparison matches chronological order.

SEE ALSO:
  - engine/store.go: Interface contracts
  - engine/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/warp/bloodbank/engine"
	"github.com/warp/bloodbank/geo"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements engine.TxStore and engine.DonorRegistry.
type Store struct {
	db *sql.DB
	q  queryer
}

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, q: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := s.seedRules(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed compatibility rules: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blood_units (
		id TEXT PRIMARY KEY,
		blood_type TEXT NOT NULL,
		component TEXT NOT NULL,
		volume TEXT NOT NULL,
		remaining TEXT NOT NULL,
		status TEXT NOT NULL,
		added_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- FEFO candidate listing (hot path)
	CREATE INDEX IF NOT EXISTS idx_units_lookup
		ON blood_units(blood_type, component, status, expires_at);
	CREATE INDEX IF NOT EXISTS idx_units_expiry
		ON blood_units(status, expires_at);

	CREATE TABLE IF NOT EXISTS demands (
		id TEXT PRIMARY KEY,
		urgency TEXT NOT NULL,
		blood_type TEXT NOT NULL,
		component TEXT NOT NULL,
		required_volume TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		patient_name TEXT,
		patient_contact TEXT,
		origin_lat REAL,
		origin_lon REAL,
		requested_at TEXT NOT NULL,
		approved_at TEXT,
		completed_at TEXT,
		cancelled_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_demands_status ON demands(status);

	CREATE TABLE IF NOT EXISTS reservation_links (
		id TEXT PRIMARY KEY,
		demand_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		volume TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_links_demand ON reservation_links(demand_id);

	-- CRITICAL: a unit may be held by at most one Assigned link.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_links_unit_assigned
		ON reservation_links(unit_id) WHERE status = 'assigned';

	CREATE TABLE IF NOT EXISTS compatibility_rules (
		donor TEXT NOT NULL,
		recipient TEXT NOT NULL,
		component TEXT NOT NULL,
		compatible INTEGER NOT NULL,
		PRIMARY KEY (donor, recipient, component)
	);

	CREATE TABLE IF NOT EXISTS collection_periods (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_at TEXT NOT NULL,
		end_at TEXT NOT NULL,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS donors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		blood_type TEXT NOT NULL,
		last_donation TEXT,
		last_transfusion TEXT,
		lat REAL,
		lon REAL
	);

	CREATE INDEX IF NOT EXISTS idx_donors_type ON donors(blood_type);
	`
	_, err := s.db.Exec(schema)
	return err
}

// seedRules inserts the built-in compatibility table; existing rows win
// so operators can override individual pairs.
func (s *Store) seedRules(ctx context.Context) error {
	for _, r := range engine.DefaultRules() {
		_, err := s.q.ExecContext(ctx,
			`INSERT OR IGNORE INTO compatibility_rules (donor, recipient, component, compatible) VALUES (?, ?, ?, ?)`,
			string(r.Donor), string(r.Recipient), string(r.Component), boolToInt(r.Compatible))
		if err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn against a transactional view. Nested calls reuse
// the surrounding transaction.
func (s *Store) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	if _, nested := s.q.(*sql.Tx); nested {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	view := &Store{db: s.db, q: tx}
	if err := fn(view); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// =============================================================================
// UNITS
// =============================================================================

func (s *Store) InsertUnit(ctx context.Context, u engine.BloodUnit) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO blood_units (id, blood_type, component, volume, remaining, status, added_at, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(u.ID), string(u.BloodType), string(u.Component),
		u.Volume.Ml.String(), u.Remaining.Ml.String(), string(u.Status),
		fmtTime(u.AddedAt), fmtTime(u.ExpiresAt), fmtTime(u.CreatedAt))
	return err
}

func (s *Store) Unit(ctx context.Context, id engine.UnitID) (engine.BloodUnit, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, blood_type, component, volume, remaining, status, added_at, expires_at, created_at
		FROM blood_units WHERE id = ?`, string(id))
	u, err := scanUnit(row)
	if err == sql.ErrNoRows {
		return engine.BloodUnit{}, &engine.NotFoundError{Kind: "unit", ID: string(id)}
	}
	return u, err
}

func (s *Store) ListUnits(ctx context.Context, status *engine.UnitStatus) ([]engine.BloodUnit, error) {
	query := `SELECT id, blood_type, component, volume, remaining, status, added_at, expires_at, created_at
		FROM blood_units`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnits(rows)
}

func (s *Store) Candidates(ctx context.Context, q engine.CandidateQuery) ([]engine.BloodUnit, error) {
	statuses := `('available')`
	if q.IncludeReserved {
		statuses = `('available', 'reserved')`
	}
	query := `SELECT id, blood_type, component, volume, remaining, status, added_at, expires_at, created_at
		FROM blood_units
		WHERE blood_type = ? AND component = ?
		  AND status IN ` + statuses + `
		  AND CAST(remaining AS REAL) > 0
		  AND expires_at >= ?`
	args := []any{string(q.BloodType), string(q.Component), fmtTime(engine.Day(q.AsOf))}

	if q.MinRemaining.IsPositive() {
		query += ` AND CAST(remaining AS REAL) >= ?`
		f, _ := q.MinRemaining.Ml.Float64()
		args = append(args, f)
	}
	query += ` ORDER BY expires_at ASC, id ASC`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUnits(rows)
}

func (s *Store) TransitionUnit(ctx context.Context, id engine.UnitID, from, to engine.UnitStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE blood_units SET status = ? WHERE id = ? AND status = ?`,
		string(to), string(id), string(from))
	if err != nil {
		return err
	}
	return s.checkUnitGuard(ctx, res, id, from)
}

func (s *Store) ConsumeUnit(ctx context.Context, id engine.UnitID, remaining engine.Volume, to engine.UnitStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE blood_units SET remaining = ?, status = ? WHERE id = ? AND status = ?`,
		remaining.Ml.String(), string(to), string(id), string(engine.UnitReserved))
	if err != nil {
		return err
	}
	return s.checkUnitGuard(ctx, res, id, engine.UnitReserved)
}

// checkUnitGuard turns a zero-row guarded UPDATE into the right typed error.
func (s *Store) checkUnitGuard(ctx context.Context, res sql.Result, id engine.UnitID, expected engine.UnitStatus) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var actual string
	err = s.q.QueryRowContext(ctx, `SELECT status FROM blood_units WHERE id = ?`, string(id)).Scan(&actual)
	if err == sql.ErrNoRows {
		return &engine.NotFoundError{Kind: "unit", ID: string(id)}
	}
	if err != nil {
		return err
	}
	return &engine.ConflictError{Kind: "unit", ID: string(id), Expected: string(expected), Actual: actual}
}

func (s *Store) ExpireUnits(ctx context.Context, asOf time.Time) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE blood_units SET status = 'expired'
		WHERE status IN ('available', 'partial_used', 'reserved') AND expires_at < ?`,
		fmtTime(engine.Day(asOf)))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// DEMANDS
// =============================================================================

func (s *Store) InsertDemand(ctx context.Context, d engine.DemandRequest) error {
	patientName, patientContact := sql.NullString{}, sql.NullString{}
	if d.Patient != nil {
		patientName = sql.NullString{String: d.Patient.Name, Valid: true}
		patientContact = sql.NullString{String: d.Patient.Contact, Valid: true}
	}
	lat, lon := sql.NullFloat64{}, sql.NullFloat64{}
	if d.Origin != nil {
		lat = sql.NullFloat64{Float64: d.Origin.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: d.Origin.Lon, Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO demands (id, urgency, blood_type, component, required_volume, status, reason,
			patient_name, patient_contact, origin_lat, origin_lon,
			requested_at, approved_at, completed_at, cancelled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(d.ID), string(d.Urgency), string(d.BloodType), string(d.Component),
		d.RequiredVolume.Ml.String(), string(d.Status), d.Reason,
		patientName, patientContact, lat, lon,
		fmtTime(d.RequestedAt), fmtTimePtr(d.ApprovedAt), fmtTimePtr(d.CompletedAt), fmtTimePtr(d.CancelledAt))
	return err
}

func (s *Store) Demand(ctx context.Context, id engine.DemandID) (engine.DemandRequest, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, urgency, blood_type, component, required_volume, status, reason,
			patient_name, patient_contact, origin_lat, origin_lon,
			requested_at, approved_at, completed_at, cancelled_at
		FROM demands WHERE id = ?`, string(id))
	d, err := scanDemand(row)
	if err == sql.ErrNoRows {
		return engine.DemandRequest{}, &engine.NotFoundError{Kind: "demand", ID: string(id)}
	}
	return d, err
}

func (s *Store) ListDemands(ctx context.Context, status *engine.DemandStatus) ([]engine.DemandRequest, error) {
	query := `SELECT id, urgency, blood_type, component, required_volume, status, reason,
			patient_name, patient_contact, origin_lat, origin_lon,
			requested_at, approved_at, completed_at, cancelled_at
		FROM demands`
	var args []any
	if status != nil {
		query += ` WHERE status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY requested_at, id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var demands []engine.DemandRequest
	for rows.Next() {
		d, err := scanDemand(rows)
		if err != nil {
			return nil, err
		}
		demands = append(demands, d)
	}
	return demands, rows.Err()
}

func (s *Store) UpdateDemand(ctx context.Context, d engine.DemandRequest, from engine.DemandStatus) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE demands SET blood_type = ?, status = ?, approved_at = ?, completed_at = ?, cancelled_at = ?
		WHERE id = ? AND status = ?`,
		string(d.BloodType), string(d.Status),
		fmtTimePtr(d.ApprovedAt), fmtTimePtr(d.CompletedAt), fmtTimePtr(d.CancelledAt),
		string(d.ID), string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var actual string
	err = s.q.QueryRowContext(ctx, `SELECT status FROM demands WHERE id = ?`, string(d.ID)).Scan(&actual)
	if err == sql.ErrNoRows {
		return &engine.NotFoundError{Kind: "demand", ID: string(d.ID)}
	}
	if err != nil {
		return err
	}
	return &engine.ConflictError{Kind: "demand", ID: string(d.ID), Expected: string(from), Actual: actual}
}

// =============================================================================
// RESERVATION LINKS
// =============================================================================

func (s *Store) InsertLink(ctx context.Context, link engine.ReservationLink) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO reservation_links (id, demand_id, unit_id, volume, status, assigned_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(link.ID), string(link.DemandID), string(link.UnitID),
		link.AssignedVolume.Ml.String(), string(link.Status), fmtTime(link.AssignedAt))
	if err != nil {
		// The partial unique index rejects a second Assigned link for
		// the same unit; surface that as the conflict it is. Any other
		// failure passes through unchanged.
		var serr sqlite3.Error
		if errors.As(err, &serr) && serr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return &engine.ConflictError{Kind: "unit", ID: string(link.UnitID), Expected: "unheld", Actual: "held"}
		}
		return err
	}
	return nil
}

func (s *Store) LinksByDemand(ctx context.Context, id engine.DemandID) ([]engine.ReservationLink, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, demand_id, unit_id, volume, status, assigned_at
		FROM reservation_links WHERE demand_id = ? ORDER BY id`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []engine.ReservationLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (s *Store) AssignedLinkByUnit(ctx context.Context, id engine.UnitID) (engine.ReservationLink, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, demand_id, unit_id, volume, status, assigned_at
		FROM reservation_links WHERE unit_id = ? AND status = 'assigned'`, string(id))
	link, err := scanLink(row)
	if err == sql.ErrNoRows {
		return engine.ReservationLink{}, &engine.NotFoundError{Kind: "link", ID: "assigned for unit " + string(id)}
	}
	return link, err
}

func (s *Store) TransitionLink(ctx context.Context, id engine.LinkID, from, to engine.LinkStatus) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE reservation_links SET status = ? WHERE id = ? AND status = ?`,
		string(to), string(id), string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var actual string
	err = s.q.QueryRowContext(ctx, `SELECT status FROM reservation_links WHERE id = ?`, string(id)).Scan(&actual)
	if err == sql.ErrNoRows {
		return &engine.NotFoundError{Kind: "link", ID: string(id)}
	}
	if err != nil {
		return err
	}
	return &engine.ConflictError{Kind: "link", ID: string(id), Expected: string(from), Actual: actual}
}

// =============================================================================
// COLLECTION PERIODS
// =============================================================================

func (s *Store) InsertPeriod(ctx context.Context, p engine.CollectionPeriod) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO collection_periods (id, name, start_at, end_at, status)
		VALUES (?, ?, ?, ?, ?)`,
		string(p.ID), p.Name, fmtTime(p.Start), fmtTime(p.End), string(p.Status))
	return err
}

func (s *Store) ActivePeriod(ctx context.Context) (engine.CollectionPeriod, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT id, name, start_at, end_at, status
		FROM collection_periods WHERE status = 'active'
		ORDER BY start_at DESC LIMIT 1`)

	var p engine.CollectionPeriod
	var id, name, start, end, status string
	err := row.Scan(&id, &name, &start, &end, &status)
	if err == sql.ErrNoRows {
		return engine.CollectionPeriod{}, &engine.NotFoundError{Kind: "period", ID: "active"}
	}
	if err != nil {
		return engine.CollectionPeriod{}, err
	}
	p.ID = engine.PeriodID(id)
	p.Name = name
	p.Status = engine.PeriodStatus(status)
	if p.Start, err = parseTime(start); err != nil {
		return engine.CollectionPeriod{}, err
	}
	if p.End, err = parseTime(end); err != nil {
		return engine.CollectionPeriod{}, err
	}
	return p, nil
}

func (s *Store) CompletePeriods(ctx context.Context, asOf time.Time) (int, error) {
	res, err := s.q.ExecContext(ctx, `
		UPDATE collection_periods SET status = 'completed'
		WHERE status = 'active' AND end_at < ?`, fmtTime(engine.Day(asOf)))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// COMPATIBILITY RULES
// =============================================================================

// Rules loads the full rule table, for building the oracle at startup.
func (s *Store) Rules(ctx context.Context) ([]engine.CompatibilityRule, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT donor, recipient, component, compatible FROM compatibility_rules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []engine.CompatibilityRule
	for rows.Next() {
		var donor, recipient, component string
		var compatible int
		if err := rows.Scan(&donor, &recipient, &component, &compatible); err != nil {
			return nil, err
		}
		rules = append(rules, engine.CompatibilityRule{
			Donor:      engine.BloodType(donor),
			Recipient:  engine.BloodType(recipient),
			Component:  engine.Component(component),
			Compatible: compatible != 0,
		})
	}
	return rules, rows.Err()
}

// ReplaceRules swaps the whole rule table for a custom one.
func (s *Store) ReplaceRules(ctx context.Context, rules []engine.CompatibilityRule) error {
	return s.WithTx(ctx, func(view engine.Store) error {
		vs := view.(*Store)
		if _, err := vs.q.ExecContext(ctx, `DELETE FROM compatibility_rules`); err != nil {
			return err
		}
		for _, r := range rules {
			_, err := vs.q.ExecContext(ctx,
				`INSERT INTO compatibility_rules (donor, recipient, component, compatible) VALUES (?, ?, ?, ?)`,
				string(r.Donor), string(r.Recipient), string(r.Component), boolToInt(r.Compatible))
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// DONOR REGISTRY
// =============================================================================

// DonorsByTypes implements engine.DonorRegistry.
func (s *Store) DonorsByTypes(ctx context.Context, types []engine.BloodType) ([]engine.Donor, error) {
	if len(types) == 0 {
		return nil, nil
	}
	query := `SELECT id, name, blood_type, last_donation, last_transfusion, lat, lon FROM donors WHERE blood_type IN (`
	args := make([]any, 0, len(types))
	for i, bt := range types {
		if i > 0 {
			query += `, `
		}
		query += `?`
		args = append(args, string(bt))
	}
	query += `) ORDER BY id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var donors []engine.Donor
	for rows.Next() {
		var id, name, bt string
		var lastDonation, lastTransfusion sql.NullString
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&id, &name, &bt, &lastDonation, &lastTransfusion, &lat, &lon); err != nil {
			return nil, err
		}
		d := engine.Donor{ID: engine.DonorID(id), Name: name, BloodType: engine.BloodType(bt)}
		if d.LastDonation, err = parseTimePtr(lastDonation); err != nil {
			return nil, err
		}
		if d.LastTransfusion, err = parseTimePtr(lastTransfusion); err != nil {
			return nil, err
		}
		if lat.Valid && lon.Valid {
			d.Location = &geo.Point{Lat: lat.Float64, Lon: lon.Float64}
		}
		donors = append(donors, d)
	}
	return donors, rows.Err()
}

// InsertDonor loads a registry row; used by seeders and tests only, the
// engine treats the registry as read-only.
func (s *Store) InsertDonor(ctx context.Context, d engine.Donor) error {
	lat, lon := sql.NullFloat64{}, sql.NullFloat64{}
	if d.Location != nil {
		lat = sql.NullFloat64{Float64: d.Location.Lat, Valid: true}
		lon = sql.NullFloat64{Float64: d.Location.Lon, Valid: true}
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO donors (id, name, blood_type, last_donation, last_transfusion, lat, lon)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(d.ID), d.Name, string(d.BloodType),
		fmtTimePtr(d.LastDonation), fmtTimePtr(d.LastTransfusion), lat, lon)
	return err
}

// =============================================================================
// SCAN HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (engine.BloodUnit, error) {
	var u engine.BloodUnit
	var id, bt, component, volume, remaining, status, addedAt, expiresAt, createdAt string
	if err := row.Scan(&id, &bt, &component, &volume, &remaining, &status, &addedAt, &expiresAt, &createdAt); err != nil {
		return engine.BloodUnit{}, err
	}

	u.ID = engine.UnitID(id)
	u.BloodType = engine.BloodType(bt)
	u.Component = engine.Component(component)
	u.Status = engine.UnitStatus(status)

	var err error
	if u.Volume, err = engine.ParseVolume(volume); err != nil {
		return engine.BloodUnit{}, err
	}
	if u.Remaining, err = engine.ParseVolume(remaining); err != nil {
		return engine.BloodUnit{}, err
	}
	if u.AddedAt, err = parseTime(addedAt); err != nil {
		return engine.BloodUnit{}, err
	}
	if u.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return engine.BloodUnit{}, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return engine.BloodUnit{}, err
	}
	return u, nil
}

func scanUnits(rows *sql.Rows) ([]engine.BloodUnit, error) {
	var units []engine.BloodUnit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func scanDemand(row rowScanner) (engine.DemandRequest, error) {
	var d engine.DemandRequest
	var id, urgency, bt, component, required, status, reason string
	var patientName, patientContact sql.NullString
	var lat, lon sql.NullFloat64
	var requestedAt string
	var approvedAt, completedAt, cancelledAt sql.NullString

	err := row.Scan(&id, &urgency, &bt, &component, &required, &status, &reason,
		&patientName, &patientContact, &lat, &lon,
		&requestedAt, &approvedAt, &completedAt, &cancelledAt)
	if err != nil {
		return engine.DemandRequest{}, err
	}

	d.ID = engine.DemandID(id)
	d.Urgency = engine.Urgency(urgency)
	d.BloodType = engine.BloodType(bt)
	d.Component = engine.Component(component)
	d.Status = engine.DemandStatus(status)
	d.Reason = reason

	if d.RequiredVolume, err = engine.ParseVolume(required); err != nil {
		return engine.DemandRequest{}, err
	}
	if patientName.Valid {
		d.Patient = &engine.PatientDetails{Name: patientName.String, Contact: patientContact.String}
	}
	if lat.Valid && lon.Valid {
		d.Origin = &geo.Point{Lat: lat.Float64, Lon: lon.Float64}
	}
	if d.RequestedAt, err = parseTime(requestedAt); err != nil {
		return engine.DemandRequest{}, err
	}
	if d.ApprovedAt, err = parseTimePtr(approvedAt); err != nil {
		return engine.DemandRequest{}, err
	}
	if d.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return engine.DemandRequest{}, err
	}
	if d.CancelledAt, err = parseTimePtr(cancelledAt); err != nil {
		return engine.DemandRequest{}, err
	}
	return d, nil
}

func scanLink(row rowScanner) (engine.ReservationLink, error) {
	var link engine.ReservationLink
	var id, demandID, unitID, volume, status, assignedAt string
	if err := row.Scan(&id, &demandID, &unitID, &volume, &status, &assignedAt); err != nil {
		return engine.ReservationLink{}, err
	}

	link.ID = engine.LinkID(id)
	link.DemandID = engine.DemandID(demandID)
	link.UnitID = engine.UnitID(unitID)
	link.Status = engine.LinkStatus(status)

	var err error
	if link.AssignedVolume, err = engine.ParseVolume(volume); err != nil {
		return engine.ReservationLink{}, err
	}
	if link.AssignedAt, err = parseTime(assignedAt); err != nil {
		return engine.ReservationLink{}, err
	}
	return link, nil
}

// =============================================================================
// TIME HELPERS
// =============================================================================

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
