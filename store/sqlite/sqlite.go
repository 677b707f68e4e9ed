/*
Package sqlite provides a SQLite-backed implementation of the commission
storage interfaces.

PURPOSE:
  Implements commission.TxStore, commission.DealLocker, and
  commission.ActivityLog using SQLite. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences, and the
  advisory lock becomes pg_advisory_xact_lock keyed by deal id.

KEY TABLES:
  deals:             Closed sales (read by the engine)
  people:            Reporting hierarchy (reports_to self-reference)
  pay_plans:         Named rule bundles
  plan_assignments:  Temporal person-to-plan bindings
  commission_rules:  Base and override rules
  org_snapshots:     Append-only chain captures (audit)
  commissions:       Computed payout obligations
  activity_log:      Append-only audit mirror

WRITE-TIME INVARIANTS:
  SaveAssignment checks for overlapping date ranges before insert and
  returns ErrOverlappingAssignment; the interval invariant is enforced
  here so the resolver never has to break ties.

CONCURRENCY:
  Per-deal advisory locks are in-process keyed mutexes: SQLite is a
  single-node store and every recalculation goes through this process.
  WAL mode keeps readers unblocked while the single writer commits.

SEE ALSO:
  - commission/store.go: interface definitions
  - commission/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/avelkins10/kin-people-sub003/commission"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db    *sql.DB
	mu    sync.Mutex // serializes transactions; SQLite allows one writer
	locks *dealLocks
}

var (
	_ commission.TxStore     = (*Store)(nil)
	_ commission.DealLocker  = (*Store)(nil)
	_ commission.ActivityLog = (*Store)(nil)
)

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, locks: newDealLocks()}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		setter_id TEXT NOT NULL,
		closer_id TEXT NOT NULL,
		office_id TEXT,
		deal_type TEXT NOT NULL,
		deal_value TEXT NOT NULL,
		system_size_kw TEXT NOT NULL DEFAULT '0',
		self_gen BOOLEAN NOT NULL DEFAULT FALSE,
		close_date TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS people (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		reports_to TEXT,
		role_id TEXT NOT NULL,
		office_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_people_reports_to ON people(reports_to);

	CREATE TABLE IF NOT EXISTS pay_plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS plan_assignments (
		id TEXT PRIMARY KEY,
		person_id TEXT NOT NULL,
		pay_plan_id TEXT NOT NULL,
		effective_date TEXT NOT NULL,
		end_date TEXT,
		created_at TEXT NOT NULL
	);

	-- Active-assignment resolution (hot path)
	CREATE INDEX IF NOT EXISTS idx_assignments_person_dates
		ON plan_assignments(person_id, effective_date, end_date);

	CREATE TABLE IF NOT EXISTS commission_rules (
		id TEXT PRIMARY KEY,
		pay_plan_id TEXT NOT NULL,
		rule_type TEXT NOT NULL,
		calc_method TEXT NOT NULL,
		amount TEXT NOT NULL,
		applies_to_role TEXT,
		override_level INTEGER,
		override_source TEXT,
		deal_types_json TEXT,
		sort_order INTEGER NOT NULL DEFAULT 0,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rules_plan ON commission_rules(pay_plan_id);

	-- Append-only: no UPDATE or DELETE is ever issued against this table.
	CREATE TABLE IF NOT EXISTS org_snapshots (
		id TEXT PRIMARY KEY,
		root_person_id TEXT NOT NULL,
		chain_json TEXT NOT NULL,
		captured_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_root ON org_snapshots(root_person_id);

	CREATE TABLE IF NOT EXISTS commissions (
		id TEXT PRIMARY KEY,
		deal_id TEXT NOT NULL,
		person_id TEXT NOT NULL,
		commission_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		status TEXT NOT NULL,
		pay_plan_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		calc_details_json TEXT NOT NULL,
		status_reason TEXT,
		paid_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_commissions_deal ON commissions(deal_id);
	CREATE INDEX IF NOT EXISTS idx_commissions_person ON commissions(person_id);
	CREATE INDEX IF NOT EXISTS idx_commissions_status ON commissions(status);

	CREATE TABLE IF NOT EXISTS activity_log (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		details_json TEXT,
		actor_id TEXT,
		deal_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_activity_entity ON activity_log(entity_type, entity_id);
	CREATE INDEX IF NOT EXISTS idx_activity_deal ON activity_log(deal_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CONNECTION ABSTRACTION - Same queries run on *sql.DB and *sql.Tx
// =============================================================================

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements commission.Stores against either the raw DB or an
// open transaction.
type conn struct {
	q dbtx
}

func (s *Store) base() *conn { return &conn{q: s.db} }

// WithTx executes fn within a database transaction. If fn returns an
// error the transaction is rolled back and nothing changes.
func (s *Store) WithTx(ctx context.Context, fn func(commission.Stores) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&conn{q: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// Store delegates the plain (non-transactional) interface to a base conn.

func (s *Store) GetDeal(ctx context.Context, id commission.DealID) (*commission.Deal, error) {
	return s.base().GetDeal(ctx, id)
}
func (s *Store) SaveDeal(ctx context.Context, d commission.Deal) error {
	return s.base().SaveDeal(ctx, d)
}
func (s *Store) ListDeals(ctx context.Context) ([]commission.Deal, error) {
	return s.base().ListDeals(ctx)
}
func (s *Store) GetPerson(ctx context.Context, id commission.PersonID) (*commission.Person, error) {
	return s.base().GetPerson(ctx, id)
}
func (s *Store) SavePerson(ctx context.Context, p commission.Person) error {
	return s.base().SavePerson(ctx, p)
}
func (s *Store) ListPeople(ctx context.Context) ([]commission.Person, error) {
	return s.base().ListPeople(ctx)
}
func (s *Store) GetPlan(ctx context.Context, id commission.PayPlanID) (*commission.PayPlan, error) {
	return s.base().GetPlan(ctx, id)
}
func (s *Store) SavePlan(ctx context.Context, p commission.PayPlan) error {
	return s.base().SavePlan(ctx, p)
}
func (s *Store) ListPlans(ctx context.Context) ([]commission.PayPlan, error) {
	return s.base().ListPlans(ctx)
}
func (s *Store) SaveAssignment(ctx context.Context, a commission.PlanAssignment) error {
	return s.base().SaveAssignment(ctx, a)
}
func (s *Store) AssignmentsForPerson(ctx context.Context, id commission.PersonID) ([]commission.PlanAssignment, error) {
	return s.base().AssignmentsForPerson(ctx, id)
}
func (s *Store) SaveRule(ctx context.Context, r commission.CommissionRule) error {
	return s.base().SaveRule(ctx, r)
}
func (s *Store) RulesForPlan(ctx context.Context, id commission.PayPlanID) ([]commission.CommissionRule, error) {
	return s.base().RulesForPlan(ctx, id)
}
func (s *Store) AppendSnapshot(ctx context.Context, snap commission.OrgSnapshot) error {
	return s.base().AppendSnapshot(ctx, snap)
}
func (s *Store) GetSnapshot(ctx context.Context, id commission.SnapshotID) (*commission.OrgSnapshot, error) {
	return s.base().GetSnapshot(ctx, id)
}
func (s *Store) CommissionsForDeal(ctx context.Context, id commission.DealID) ([]commission.Commission, error) {
	return s.base().CommissionsForDeal(ctx, id)
}
func (s *Store) InsertCommissions(ctx context.Context, rows []commission.Commission) error {
	return s.base().InsertCommissions(ctx, rows)
}
func (s *Store) DeleteCommissions(ctx context.Context, ids []commission.CommissionID) error {
	return s.base().DeleteCommissions(ctx, ids)
}

// =============================================================================
// DEALS
// =============================================================================

func (c *conn) SaveDeal(ctx context.Context, d commission.Deal) error {
	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO deals (id, setter_id, closer_id, office_id, deal_type, deal_value,
			system_size_kw, self_gen, close_date, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			setter_id = excluded.setter_id,
			closer_id = excluded.closer_id,
			office_id = excluded.office_id,
			deal_type = excluded.deal_type,
			deal_value = excluded.deal_value,
			system_size_kw = excluded.system_size_kw,
			self_gen = excluded.self_gen,
			close_date = excluded.close_date,
			status = excluded.status`,
		d.ID, d.SetterID, d.CloserID, d.OfficeID, d.Type,
		d.Value.String(), d.SystemSizeKW.String(), d.SelfGen,
		formatTime(d.CloseDate), d.Status, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save deal: %w", err)
	}
	return nil
}

func (c *conn) GetDeal(ctx context.Context, id commission.DealID) (*commission.Deal, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, setter_id, closer_id, office_id, deal_type, deal_value,
			system_size_kw, self_gen, close_date, status, created_at
		FROM deals WHERE id = ?`, id)
	return scanDeal(row)
}

func (c *conn) ListDeals(ctx context.Context) ([]commission.Deal, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, setter_id, closer_id, office_id, deal_type, deal_value,
			system_size_kw, self_gen, close_date, status, created_at
		FROM deals ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDeal(r rowScanner) (*commission.Deal, error) {
	var (
		d                            commission.Deal
		office                       sql.NullString
		value, sizeKW, closeDate, at string
	)
	err := r.Scan(&d.ID, &d.SetterID, &d.CloserID, &office, &d.Type,
		&value, &sizeKW, &d.SelfGen, &closeDate, &d.Status, &at)
	if err == sql.ErrNoRows {
		return nil, commission.ErrDealNotFound
	}
	if err != nil {
		return nil, err
	}
	d.OfficeID = commission.OfficeID(office.String)
	d.Value, _ = decimal.NewFromString(value)
	d.SystemSizeKW, _ = decimal.NewFromString(sizeKW)
	d.CloseDate = parseTime(closeDate)
	d.CreatedAt = parseTime(at)
	return &d, nil
}

// =============================================================================
// PEOPLE
// =============================================================================

func (c *conn) SavePerson(ctx context.Context, p commission.Person) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var reportsTo sql.NullString
	if p.ReportsTo != nil {
		reportsTo = sql.NullString{String: string(*p.ReportsTo), Valid: true}
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO people (id, name, reports_to, role_id, office_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			reports_to = excluded.reports_to,
			role_id = excluded.role_id,
			office_id = excluded.office_id`,
		p.ID, p.Name, reportsTo, p.RoleID, p.OfficeID, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save person: %w", err)
	}
	return nil
}

func (c *conn) GetPerson(ctx context.Context, id commission.PersonID) (*commission.Person, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, name, reports_to, role_id, office_id, created_at
		FROM people WHERE id = ?`, id)
	return scanPerson(row)
}

func (c *conn) ListPeople(ctx context.Context) ([]commission.Person, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, name, reports_to, role_id, office_id, created_at
		FROM people ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanPerson(r rowScanner) (*commission.Person, error) {
	var (
		p                 commission.Person
		reportsTo, office sql.NullString
		at                string
	)
	err := r.Scan(&p.ID, &p.Name, &reportsTo, &p.RoleID, &office, &at)
	if err == sql.ErrNoRows {
		return nil, commission.ErrPersonNotFound
	}
	if err != nil {
		return nil, err
	}
	if reportsTo.Valid {
		mgr := commission.PersonID(reportsTo.String)
		p.ReportsTo = &mgr
	}
	p.OfficeID = commission.OfficeID(office.String)
	p.CreatedAt = parseTime(at)
	return &p, nil
}

// =============================================================================
// PAY PLANS, ASSIGNMENTS, RULES
// =============================================================================

func (c *conn) SavePlan(ctx context.Context, p commission.PayPlan) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO pay_plans (id, name, is_active, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, is_active = excluded.is_active`,
		p.ID, p.Name, p.Active, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save pay plan: %w", err)
	}
	return nil
}

func (c *conn) GetPlan(ctx context.Context, id commission.PayPlanID) (*commission.PayPlan, error) {
	var (
		p  commission.PayPlan
		at string
	)
	err := c.q.QueryRowContext(ctx,
		`SELECT id, name, is_active, created_at FROM pay_plans WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Active, &at)
	if err == sql.ErrNoRows {
		return nil, commission.ErrPlanNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(at)
	return &p, nil
}

func (c *conn) ListPlans(ctx context.Context) ([]commission.PayPlan, error) {
	rows, err := c.q.QueryContext(ctx,
		`SELECT id, name, is_active, created_at FROM pay_plans ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.PayPlan
	for rows.Next() {
		var (
			p  commission.PayPlan
			at string
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Active, &at); err != nil {
			return nil, err
		}
		p.CreatedAt = parseTime(at)
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveAssignment rejects ranges that overlap an existing assignment for
// the same person. Enforcing the invariant here keeps the resolver total.
func (c *conn) SaveAssignment(ctx context.Context, a commission.PlanAssignment) error {
	existing, err := c.AssignmentsForPerson(ctx, a.PersonID)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.ID == a.ID {
			continue
		}
		if e.Overlaps(a) {
			return &commission.OverlappingAssignmentError{PersonID: a.PersonID, ExistingID: e.ID}
		}
	}

	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var endDate sql.NullString
	if a.EndDate != nil {
		endDate = sql.NullString{String: formatTime(*a.EndDate), Valid: true}
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO plan_assignments (id, person_id, pay_plan_id, effective_date, end_date, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			pay_plan_id = excluded.pay_plan_id,
			effective_date = excluded.effective_date,
			end_date = excluded.end_date`,
		a.ID, a.PersonID, a.PayPlanID, formatTime(a.EffectiveDate), endDate, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return nil
}

func (c *conn) AssignmentsForPerson(ctx context.Context, id commission.PersonID) ([]commission.PlanAssignment, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, person_id, pay_plan_id, effective_date, end_date, created_at
		FROM plan_assignments WHERE person_id = ? ORDER BY effective_date`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.PlanAssignment
	for rows.Next() {
		var (
			a             commission.PlanAssignment
			effective, at string
			end           sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.PersonID, &a.PayPlanID, &effective, &end, &at); err != nil {
			return nil, err
		}
		a.EffectiveDate = parseTime(effective)
		if end.Valid {
			t := parseTime(end.String)
			a.EndDate = &t
		}
		a.CreatedAt = parseTime(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (c *conn) SaveRule(ctx context.Context, r commission.CommissionRule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var (
		role, source sql.NullString
		level        sql.NullInt64
		dealTypes    sql.NullString
	)
	if r.AppliesToRole != nil {
		role = sql.NullString{String: string(*r.AppliesToRole), Valid: true}
	}
	if r.OverrideSource != nil {
		source = sql.NullString{String: string(*r.OverrideSource), Valid: true}
	}
	if r.OverrideLevel != nil {
		level = sql.NullInt64{Int64: int64(*r.OverrideLevel), Valid: true}
	}
	if len(r.DealTypes) > 0 {
		b, err := json.Marshal(r.DealTypes)
		if err != nil {
			return err
		}
		dealTypes = sql.NullString{String: string(b), Valid: true}
	}

	_, err := c.q.ExecContext(ctx, `
		INSERT INTO commission_rules (id, pay_plan_id, rule_type, calc_method, amount,
			applies_to_role, override_level, override_source, deal_types_json,
			sort_order, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			calc_method = excluded.calc_method,
			amount = excluded.amount,
			applies_to_role = excluded.applies_to_role,
			override_level = excluded.override_level,
			override_source = excluded.override_source,
			deal_types_json = excluded.deal_types_json,
			sort_order = excluded.sort_order,
			is_active = excluded.is_active`,
		r.ID, r.PayPlanID, r.Type, r.Method, r.Amount.String(),
		role, level, source, dealTypes, r.SortOrder, r.Active, formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}
	return nil
}

func (c *conn) RulesForPlan(ctx context.Context, id commission.PayPlanID) ([]commission.CommissionRule, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, pay_plan_id, rule_type, calc_method, amount, applies_to_role,
			override_level, override_source, deal_types_json, sort_order, is_active, created_at
		FROM commission_rules WHERE pay_plan_id = ? ORDER BY sort_order, created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.CommissionRule
	for rows.Next() {
		var (
			r                       commission.CommissionRule
			amount, at              string
			role, source, dealTypes sql.NullString
			level                   sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.PayPlanID, &r.Type, &r.Method, &amount,
			&role, &level, &source, &dealTypes, &r.SortOrder, &r.Active, &at); err != nil {
			return nil, err
		}
		r.Amount, _ = decimal.NewFromString(amount)
		if role.Valid {
			v := commission.RoleID(role.String)
			r.AppliesToRole = &v
		}
		if level.Valid {
			v := int(level.Int64)
			r.OverrideLevel = &v
		}
		if source.Valid {
			v := commission.OverrideSource(source.String)
			r.OverrideSource = &v
		}
		if dealTypes.Valid {
			if err := json.Unmarshal([]byte(dealTypes.String), &r.DealTypes); err != nil {
				return nil, fmt.Errorf("corrupt deal_types_json on rule %s: %w", r.ID, err)
			}
		}
		r.CreatedAt = parseTime(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// ORG SNAPSHOTS (append-only)
// =============================================================================

func (c *conn) AppendSnapshot(ctx context.Context, snap commission.OrgSnapshot) error {
	chain, err := json.Marshal(snap.Chain)
	if err != nil {
		return err
	}
	_, err = c.q.ExecContext(ctx, `
		INSERT INTO org_snapshots (id, root_person_id, chain_json, captured_at)
		VALUES (?, ?, ?, ?)`,
		snap.ID, snap.RootPersonID, string(chain), formatTime(snap.CapturedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append snapshot: %w", err)
	}
	return nil
}

func (c *conn) GetSnapshot(ctx context.Context, id commission.SnapshotID) (*commission.OrgSnapshot, error) {
	var (
		snap       commission.OrgSnapshot
		chainJSON  string
		capturedAt string
	)
	err := c.q.QueryRowContext(ctx,
		`SELECT id, root_person_id, chain_json, captured_at FROM org_snapshots WHERE id = ?`, id).
		Scan(&snap.ID, &snap.RootPersonID, &chainJSON, &capturedAt)
	if err == sql.ErrNoRows {
		return nil, commission.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(chainJSON), &snap.Chain); err != nil {
		return nil, fmt.Errorf("corrupt chain_json on snapshot %s: %w", snap.ID, err)
	}
	snap.CapturedAt = parseTime(capturedAt)
	return &snap, nil
}

// =============================================================================
// COMMISSIONS
// =============================================================================

func (c *conn) InsertCommissions(ctx context.Context, rows []commission.Commission) error {
	for _, row := range rows {
		details, err := json.Marshal(row.Details)
		if err != nil {
			return err
		}
		var reason, paidAt sql.NullString
		if row.StatusReason != nil {
			reason = sql.NullString{String: *row.StatusReason, Valid: true}
		}
		if row.PaidAt != nil {
			paidAt = sql.NullString{String: formatTime(*row.PaidAt), Valid: true}
		}
		_, err = c.q.ExecContext(ctx, `
			INSERT INTO commissions (id, deal_id, person_id, commission_type, amount,
				status, pay_plan_id, rule_id, calc_details_json, status_reason,
				paid_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.ID, row.DealID, row.PersonID, row.Type, row.Amount.String(),
			row.Status, row.PayPlanID, row.RuleID, string(details), reason,
			paidAt, formatTime(row.CreatedAt), formatTime(row.UpdatedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert commission: %w", err)
		}
	}
	return nil
}

func (c *conn) DeleteCommissions(ctx context.Context, ids []commission.CommissionID) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	// Guard clause: protected rows must never be deleted, even if a bug
	// upstream hands us their IDs.
	query := `DELETE FROM commissions WHERE id IN (` + placeholders + `)
		AND status IN ('pending', 'held')`
	if _, err := c.q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete commissions: %w", err)
	}
	return nil
}

func (c *conn) CommissionsForDeal(ctx context.Context, id commission.DealID) ([]commission.Commission, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, deal_id, person_id, commission_type, amount, status, pay_plan_id,
			rule_id, calc_details_json, status_reason, paid_at, created_at, updated_at
		FROM commissions WHERE deal_id = ? ORDER BY created_at, id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []commission.Commission
	for rows.Next() {
		var (
			row                     commission.Commission
			amount, details, ca, ua string
			reason, paidAt          sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.DealID, &row.PersonID, &row.Type, &amount,
			&row.Status, &row.PayPlanID, &row.RuleID, &details, &reason, &paidAt, &ca, &ua); err != nil {
			return nil, err
		}
		row.Amount, _ = decimal.NewFromString(amount)
		if err := json.Unmarshal([]byte(details), &row.Details); err != nil {
			return nil, fmt.Errorf("corrupt calc_details_json on commission %s: %w", row.ID, err)
		}
		if reason.Valid {
			row.StatusReason = &reason.String
		}
		if paidAt.Valid {
			t := parseTime(paidAt.String)
			row.PaidAt = &t
		}
		row.CreatedAt = parseTime(ca)
		row.UpdatedAt = parseTime(ua)
		out = append(out, row)
	}
	return out, rows.Err()
}

// UpdateCommissionStatus flips a row's status. The approval workflow owns
// status transitions; this exists for that workflow and for seeding.
func (s *Store) UpdateCommissionStatus(ctx context.Context, id commission.CommissionID, status commission.CommissionStatus, reason *string) error {
	var r sql.NullString
	if reason != nil {
		r = sql.NullString{String: *reason, Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE commissions SET status = ?, status_reason = ?, updated_at = ? WHERE id = ?`,
		status, r, formatTime(time.Now().UTC()), id)
	if err != nil {
		return fmt.Errorf("failed to update commission status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return commission.ErrCommissionNotFound
	}
	return nil
}

// =============================================================================
// DEAL LOCKS - In-process advisory locks keyed by deal
// =============================================================================

func (s *Store) AcquireDealLock(ctx context.Context, id commission.DealID) (func(), error) {
	return s.locks.acquire(ctx, id)
}

type dealLocks struct {
	mu   sync.Mutex
	held map[commission.DealID]chan struct{}
}

func newDealLocks() *dealLocks {
	return &dealLocks{held: make(map[commission.DealID]chan struct{})}
}

func (l *dealLocks) acquire(ctx context.Context, id commission.DealID) (func(), error) {
	for {
		l.mu.Lock()
		waiter, occupied := l.held[id]
		if !occupied {
			ch := make(chan struct{})
			l.held[id] = ch
			l.mu.Unlock()

			var once sync.Once
			release := func() {
				once.Do(func() {
					l.mu.Lock()
					delete(l.held, id)
					l.mu.Unlock()
					close(ch)
				})
			}
			return release, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, commission.ErrConcurrentRecalculation
		case <-waiter:
		}
	}
}

// =============================================================================
// ACTIVITY LOG
// =============================================================================

func (s *Store) AppendActivity(ctx context.Context, e commission.ActivityEntry) error {
	var details sql.NullString
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		details = sql.NullString{String: string(b), Valid: true}
	}
	var actor sql.NullString
	if e.ActorID != nil {
		actor = sql.NullString{String: *e.ActorID, Valid: true}
	}
	// The deal reference rides in the details map; denormalized into its
	// own indexed column so the per-deal trail is a plain lookup.
	var dealID sql.NullString
	if v, ok := e.Details["deal_id"].(string); ok {
		dealID = sql.NullString{String: v, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity_log (id, at, entity_type, entity_id, action, details_json, actor_id, deal_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.At), e.EntityType, e.EntityID, e.Action, details, actor, dealID,
	)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

func (s *Store) ActivityForEntity(ctx context.Context, entityType, entityID string) ([]commission.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, entity_type, entity_id, action, details_json, actor_id
		FROM activity_log WHERE entity_type = ? AND entity_id = ? ORDER BY at, id`,
		entityType, entityID)
	if err != nil {
		return nil, err
	}
	return scanActivity(rows)
}

func (s *Store) ActivityForDeal(ctx context.Context, id commission.DealID) ([]commission.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, at, entity_type, entity_id, action, details_json, actor_id
		FROM activity_log WHERE deal_id = ? ORDER BY at, id`,
		string(id))
	if err != nil {
		return nil, err
	}
	return scanActivity(rows)
}

func scanActivity(rows *sql.Rows) ([]commission.ActivityEntry, error) {
	defer rows.Close()

	var out []commission.ActivityEntry
	for rows.Next() {
		var (
			e              commission.ActivityEntry
			at             string
			details, actor sql.NullString
		)
		if err := rows.Scan(&e.ID, &at, &e.EntityType, &e.EntityID, &e.Action, &details, &actor); err != nil {
			return nil, err
		}
		e.At = parseTime(at)
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, err
			}
		}
		if actor.Valid {
			e.ActorID = &actor.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all tables. Dev and scenario loading only.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"commissions", "org_snapshots", "activity_log",
		"commission_rules", "plan_assignments", "pay_plans",
		"deals", "people",
	}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("failed to reset %s: %w", t, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
