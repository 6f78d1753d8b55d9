// Package repository содержит реализации хранилища: PostgreSQL и в памяти.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/warranty-desk/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// querier: общее подмножество пула и транзакции.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		if !isRetryable(err) || i == len(delays) {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delays[i]):
		}
	}
	return err
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// CreateCustomer создаёт клиента и возвращает его идентификатор.
func (r *PostgresRepository) CreateCustomer(ctx context.Context, c model.Customer) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO customers (name, email, phone, address) VALUES ($1, $2, $3, $4) RETURNING id`,
		c.Name, c.Email, c.Phone, c.Address,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrCustomerExists, c.Email)
		}
		return 0, fmt.Errorf("create customer: %w", err)
	}
	return id, nil
}

const customerColumns = `id, name, email, phone, address, created_at`

func scanCustomer(row pgx.Row) (*model.Customer, error) {
	var c model.Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Address, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, fmt.Errorf("scan customer: %w", err)
	}
	return &c, nil
}

// GetCustomer возвращает клиента по идентификатору.
func (r *PostgresRepository) GetCustomer(ctx context.Context, id int64) (*model.Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
}

// GetCustomerByEmail возвращает клиента по e-mail без учёта регистра.
func (r *PostgresRepository) GetCustomerByEmail(ctx context.Context, email string) (*model.Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE lower(email) = lower($1)`, email))
}

// CreateVehicle регистрирует автомобиль клиента.
func (r *PostgresRepository) CreateVehicle(ctx context.Context, v model.Vehicle) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO vehicles (registration, customer_id, model, purchase_date, odometer_km, accident_history, odometer_tampered)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.Registration, v.CustomerID, v.Model, v.PurchaseDate, v.Odometer, v.AccidentHistory, v.OdometerTampered,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrVehicleExists, v.Registration)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return ErrCustomerNotFound
		}
		return fmt.Errorf("create vehicle: %w", err)
	}
	return nil
}

const vehicleColumns = `registration, customer_id, model, purchase_date, odometer_km, accident_history, odometer_tampered`

func scanVehicle(row pgx.Row) (*model.Vehicle, error) {
	var v model.Vehicle
	err := row.Scan(&v.Registration, &v.CustomerID, &v.Model, &v.PurchaseDate, &v.Odometer, &v.AccidentHistory, &v.OdometerTampered)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVehicleNotFound
		}
		return nil, fmt.Errorf("scan vehicle: %w", err)
	}
	v.PurchaseDate = v.PurchaseDate.UTC()
	return &v, nil
}

// GetVehicle возвращает автомобиль по регистрационному номеру.
func (r *PostgresRepository) GetVehicle(ctx context.Context, registration string) (*model.Vehicle, error) {
	return scanVehicle(r.pool.QueryRow(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles WHERE registration = $1`, registration))
}

// GetVehiclesByCustomer возвращает автомобили клиента.
func (r *PostgresRepository) GetVehiclesByCustomer(ctx context.Context, customerID int64) ([]model.Vehicle, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles WHERE customer_id = $1 ORDER BY created_at, registration`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select vehicles: %w", err)
	}
	defer rows.Close()

	var res []model.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetVehicleSnapshot возвращает автомобиль вместе с владельцем, планами и претензиями.
func (r *PostgresRepository) GetVehicleSnapshot(ctx context.Context, registration string) (*VehicleSnapshot, error) {
	return loadSnapshot(ctx, r.pool, registration, false)
}

func loadSnapshot(ctx context.Context, q querier, registration string, lock bool) (*VehicleSnapshot, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE registration = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	v, err := scanVehicle(q.QueryRow(ctx, query, registration))
	if err != nil {
		return nil, err
	}

	owner, err := scanCustomer(q.QueryRow(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`, v.CustomerID))
	if err != nil {
		return nil, err
	}

	snap := &VehicleSnapshot{Vehicle: *v, Owner: *owner}
	if snap.Warranties, err = selectWarranties(ctx, q, registration); err != nil {
		return nil, err
	}
	if snap.CCPs, err = selectCCPs(ctx, q, registration); err != nil {
		return nil, err
	}
	if snap.Claims, err = selectClaims(ctx, q, `WHERE registration = $1`, registration); err != nil {
		return nil, err
	}
	return snap, nil
}

func selectWarranties(ctx context.Context, q querier, registration string) ([]model.ExtendedWarranty, error) {
	rows, err := q.Query(ctx,
		`SELECT id, registration, tier_years, purchase_date, price, status, cancelled_at, refund
		 FROM extended_warranties WHERE registration = $1 ORDER BY id`,
		registration,
	)
	if err != nil {
		return nil, fmt.Errorf("select extended warranties: %w", err)
	}
	defer rows.Close()

	var res []model.ExtendedWarranty
	for rows.Next() {
		var (
			w             model.ExtendedWarranty
			status        string
			price, refund int64
		)
		if err := rows.Scan(&w.ID, &w.Registration, &w.TierYears, &w.PurchaseDate, &price, &status, &w.CancelledAt, &refund); err != nil {
			return nil, fmt.Errorf("scan extended warranty: %w", err)
		}
		w.Status = model.PlanStatus(status)
		w.Price, w.Refund = model.Money(price), model.Money(refund)
		w.PurchaseDate = w.PurchaseDate.UTC()
		res = append(res, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func selectCCPs(ctx context.Context, q querier, registration string) ([]model.CCPPackage, error) {
	rows, err := q.Query(ctx,
		`SELECT id, registration, tier_years, purchase_date, odometer_at_purchase, price, status, cancelled_at, refund
		 FROM ccp_packages WHERE registration = $1 ORDER BY id`,
		registration,
	)
	if err != nil {
		return nil, fmt.Errorf("select ccp packages: %w", err)
	}
	defer rows.Close()

	var res []model.CCPPackage
	for rows.Next() {
		var (
			p             model.CCPPackage
			status        string
			price, refund int64
		)
		if err := rows.Scan(&p.ID, &p.Registration, &p.TierYears, &p.PurchaseDate, &p.OdometerAtPurchase, &price, &status, &p.CancelledAt, &refund); err != nil {
			return nil, fmt.Errorf("scan ccp package: %w", err)
		}
		p.Status = model.PlanStatus(status)
		p.Price, p.Refund = model.Money(price), model.Money(refund)
		p.PurchaseDate = p.PurchaseDate.UTC()
		res = append(res, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

const claimColumns = `id, registration, damage_type, description, service_center, incident_at, reported_at,
	amount, status, reject_reason, created_at, updated_at`

func scanClaim(row pgx.Row) (*model.Claim, error) {
	var (
		c              model.Claim
		damage, status string
		amount         int64
	)
	err := row.Scan(&c.ID, &c.Registration, &damage, &c.Description, &c.ServiceCenter, &c.IncidentAt, &c.ReportedAt,
		&amount, &status, &c.RejectReason, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClaimNotFound
		}
		return nil, fmt.Errorf("scan claim: %w", err)
	}
	c.DamageType = model.DamageType(damage)
	c.Status = model.ClaimStatus(status)
	c.Amount = model.Money(amount)
	c.IncidentAt, c.ReportedAt = c.IncidentAt.UTC(), c.ReportedAt.UTC()
	c.CreatedAt, c.UpdatedAt = c.CreatedAt.UTC(), c.UpdatedAt.UTC()
	return &c, nil
}

func selectClaims(ctx context.Context, q querier, where string, args ...any) ([]model.Claim, error) {
	rows, err := q.Query(ctx, `SELECT `+claimColumns+` FROM claims `+where+` ORDER BY reported_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("select claims: %w", err)
	}
	defer rows.Close()

	var res []model.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// UpdateVehicle блокирует строку автомобиля, вызывает fn на согласованном снимке и
// применяет возвращённые изменения в той же транзакции. Параллельные вызовы для
// одного номера выполняются строго по очереди.
func (r *PostgresRepository) UpdateVehicle(ctx context.Context, registration string, fn MutateFunc) (*Applied, error) {
	var applied *Applied
	err := r.withRetry(ctx, func() error {
		var err error
		applied, err = r.updateVehicle(ctx, registration, fn)
		return err
	})
	return applied, err
}

func (r *PostgresRepository) updateVehicle(ctx context.Context, registration string, fn MutateFunc) (*Applied, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	snap, err := loadSnapshot(ctx, tx, registration, true)
	if err != nil {
		return nil, err
	}

	m, err := fn(snap)
	if err != nil {
		return nil, err
	}

	applied := &Applied{}
	if m != nil {
		if err := applyMutation(ctx, tx, snap, m, applied); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return applied, nil
}

func applyMutation(ctx context.Context, tx pgx.Tx, snap *VehicleSnapshot, m *Mutation, applied *Applied) error {
	reg := snap.Vehicle.Registration

	if m.Odometer != nil {
		if *m.Odometer < snap.Vehicle.Odometer {
			return ErrOdometerDecrease
		}
		if _, err := tx.Exec(ctx, `UPDATE vehicles SET odometer_km = $2 WHERE registration = $1`, reg, *m.Odometer); err != nil {
			return fmt.Errorf("update odometer: %w", err)
		}
	}

	for _, w := range m.UpdateWarranties {
		if _, err := tx.Exec(ctx,
			`UPDATE extended_warranties SET status = $2, cancelled_at = $3, refund = $4 WHERE id = $1`,
			w.ID, string(w.Status), w.CancelledAt, int64(w.Refund),
		); err != nil {
			return fmt.Errorf("update extended warranty: %w", err)
		}
	}

	for _, p := range m.UpdateCCPs {
		if _, err := tx.Exec(ctx,
			`UPDATE ccp_packages SET status = $2, cancelled_at = $3, refund = $4 WHERE id = $1`,
			p.ID, string(p.Status), p.CancelledAt, int64(p.Refund),
		); err != nil {
			return fmt.Errorf("update ccp package: %w", err)
		}
	}

	for _, c := range m.UpdateClaims {
		if _, err := tx.Exec(ctx,
			`UPDATE claims SET status = $2, reject_reason = $3, updated_at = $4 WHERE id = $1`,
			c.ID, string(c.Status), c.RejectReason, c.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update claim: %w", err)
		}
	}

	if w := m.NewWarranty; w != nil {
		err := tx.QueryRow(ctx,
			`INSERT INTO extended_warranties (registration, tier_years, purchase_date, price, status)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			reg, w.TierYears, w.PurchaseDate, int64(w.Price), string(w.Status),
		).Scan(&applied.WarrantyID)
		if err != nil {
			return fmt.Errorf("insert extended warranty: %w", err)
		}
	}

	if p := m.NewCCP; p != nil {
		err := tx.QueryRow(ctx,
			`INSERT INTO ccp_packages (registration, tier_years, purchase_date, odometer_at_purchase, price, status)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			reg, p.TierYears, p.PurchaseDate, p.OdometerAtPurchase, int64(p.Price), string(p.Status),
		).Scan(&applied.CCPID)
		if err != nil {
			return fmt.Errorf("insert ccp package: %w", err)
		}
	}

	if m.NewClaim != nil {
		c := *m.NewClaim
		var seq int64
		if err := tx.QueryRow(ctx, `SELECT nextval('claim_seq')`).Scan(&seq); err != nil {
			return fmt.Errorf("next claim id: %w", err)
		}
		c.ID = model.ClaimReference(seq)
		c.Registration = reg
		_, err := tx.Exec(ctx,
			`INSERT INTO claims (`+claimColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			c.ID, c.Registration, string(c.DamageType), c.Description, c.ServiceCenter, c.IncidentAt, c.ReportedAt,
			int64(c.Amount), string(c.Status), c.RejectReason, c.CreatedAt, c.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert claim: %w", err)
		}
		applied.Claim = &c
	}

	return nil
}

// GetClaim возвращает претензию по номеру.
func (r *PostgresRepository) GetClaim(ctx context.Context, id string) (*model.Claim, error) {
	return scanClaim(r.pool.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1`, id))
}

// GetClaimsByCustomer возвращает претензии по всем автомобилям клиента.
func (r *PostgresRepository) GetClaimsByCustomer(ctx context.Context, customerID int64) ([]model.Claim, error) {
	return selectClaims(ctx, r.pool,
		`WHERE registration IN (SELECT registration FROM vehicles WHERE customer_id = $1)`, customerID)
}

// UpdateClaim блокирует претензию и сохраняет результат fn.
func (r *PostgresRepository) UpdateClaim(ctx context.Context, id string, fn func(model.Claim) (model.Claim, error)) (*model.Claim, error) {
	var updated *model.Claim
	err := r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		current, err := scanClaim(tx.QueryRow(ctx, `SELECT `+claimColumns+` FROM claims WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}

		next, err := fn(*current)
		if err != nil {
			return err
		}

		if _, err := tx.Exec(ctx,
			`UPDATE claims SET status = $2, reject_reason = $3, updated_at = $4 WHERE id = $1`,
			id, string(next.Status), next.RejectReason, next.UpdatedAt,
		); err != nil {
			return fmt.Errorf("update claim: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		updated = &next
		return nil
	})
	return updated, err
}

// ListServiceCenters возвращает сервисные центры города. Пустой город: все центры.
func (r *PostgresRepository) ListServiceCenters(ctx context.Context, city string) ([]model.ServiceCenter, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, city, address, phone, email FROM service_centers
		 WHERE $1 = '' OR city ILIKE '%' || $1 || '%'
		 ORDER BY city, name`,
		city,
	)
	if err != nil {
		return nil, fmt.Errorf("select service centers: %w", err)
	}
	defer rows.Close()

	var res []model.ServiceCenter
	for rows.Next() {
		var sc model.ServiceCenter
		if err := rows.Scan(&sc.Name, &sc.City, &sc.Address, &sc.Phone, &sc.Email); err != nil {
			return nil, fmt.Errorf("scan service center: %w", err)
		}
		res = append(res, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetServiceCenter возвращает сервисный центр по имени без учёта регистра.
func (r *PostgresRepository) GetServiceCenter(ctx context.Context, name string) (*model.ServiceCenter, error) {
	var sc model.ServiceCenter
	err := r.pool.QueryRow(ctx,
		`SELECT name, city, address, phone, email FROM service_centers WHERE lower(name) = lower($1)`,
		name,
	).Scan(&sc.Name, &sc.City, &sc.Address, &sc.Phone, &sc.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceCenterNotFound
		}
		return nil, fmt.Errorf("get service center: %w", err)
	}
	return &sc, nil
}

const appointmentColumns = `id, registration, customer_id, service_center, slot_at, service_type, status, notes, created_at, updated_at`

func scanAppointment(row pgx.Row) (*model.Appointment, error) {
	var (
		a      model.Appointment
		status string
	)
	err := row.Scan(&a.ID, &a.Registration, &a.CustomerID, &a.ServiceCenter, &a.SlotAt, &a.ServiceType, &status, &a.Notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("scan appointment: %w", err)
	}
	a.Status = model.AppointmentStatus(status)
	a.SlotAt = a.SlotAt.UTC()
	return &a, nil
}

// CreateAppointment сохраняет запись. Занятый слот возвращает ErrSlotTaken.
func (r *PostgresRepository) CreateAppointment(ctx context.Context, a model.Appointment) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO appointments (registration, customer_id, service_center, slot_at, service_type, status, notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8) RETURNING id`,
		a.Registration, a.CustomerID, a.ServiceCenter, a.SlotAt, a.ServiceType, string(a.Status), a.Notes, a.CreatedAt,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrSlotTaken
		}
		return 0, fmt.Errorf("create appointment: %w", err)
	}
	return id, nil
}

// GetAppointment возвращает запись по идентификатору.
func (r *PostgresRepository) GetAppointment(ctx context.Context, id int64) (*model.Appointment, error) {
	return scanAppointment(r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
}

// GetAppointmentsByCustomer возвращает записи клиента в порядке времени слота.
func (r *PostgresRepository) GetAppointmentsByCustomer(ctx context.Context, customerID int64) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE customer_id = $1 ORDER BY slot_at, id`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select appointments: %w", err)
	}
	defer rows.Close()

	var res []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// GetBookedSlots возвращает занятые слоты центра в интервале [from, to).
func (r *PostgresRepository) GetBookedSlots(ctx context.Context, center string, from, to time.Time) ([]time.Time, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT slot_at FROM appointments
		 WHERE service_center = $1 AND status = $2 AND slot_at >= $3 AND slot_at < $4
		 ORDER BY slot_at`,
		center, string(model.AppointmentBooked), from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("select booked slots: %w", err)
	}
	defer rows.Close()

	var res []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		res = append(res, at.UTC())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// UpdateAppointment блокирует запись и сохраняет результат fn.
func (r *PostgresRepository) UpdateAppointment(ctx context.Context, id int64, fn func(model.Appointment) (model.Appointment, error)) (*model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := scanAppointment(tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}

	next, err := fn(*current)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx,
		`UPDATE appointments SET slot_at = $2, status = $3, notes = $4, updated_at = $5 WHERE id = $1`,
		id, next.SlotAt, string(next.Status), next.Notes, next.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &next, nil
}

// EnqueueNotification сохраняет уведомление для повторной доставки.
func (r *PostgresRepository) EnqueueNotification(ctx context.Context, n model.Notification) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO notifications (id, kind, recipient, subject, payload, attempts, last_error, next_attempt_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		n.ID, n.Kind, n.Recipient, n.Subject, n.Payload, n.Attempts, n.LastError, nullTime(n.NextAttemptAt), n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

// DueNotifications возвращает неотправленные уведомления, срок повтора которых наступил.
func (r *PostgresRepository) DueNotifications(ctx context.Context, now time.Time, limit int) ([]model.Notification, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, kind, recipient, subject, payload, attempts, last_error, next_attempt_at, created_at
		 FROM notifications
		 WHERE sent_at IS NULL AND next_attempt_at IS NOT NULL AND next_attempt_at <= $1
		 ORDER BY next_attempt_at
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select due notifications: %w", err)
	}
	defer rows.Close()

	var res []model.Notification
	for rows.Next() {
		var (
			n    model.Notification
			next *time.Time
		)
		if err := rows.Scan(&n.ID, &n.Kind, &n.Recipient, &n.Subject, &n.Payload, &n.Attempts, &n.LastError, &next, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		if next != nil {
			n.NextAttemptAt = next.UTC()
		}
		res = append(res, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// MarkNotificationSent отмечает уведомление доставленным.
func (r *PostgresRepository) MarkNotificationSent(ctx context.Context, id string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET sent_at = $2, next_attempt_at = NULL WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

// MarkNotificationFailed сохраняет результат неудачной попытки. Нулевой next снимает
// уведомление с повторов.
func (r *PostgresRepository) MarkNotificationFailed(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE notifications SET attempts = $2, next_attempt_at = $3, last_error = $4 WHERE id = $1`,
		id, attempts, nullTime(next), lastErr)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
