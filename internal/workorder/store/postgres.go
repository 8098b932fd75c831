package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"limscore/internal/workorder/models"
	"limscore/pkg/domain"
	"limscore/pkg/platform/sentinel"
	txcontext "limscore/pkg/platform/tx"
)

// Postgres persists clients and orders. Line items and contacts are stored
// as JSONB: they are written once at order creation and read back whole, so
// relational decomposition buys nothing. Updates carry an optimistic version
// check; a zero-row update means someone else wrote first.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Postgres) execer(ctx context.Context) dbExecutor {
	if dbTx, ok := txcontext.From(ctx); ok {
		return dbTx
	}
	return s.db
}

const fkViolation = "23503"

func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case fkViolation:
			return sentinel.ErrNotFound
		case "23505":
			return sentinel.ErrDuplicate
		}
	}
	return err
}

func (s *Postgres) CreateClient(ctx context.Context, c *models.Client) error {
	contacts, err := json.Marshal(c.Contacts)
	if err != nil {
		return fmt.Errorf("marshal client contacts: %w", err)
	}
	c.Version = 1
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO clients (id, name, tax_id, address, phone, email, contacts, retired, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.UUID(c.ID), c.Name, c.TaxID, c.Address, c.Phone, c.Email, contacts, c.Retired, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert client: %w", mapPQError(err))
	}
	return nil
}

func (s *Postgres) GetClient(ctx context.Context, id domain.ClientID) (*models.Client, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, name, tax_id, address, phone, email, contacts, retired, version, created_at, updated_at
		FROM clients WHERE id = $1`, uuid.UUID(id))
	return scanClient(row)
}

func (s *Postgres) UpdateClient(ctx context.Context, c *models.Client) error {
	contacts, err := json.Marshal(c.Contacts)
	if err != nil {
		return fmt.Errorf("marshal client contacts: %w", err)
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE clients
		SET name = $2, tax_id = $3, address = $4, phone = $5, email = $6,
		    contacts = $7, retired = $8, version = version + 1, updated_at = $9
		WHERE id = $1 AND version = $10`,
		uuid.UUID(c.ID), c.Name, c.TaxID, c.Address, c.Phone, c.Email, contacts, c.Retired, c.UpdatedAt, c.Version,
	)
	if err != nil {
		return fmt.Errorf("update client: %w", mapPQError(err))
	}
	return s.checkVersionedUpdate(ctx, res, "client", c.ID.String(), `SELECT 1 FROM clients WHERE id = $1`, uuid.UUID(c.ID), func() { c.Version++ })
}

func (s *Postgres) CreateOrder(ctx context.Context, o *models.Order) error {
	samples, err := json.Marshal(o.Samples)
	if err != nil {
		return fmt.Errorf("marshal order samples: %w", err)
	}
	o.Version = 1
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO orders (id, client_id, salesperson, samples, tax_rate, discount_rate,
		                    currency_exponent, fee_before_tax, tax_amount, discount, fee_after_tax,
		                    status, receipt_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		uuid.UUID(o.ID), uuid.UUID(o.ClientID), o.Salesperson, samples,
		o.TaxRate, o.DiscountRate, o.CurrencyExponent,
		o.Totals.FeeBeforeTax, o.Totals.TaxAmount, o.Totals.Discount, o.Totals.FeeAfterTax,
		string(o.Status), nullableReceiptID(o.ReceiptID), o.Version, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", mapPQError(err))
	}
	return nil
}

func (s *Postgres) GetOrder(ctx context.Context, id domain.OrderID) (*models.Order, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, client_id, salesperson, samples, tax_rate, discount_rate,
		       currency_exponent, fee_before_tax, tax_amount, discount, fee_after_tax,
		       status, receipt_id, version, created_at, updated_at
		FROM orders WHERE id = $1`, uuid.UUID(id))
	return scanOrder(row)
}

func (s *Postgres) ListOrders(ctx context.Context, f OrderFilter) ([]*models.Order, error) {
	query := `
		SELECT id, client_id, salesperson, samples, tax_rate, discount_rate,
		       currency_exponent, fee_before_tax, tax_amount, discount, fee_after_tax,
		       status, receipt_id, version, created_at, updated_at
		FROM orders WHERE 1=1`
	args := []any{}
	if !f.ClientID.IsNil() {
		args = append(args, uuid.UUID(f.ClientID))
		query += fmt.Sprintf(" AND client_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at"

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var out []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateOrder(ctx context.Context, o *models.Order) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE orders
		SET status = $2, receipt_id = $3, version = version + 1, updated_at = $4
		WHERE id = $1 AND version = $5`,
		uuid.UUID(o.ID), string(o.Status), nullableReceiptID(o.ReceiptID), o.UpdatedAt, o.Version,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", mapPQError(err))
	}
	return s.checkVersionedUpdate(ctx, res, "order", o.ID.String(), `SELECT 1 FROM orders WHERE id = $1`, uuid.UUID(o.ID), func() { o.Version++ })
}

// checkVersionedUpdate distinguishes "row gone" from "version mismatch" when
// a guarded update touched zero rows.
func (s *Postgres) checkVersionedUpdate(ctx context.Context, res sql.Result, kind, id, existsQuery string, key any, bump func()) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s rows affected: %w", kind, err)
	}
	if n == 0 {
		var one int
		err := s.execer(ctx).QueryRowContext(ctx, existsQuery, key).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s %s: %w", kind, id, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check %s existence: %w", kind, err)
		}
		return fmt.Errorf("%s %s: %w", kind, id, sentinel.ErrConflict)
	}
	bump()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*models.Client, error) {
	var c models.Client
	var id uuid.UUID
	var contacts []byte
	err := row.Scan(&id, &c.Name, &c.TaxID, &c.Address, &c.Phone, &c.Email, &contacts, &c.Retired, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan client: %w", err)
	}
	c.ID = domain.ClientID(id)
	if len(contacts) > 0 {
		if err := json.Unmarshal(contacts, &c.Contacts); err != nil {
			return nil, fmt.Errorf("unmarshal client contacts: %w", err)
		}
	}
	return &c, nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var id, clientID uuid.UUID
	var samples []byte
	var status string
	var receiptID uuid.NullUUID
	var before, tax, discount, after decimal.Decimal
	err := row.Scan(&id, &clientID, &o.Salesperson, &samples, &o.TaxRate, &o.DiscountRate,
		&o.CurrencyExponent, &before, &tax, &discount, &after,
		&status, &receiptID, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	o.ID = domain.OrderID(id)
	o.ClientID = domain.ClientID(clientID)
	o.Status = models.OrderStatus(status)
	o.Totals = models.Totals{FeeBeforeTax: before, TaxAmount: tax, Discount: discount, FeeAfterTax: after}
	if receiptID.Valid {
		rid := domain.ReceiptID(receiptID.UUID)
		o.ReceiptID = &rid
	}
	if len(samples) > 0 {
		if err := json.Unmarshal(samples, &o.Samples); err != nil {
			return nil, fmt.Errorf("unmarshal order samples: %w", err)
		}
	}
	return &o, nil
}

func nullableReceiptID(id *domain.ReceiptID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*id), Valid: true}
}
