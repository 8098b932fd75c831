package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"limscore/internal/catalog/models"
	"limscore/pkg/platform/sentinel"
	txcontext "limscore/pkg/platform/tx"
)

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

const matrixColumns = `id, parameter, sample_type, protocol_code, unit,
       detection_limit, threshold_min, threshold_max, price, active,
       version, created_at, updated_at`

func (s *Postgres) CreateMatrix(ctx context.Context, m *models.Matrix) error {
	m.Version = 1
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO matrices (id, parameter, sample_type, protocol_code, unit,
		                      detection_limit, threshold_min, threshold_max, price, active,
		                      version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.Parameter, m.SampleType, m.ProtocolCode, m.Unit,
		nullableDecimal(m.DetectionLimit), nullableDecimal(m.ThresholdMin), nullableDecimal(m.ThresholdMax),
		m.Price, m.Active, m.Version, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("matrix %s: %w", m.ID, sentinel.ErrDuplicate)
		}
		return fmt.Errorf("insert matrix: %w", err)
	}
	return nil
}

func (s *Postgres) GetMatrix(ctx context.Context, id string) (*models.Matrix, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+matrixColumns+` FROM matrices WHERE id = $1`, id)
	return scanMatrix(row)
}

func (s *Postgres) FindMatrix(ctx context.Context, parameter, sampleType string) (*models.Matrix, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+matrixColumns+` FROM matrices
		WHERE active AND lower(parameter) = lower($1) AND lower(sample_type) = lower($2)`,
		parameter, sampleType)
	return scanMatrix(row)
}

func (s *Postgres) ListMatrices(ctx context.Context, sampleType string) ([]*models.Matrix, error) {
	query := `SELECT ` + matrixColumns + ` FROM matrices`
	args := []any{}
	if sampleType != "" {
		args = append(args, sampleType)
		query += ` WHERE lower(sample_type) = lower($1)`
	}
	query += ` ORDER BY sample_type, parameter`

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list matrices: %w", err)
	}
	defer rows.Close()

	var out []*models.Matrix
	for rows.Next() {
		m, err := scanMatrix(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateMatrix(ctx context.Context, m *models.Matrix) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE matrices
		SET parameter = $2, sample_type = $3, protocol_code = $4, unit = $5,
		    detection_limit = $6, threshold_min = $7, threshold_max = $8,
		    price = $9, active = $10, version = version + 1, updated_at = $11
		WHERE id = $1 AND version = $12`,
		m.ID, m.Parameter, m.SampleType, m.ProtocolCode, m.Unit,
		nullableDecimal(m.DetectionLimit), nullableDecimal(m.ThresholdMin), nullableDecimal(m.ThresholdMax),
		m.Price, m.Active, m.UpdatedAt, m.Version,
	)
	if err != nil {
		return fmt.Errorf("update matrix: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update matrix rows affected: %w", err)
	}
	if n == 0 {
		var one int
		err := s.execer(ctx).QueryRowContext(ctx, `SELECT 1 FROM matrices WHERE id = $1`, m.ID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("matrix %s: %w", m.ID, sentinel.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check matrix existence: %w", err)
		}
		return fmt.Errorf("matrix %s: %w", m.ID, sentinel.ErrConflict)
	}
	m.Version++
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatrix(row rowScanner) (*models.Matrix, error) {
	var m models.Matrix
	var detectionLimit, thresholdMin, thresholdMax decimal.NullDecimal
	err := row.Scan(&m.ID, &m.Parameter, &m.SampleType, &m.ProtocolCode, &m.Unit,
		&detectionLimit, &thresholdMin, &thresholdMax, &m.Price, &m.Active,
		&m.Version, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("matrix: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan matrix: %w", err)
	}
	if detectionLimit.Valid {
		m.DetectionLimit = &detectionLimit.Decimal
	}
	if thresholdMin.Valid {
		m.ThresholdMin = &thresholdMin.Decimal
	}
	if thresholdMax.Valid {
		m.ThresholdMax = &thresholdMax.Decimal
	}
	return &m, nil
}

func nullableDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
