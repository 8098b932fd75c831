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

	"limscore/internal/lab/models"
	"limscore/pkg/domain"
	"limscore/pkg/platform/sentinel"
	txcontext "limscore/pkg/platform/tx"
)

// Postgres persists the lab aggregate. The analysis UPDATE deliberately
// never touches the snapshot columns (parameter, protocol, unit, thresholds,
// fees): once written at expansion they are immutable by construction.
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

func mapPQError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23503":
			return sentinel.ErrNotFound
		case "23505":
			return sentinel.ErrDuplicate
		}
	}
	return err
}

func (s *Postgres) NextReceiptNumber(ctx context.Context) (int, error) {
	var n int
	err := s.execer(ctx).QueryRowContext(ctx, `SELECT nextval('receipt_code_seq')`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("next receipt number: %w", err)
	}
	return n, nil
}

func (s *Postgres) CreateReceipt(ctx context.Context, r *models.Receipt) error {
	client, err := json.Marshal(r.Client)
	if err != nil {
		return fmt.Errorf("marshal client snapshot: %w", err)
	}
	r.Version = 1
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO receipts (id, code, order_id, client, received_at, deadline, priority,
		                      delivery_method, received_by, notes, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		uuid.UUID(r.ID), string(r.Code), nullableOrderID(r.OrderID), client,
		r.ReceivedAt, r.Deadline, string(r.Priority), r.DeliveryMethod, r.ReceivedBy,
		r.Notes, string(r.Status), r.Version, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert receipt: %w", mapPQError(err))
	}
	return nil
}

const receiptColumns = `id, code, order_id, client, received_at, deadline, priority,
       delivery_method, received_by, notes, status, version, created_at, updated_at`

func (s *Postgres) GetReceipt(ctx context.Context, id domain.ReceiptID) (*models.Receipt, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, uuid.UUID(id))
	return scanReceipt(row)
}

func (s *Postgres) GetReceiptByCode(ctx context.Context, code domain.ReceiptCode) (*models.Receipt, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+receiptColumns+` FROM receipts WHERE code = $1`, string(code))
	return scanReceipt(row)
}

func (s *Postgres) ListReceipts(ctx context.Context, f ReceiptFilter) ([]*models.Receipt, error) {
	query := `SELECT ` + receiptColumns + ` FROM receipts`
	args := []any{}
	if f.Status != "" {
		args = append(args, string(f.Status))
		query += ` WHERE status = $1`
	}
	query += ` ORDER BY code`

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var out []*models.Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateReceipt(ctx context.Context, r *models.Receipt) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE receipts
		SET deadline = $2, priority = $3, notes = $4, status = $5,
		    version = version + 1, updated_at = $6
		WHERE id = $1 AND version = $7`,
		uuid.UUID(r.ID), r.Deadline, string(r.Priority), r.Notes, string(r.Status), r.UpdatedAt, r.Version,
	)
	if err != nil {
		return fmt.Errorf("update receipt: %w", mapPQError(err))
	}
	return s.checkVersionedUpdate(ctx, res, "receipt", r.ID.String(), `SELECT 1 FROM receipts WHERE id = $1`, uuid.UUID(r.ID), func() { r.Version++ })
}

func (s *Postgres) CreateSample(ctx context.Context, sm *models.Sample) error {
	metadata, err := json.Marshal(sm.Metadata)
	if err != nil {
		return fmt.Errorf("marshal sample metadata: %w", err)
	}
	sm.Version = 1
	_, err = s.execer(ctx).ExecContext(ctx, `
		INSERT INTO samples (id, receipt_id, code, sample_type, description, volume, weight,
		                     physical_state, preservation, storage_location, kept_as_reference,
		                     metadata, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		uuid.UUID(sm.ID), uuid.UUID(sm.ReceiptID), string(sm.Code), sm.SampleType, sm.Description,
		sm.Volume, sm.Weight, sm.PhysicalState, sm.Preservation, sm.StorageLocation,
		sm.KeptAsReference, metadata, string(sm.Status), sm.Version, sm.CreatedAt, sm.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sample: %w", mapPQError(err))
	}
	return nil
}

const sampleColumns = `id, receipt_id, code, sample_type, description, volume, weight,
       physical_state, preservation, storage_location, kept_as_reference,
       metadata, status, version, created_at, updated_at`

func (s *Postgres) GetSample(ctx context.Context, id domain.SampleID) (*models.Sample, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+sampleColumns+` FROM samples WHERE id = $1`, uuid.UUID(id))
	return scanSample(row)
}

func (s *Postgres) ListSamplesByReceipt(ctx context.Context, receiptID domain.ReceiptID) ([]*models.Sample, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+sampleColumns+` FROM samples WHERE receipt_id = $1 ORDER BY code`, uuid.UUID(receiptID))
	if err != nil {
		return nil, fmt.Errorf("list samples: %w", err)
	}
	defer rows.Close()

	var out []*models.Sample
	for rows.Next() {
		sm, err := scanSample(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateSample(ctx context.Context, sm *models.Sample) error {
	metadata, err := json.Marshal(sm.Metadata)
	if err != nil {
		return fmt.Errorf("marshal sample metadata: %w", err)
	}
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE samples
		SET storage_location = $2, kept_as_reference = $3, metadata = $4, status = $5,
		    version = version + 1, updated_at = $6
		WHERE id = $1 AND version = $7`,
		uuid.UUID(sm.ID), sm.StorageLocation, sm.KeptAsReference, metadata, string(sm.Status), sm.UpdatedAt, sm.Version,
	)
	if err != nil {
		return fmt.Errorf("update sample: %w", mapPQError(err))
	}
	return s.checkVersionedUpdate(ctx, res, "sample", sm.ID.String(), `SELECT 1 FROM samples WHERE id = $1`, uuid.UUID(sm.ID), func() { sm.Version++ })
}

func (s *Postgres) CreateAnalysis(ctx context.Context, a *models.Analysis) error {
	a.Version = 1
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO analyses (id, sample_id, parameter, protocol_code, matrix_code, unit,
		                      threshold_min, threshold_max, fee, fee_after_tax,
		                      technician_id, technician_name, equipment, location,
		                      result_value, assessment, result_notes, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		uuid.UUID(a.ID), uuid.UUID(a.SampleID), a.Parameter, a.ProtocolCode, a.MatrixCode, a.Unit,
		nullableDecimal(a.ThresholdMin), nullableDecimal(a.ThresholdMax), a.Fee, a.FeeAfterTax,
		nullableActorID(a.TechnicianID), a.TechnicianName, a.Equipment, a.Location,
		nullableDecimal(a.ResultValue), string(a.Assessment), a.ResultNotes, string(a.Status),
		a.Version, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", mapPQError(err))
	}
	return nil
}

const analysisColumns = `id, sample_id, parameter, protocol_code, matrix_code, unit,
       threshold_min, threshold_max, fee, fee_after_tax,
       technician_id, technician_name, equipment, location,
       result_value, assessment, result_notes, status, version, created_at, updated_at`

func (s *Postgres) GetAnalysis(ctx context.Context, id domain.AnalysisID) (*models.Analysis, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, uuid.UUID(id))
	return scanAnalysis(row)
}

func (s *Postgres) ListAnalysesBySample(ctx context.Context, sampleID domain.SampleID) ([]*models.Analysis, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+analysisColumns+` FROM analyses WHERE sample_id = $1 ORDER BY parameter`, uuid.UUID(sampleID))
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []*models.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateAnalysis(ctx context.Context, a *models.Analysis) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE analyses
		SET technician_id = $2, technician_name = $3, equipment = $4, location = $5,
		    result_value = $6, assessment = $7, result_notes = $8, status = $9,
		    version = version + 1, updated_at = $10
		WHERE id = $1 AND version = $11`,
		uuid.UUID(a.ID), nullableActorID(a.TechnicianID), a.TechnicianName, a.Equipment, a.Location,
		nullableDecimal(a.ResultValue), string(a.Assessment), a.ResultNotes, string(a.Status),
		a.UpdatedAt, a.Version,
	)
	if err != nil {
		return fmt.Errorf("update analysis: %w", mapPQError(err))
	}
	return s.checkVersionedUpdate(ctx, res, "analysis", a.ID.String(), `SELECT 1 FROM analyses WHERE id = $1`, uuid.UUID(a.ID), func() { a.Version++ })
}

func (s *Postgres) CreateHandover(ctx context.Context, h models.Handover) error {
	ids := make([]uuid.UUID, len(h.AnalysisIDs))
	for i, id := range h.AnalysisIDs {
		ids[i] = uuid.UUID(id)
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO handovers (id, sample_id, from_actor, to_actor_id, to_actor, analysis_ids, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		h.ID, uuid.UUID(h.SampleID), h.FromActor, uuid.UUID(h.ToActorID), h.ToActor,
		pq.Array(ids), h.Notes, h.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert handover: %w", mapPQError(err))
	}
	return nil
}

func (s *Postgres) ListHandoversBySample(ctx context.Context, sampleID domain.SampleID) ([]models.Handover, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, sample_id, from_actor, to_actor_id, to_actor, analysis_ids, notes, created_at
		FROM handovers WHERE sample_id = $1 ORDER BY created_at`, uuid.UUID(sampleID))
	if err != nil {
		return nil, fmt.Errorf("list handovers: %w", err)
	}
	defer rows.Close()

	var out []models.Handover
	for rows.Next() {
		var h models.Handover
		var sid, toID uuid.UUID
		var ids []uuid.UUID
		if err := rows.Scan(&h.ID, &sid, &h.FromActor, &toID, &h.ToActor, pq.Array(&ids), &h.Notes, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan handover: %w", err)
		}
		h.SampleID = domain.SampleID(sid)
		h.ToActorID = domain.ActorID(toID)
		h.AnalysisIDs = make([]domain.AnalysisID, len(ids))
		for i, id := range ids {
			h.AnalysisIDs[i] = domain.AnalysisID(id)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

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

func scanReceipt(row rowScanner) (*models.Receipt, error) {
	var r models.Receipt
	var id uuid.UUID
	var code, priority, status string
	var orderID uuid.NullUUID
	var client []byte
	err := row.Scan(&id, &code, &orderID, &client, &r.ReceivedAt, &r.Deadline, &priority,
		&r.DeliveryMethod, &r.ReceivedBy, &r.Notes, &status, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("receipt: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan receipt: %w", err)
	}
	r.ID = domain.ReceiptID(id)
	r.Code = domain.ReceiptCode(code)
	r.Priority = models.Priority(priority)
	r.Status = models.ReceiptStatus(status)
	if orderID.Valid {
		oid := domain.OrderID(orderID.UUID)
		r.OrderID = &oid
	}
	if len(client) > 0 {
		if err := json.Unmarshal(client, &r.Client); err != nil {
			return nil, fmt.Errorf("unmarshal client snapshot: %w", err)
		}
	}
	return &r, nil
}

func scanSample(row rowScanner) (*models.Sample, error) {
	var sm models.Sample
	var id, receiptID uuid.UUID
	var code, status string
	var metadata []byte
	err := row.Scan(&id, &receiptID, &code, &sm.SampleType, &sm.Description, &sm.Volume, &sm.Weight,
		&sm.PhysicalState, &sm.Preservation, &sm.StorageLocation, &sm.KeptAsReference,
		&metadata, &status, &sm.Version, &sm.CreatedAt, &sm.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sample: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan sample: %w", err)
	}
	sm.ID = domain.SampleID(id)
	sm.ReceiptID = domain.ReceiptID(receiptID)
	sm.Code = domain.SampleCode(code)
	sm.Status = models.SampleStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &sm.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal sample metadata: %w", err)
		}
	}
	return &sm, nil
}

func scanAnalysis(row rowScanner) (*models.Analysis, error) {
	var a models.Analysis
	var id, sampleID uuid.UUID
	var technicianID uuid.NullUUID
	var assessment, status string
	var thresholdMin, thresholdMax, resultValue decimal.NullDecimal
	err := row.Scan(&id, &sampleID, &a.Parameter, &a.ProtocolCode, &a.MatrixCode, &a.Unit,
		&thresholdMin, &thresholdMax, &a.Fee, &a.FeeAfterTax,
		&technicianID, &a.TechnicianName, &a.Equipment, &a.Location,
		&resultValue, &assessment, &a.ResultNotes, &status, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("analysis: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan analysis: %w", err)
	}
	a.ID = domain.AnalysisID(id)
	a.SampleID = domain.SampleID(sampleID)
	a.Assessment = models.Assessment(assessment)
	a.Status = models.AnalysisStatus(status)
	if technicianID.Valid {
		tid := domain.ActorID(technicianID.UUID)
		a.TechnicianID = &tid
	}
	if thresholdMin.Valid {
		a.ThresholdMin = &thresholdMin.Decimal
	}
	if thresholdMax.Valid {
		a.ThresholdMax = &thresholdMax.Decimal
	}
	if resultValue.Valid {
		a.ResultValue = &resultValue.Decimal
	}
	return &a, nil
}

func nullableOrderID(id *domain.OrderID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*id), Valid: true}
}

func nullableActorID(id *domain.ActorID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*id), Valid: true}
}

func nullableDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
