// Package service implements order intake: turning a confirmed order (or a
// walk-in request) into a receipt with expanded samples and pending analyses.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"limscore/internal/audit"
	catalogmodels "limscore/internal/catalog/models"
	labmodels "limscore/internal/lab/models"
	"limscore/internal/platform/metrics"
	workordermodels "limscore/internal/workorder/models"
	"limscore/pkg/domain"
	dErrors "limscore/pkg/domain-errors"
	"limscore/pkg/platform/sentinel"
	"limscore/pkg/platform/tx"
)

// OrderStore is the workorder-side slice intake needs.
type OrderStore interface {
	GetClient(ctx context.Context, id domain.ClientID) (*workordermodels.Client, error)
	GetOrder(ctx context.Context, id domain.OrderID) (*workordermodels.Order, error)
	UpdateOrder(ctx context.Context, o *workordermodels.Order) error
}

// LabStore is the lab-side slice intake writes to.
type LabStore interface {
	NextReceiptNumber(ctx context.Context) (int, error)
	CreateReceipt(ctx context.Context, r *labmodels.Receipt) error
	GetReceiptByCode(ctx context.Context, code domain.ReceiptCode) (*labmodels.Receipt, error)
	CreateSample(ctx context.Context, sm *labmodels.Sample) error
	ListSamplesByReceipt(ctx context.Context, receiptID domain.ReceiptID) ([]*labmodels.Sample, error)
	CreateAnalysis(ctx context.Context, a *labmodels.Analysis) error
	ListAnalysesBySample(ctx context.Context, sampleID domain.SampleID) ([]*labmodels.Analysis, error)
}

// Catalog resolves analysis templates for manual receipts.
type Catalog interface {
	FindMatrix(ctx context.Context, parameter, sampleType string) (*catalogmodels.Matrix, error)
}

// ReceiptMeta carries the intake-time fields reception fills in.
type ReceiptMeta struct {
	ReceivedAt     time.Time
	Deadline       time.Time
	Priority       labmodels.Priority
	DeliveryMethod string
	ReceivedBy     string
	Notes          string
}

// SampleSpec describes one walk-in specimen for a manual receipt.
type SampleSpec struct {
	Description     string
	SampleType      string
	Volume          string
	Weight          string
	PhysicalState   string
	Preservation    string
	Metadata        []labmodels.LabelValue
	Analyses        []AnalysisSpec
	KeptAsReference bool
}

// AnalysisSpec names one parameter to test. Fee overrides the catalog price
// when set.
type AnalysisSpec struct {
	Parameter string
	Fee       *decimal.Decimal
}

// ManualReceiptInput is a walk-in intake with no order behind it.
type ManualReceiptInput struct {
	Client           labmodels.ClientSnapshot
	Samples          []SampleSpec
	TaxRate          decimal.Decimal
	DiscountRate     decimal.Decimal
	CurrencyExponent int
	Meta             ReceiptMeta
}

// ExpandedReceipt is what intake hands back: the receipt plus everything it
// fanned out into.
type ExpandedReceipt struct {
	Receipt  *labmodels.Receipt
	Samples  []*labmodels.Sample
	Analyses []*labmodels.Analysis
}

type Service struct {
	orders  OrderStore
	lab     LabStore
	catalog Catalog
	auditor *audit.Publisher
	runner  tx.Runner
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewService(orders OrderStore, lab LabStore, catalog Catalog, auditor *audit.Publisher, runner tx.Runner, m *metrics.Metrics) *Service {
	return &Service{
		orders:  orders,
		lab:     lab,
		catalog: catalog,
		auditor: auditor,
		runner:  runner,
		metrics: m,
		now:     time.Now,
	}
}

// CreateReceiptFromOrder expands a confirmed order into a receipt. One
// transaction covers the receipt, every expanded sample and analysis, the
// order back-reference, and the audit rows; a conflict anywhere rolls the
// whole intake back.
func (s *Service) CreateReceiptFromOrder(ctx context.Context, actor domain.Actor, orderID domain.OrderID, meta ReceiptMeta) (*ExpandedReceipt, error) {
	if !actor.Can(domain.RoleReception) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only reception may create receipts")
	}

	var out *ExpandedReceipt
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		order, err := s.orders.GetOrder(ctx, orderID)
		if err != nil {
			return translate(err, "order")
		}
		client, err := s.orders.GetClient(ctx, order.ClientID)
		if err != nil {
			return translate(err, "client")
		}

		receipt, err := s.newReceipt(ctx, snapshotClient(client), meta)
		if err != nil {
			return err
		}
		receipt.OrderID = &order.ID

		if err := order.MarkReceipted(receipt.ID); err != nil {
			return err
		}

		if err := s.lab.CreateReceipt(ctx, receipt); err != nil {
			return translate(err, "receipt")
		}
		if err := s.orders.UpdateOrder(ctx, order); err != nil {
			return translate(err, "order")
		}

		samples, analyses, err := s.expandOrderSamples(ctx, receipt, order)
		if err != nil {
			return err
		}

		if err := s.emitReceiptCreated(ctx, actor, receipt, len(samples), len(analyses)); err != nil {
			return err
		}
		out = &ExpandedReceipt{Receipt: receipt, Samples: samples, Analyses: analyses}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncReceiptsCreated()
	return out, nil
}

// CreateManualReceipt handles walk-in intake with no order. Analysis
// templates are resolved from the catalog per parameter and sample type; a
// spec-level fee overrides the catalog price.
func (s *Service) CreateManualReceipt(ctx context.Context, actor domain.Actor, input ManualReceiptInput) (*ExpandedReceipt, error) {
	if !actor.Can(domain.RoleReception) {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "only reception may create receipts")
	}
	if strings.TrimSpace(input.Client.Name) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "client name is required")
	}
	if len(input.Samples) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "a receipt requires at least one sample")
	}
	for _, spec := range input.Samples {
		if len(spec.Analyses) == 0 {
			return nil, dErrors.New(dErrors.CodeValidation, "each sample requires at least one analysis")
		}
	}

	var out *ExpandedReceipt
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		receipt, err := s.newReceipt(ctx, input.Client, input.Meta)
		if err != nil {
			return err
		}
		if err := s.lab.CreateReceipt(ctx, receipt); err != nil {
			return translate(err, "receipt")
		}

		var samples []*labmodels.Sample
		var analyses []*labmodels.Analysis
		for i, spec := range input.Samples {
			sample, sampleAnalyses, err := s.expandSpec(ctx, receipt, spec, i+1, input.TaxRate, input.DiscountRate, input.CurrencyExponent)
			if err != nil {
				return err
			}
			samples = append(samples, sample)
			analyses = append(analyses, sampleAnalyses...)
		}

		if err := s.emitReceiptCreated(ctx, actor, receipt, len(samples), len(analyses)); err != nil {
			return err
		}
		out = &ExpandedReceipt{Receipt: receipt, Samples: samples, Analyses: analyses}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncReceiptsCreated()
	return out, nil
}

// DuplicateSample re-runs expansion for one existing sample under the same
// receipt: a fresh specimen with the same type and analysis set, new codes,
// everything back at the start of its lifecycle.
func (s *Service) DuplicateSample(ctx context.Context, actor domain.Actor, receiptCode domain.ReceiptCode, sampleCode domain.SampleCode) (*labmodels.Sample, []*labmodels.Analysis, error) {
	if !actor.Can(domain.RoleReception) {
		return nil, nil, dErrors.New(dErrors.CodeUnauthorized, "only reception may duplicate samples")
	}

	var outSample *labmodels.Sample
	var outAnalyses []*labmodels.Analysis
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		receipt, err := s.lab.GetReceiptByCode(ctx, receiptCode)
		if err != nil {
			return translate(err, "receipt")
		}
		if receipt.Status == labmodels.ReceiptStatusDone || receipt.Status == labmodels.ReceiptStatusCancelled {
			return dErrors.New(dErrors.CodeInvalidTransition,
				"cannot add samples to a "+string(receipt.Status)+" receipt")
		}

		existing, err := s.lab.ListSamplesByReceipt(ctx, receipt.ID)
		if err != nil {
			return translate(err, "samples")
		}
		var source *labmodels.Sample
		for _, sm := range existing {
			if sm.Code == sampleCode {
				source = sm
				break
			}
		}
		if source == nil {
			return dErrors.New(dErrors.CodeNotFound, "sample "+sampleCode.String()+" not found on receipt "+receiptCode.String())
		}

		sourceAnalyses, err := s.lab.ListAnalysesBySample(ctx, source.ID)
		if err != nil {
			return translate(err, "analyses")
		}

		now := s.now()
		dup := &labmodels.Sample{
			ID:              domain.SampleID(uuid.New()),
			ReceiptID:       receipt.ID,
			Code:            domain.NewSampleCode(receipt.Code, len(existing)+1),
			SampleType:      source.SampleType,
			Description:     source.Description,
			Volume:          source.Volume,
			Weight:          source.Weight,
			PhysicalState:   source.PhysicalState,
			Preservation:    source.Preservation,
			Metadata:        append([]labmodels.LabelValue(nil), source.Metadata...),
			KeptAsReference: source.KeptAsReference,
			Status:          labmodels.SampleStatusReceived,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := s.lab.CreateSample(ctx, dup); err != nil {
			return translate(err, "sample")
		}

		var fresh []*labmodels.Analysis
		for _, src := range sourceAnalyses {
			a := &labmodels.Analysis{
				ID:           domain.AnalysisID(uuid.New()),
				SampleID:     dup.ID,
				Parameter:    src.Parameter,
				ProtocolCode: src.ProtocolCode,
				MatrixCode:   src.MatrixCode,
				Unit:         src.Unit,
				ThresholdMin: cloneDecimal(src.ThresholdMin),
				ThresholdMax: cloneDecimal(src.ThresholdMax),
				Fee:          src.Fee,
				FeeAfterTax:  src.FeeAfterTax,
				Status:       labmodels.AnalysisStatusPending,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := s.lab.CreateAnalysis(ctx, a); err != nil {
				return translate(err, "analysis")
			}
			fresh = append(fresh, a)
		}

		event := audit.Transition(actor, "sample", dup.ID.String(), "duplicate", "", string(dup.Status))
		event.Reason = "copied from " + source.Code.String()
		if err := s.auditor.Emit(ctx, event); err != nil {
			return fmt.Errorf("emit audit: %w", err)
		}
		outSample = dup
		outAnalyses = fresh
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return outSample, outAnalyses, nil
}

func (s *Service) newReceipt(ctx context.Context, client labmodels.ClientSnapshot, meta ReceiptMeta) (*labmodels.Receipt, error) {
	n, err := s.lab.NextReceiptNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("allocate receipt code: %w", err)
	}
	now := s.now()
	receivedAt := meta.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = now
	}
	priority := meta.Priority
	if priority == "" {
		priority = labmodels.PriorityNormal
	}
	return &labmodels.Receipt{
		ID:             domain.ReceiptID(uuid.New()),
		Code:           domain.ReceiptCode(fmt.Sprintf("REC-%03d", n)),
		Client:         client,
		ReceivedAt:     receivedAt,
		Deadline:       meta.Deadline,
		Priority:       priority,
		DeliveryMethod: meta.DeliveryMethod,
		ReceivedBy:     meta.ReceivedBy,
		Notes:          meta.Notes,
		Status:         labmodels.ReceiptStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *Service) expandOrderSamples(ctx context.Context, receipt *labmodels.Receipt, order *workordermodels.Order) ([]*labmodels.Sample, []*labmodels.Analysis, error) {
	now := s.now()
	var samples []*labmodels.Sample
	var analyses []*labmodels.Analysis
	for i, os := range order.Samples {
		sample := &labmodels.Sample{
			ID:          domain.SampleID(uuid.New()),
			ReceiptID:   receipt.ID,
			Code:        domain.NewSampleCode(receipt.Code, i+1),
			SampleType:  os.SampleType,
			Description: os.Description,
			Status:      labmodels.SampleStatusReceived,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.lab.CreateSample(ctx, sample); err != nil {
			return nil, nil, translate(err, "sample")
		}
		samples = append(samples, sample)

		for _, oa := range os.Analyses {
			a := &labmodels.Analysis{
				ID:           domain.AnalysisID(uuid.New()),
				SampleID:     sample.ID,
				Parameter:    oa.Parameter,
				ProtocolCode: oa.ProtocolCode,
				MatrixCode:   oa.MatrixCode,
				Unit:         oa.Unit,
				ThresholdMin: cloneDecimal(oa.ThresholdMin),
				ThresholdMax: cloneDecimal(oa.ThresholdMax),
				Fee:          oa.Fee,
				FeeAfterTax:  workordermodels.FeeAfterTax(oa.Fee, order.TaxRate, order.DiscountRate, order.CurrencyExponent),
				Status:       labmodels.AnalysisStatusPending,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := s.lab.CreateAnalysis(ctx, a); err != nil {
				return nil, nil, translate(err, "analysis")
			}
			analyses = append(analyses, a)
		}
	}
	return samples, analyses, nil
}

func (s *Service) expandSpec(ctx context.Context, receipt *labmodels.Receipt, spec SampleSpec, seq int, taxRate, discountRate decimal.Decimal, exponent int) (*labmodels.Sample, []*labmodels.Analysis, error) {
	now := s.now()
	sample := &labmodels.Sample{
		ID:              domain.SampleID(uuid.New()),
		ReceiptID:       receipt.ID,
		Code:            domain.NewSampleCode(receipt.Code, seq),
		SampleType:      spec.SampleType,
		Description:     spec.Description,
		Volume:          spec.Volume,
		Weight:          spec.Weight,
		PhysicalState:   spec.PhysicalState,
		Preservation:    spec.Preservation,
		KeptAsReference: spec.KeptAsReference,
		Metadata:        spec.Metadata,
		Status:          labmodels.SampleStatusReceived,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.lab.CreateSample(ctx, sample); err != nil {
		return nil, nil, translate(err, "sample")
	}

	var analyses []*labmodels.Analysis
	for _, as := range spec.Analyses {
		matrix, err := s.catalog.FindMatrix(ctx, as.Parameter, spec.SampleType)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return nil, nil, dErrors.New(dErrors.CodeReferentialViolation,
					"no catalog entry for "+as.Parameter+" on "+spec.SampleType)
			}
			return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "catalog lookup failed")
		}
		fee := matrix.Price
		if as.Fee != nil {
			fee = *as.Fee
		}
		a := &labmodels.Analysis{
			ID:           domain.AnalysisID(uuid.New()),
			SampleID:     sample.ID,
			Parameter:    matrix.Parameter,
			ProtocolCode: matrix.ProtocolCode,
			MatrixCode:   matrix.ID,
			Unit:         matrix.Unit,
			ThresholdMin: cloneDecimal(matrix.ThresholdMin),
			ThresholdMax: cloneDecimal(matrix.ThresholdMax),
			Fee:          fee,
			FeeAfterTax:  workordermodels.FeeAfterTax(fee, taxRate, discountRate, exponent),
			Status:       labmodels.AnalysisStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.lab.CreateAnalysis(ctx, a); err != nil {
			return nil, nil, translate(err, "analysis")
		}
		analyses = append(analyses, a)
	}
	return sample, analyses, nil
}

func (s *Service) emitReceiptCreated(ctx context.Context, actor domain.Actor, receipt *labmodels.Receipt, sampleCount, analysisCount int) error {
	created := audit.Transition(actor, "receipt", receipt.ID.String(), "create", "", string(receipt.Status))
	created.Reason = fmt.Sprintf("%d samples, %d analyses", sampleCount, analysisCount)
	if err := s.auditor.Emit(ctx, created); err != nil {
		return fmt.Errorf("emit audit: %w", err)
	}
	notify := created
	notify.ID = uuid.New()
	notify.Topic = audit.TopicNotifications
	notify.Action = "receipt_created"
	if err := s.auditor.Emit(ctx, notify); err != nil {
		return fmt.Errorf("emit notification: %w", err)
	}
	return nil
}

// snapshotClient denormalizes the client profile onto the receipt. Later
// profile edits never touch past receipts.
func snapshotClient(client *workordermodels.Client) labmodels.ClientSnapshot {
	clientID := client.ID
	snap := labmodels.ClientSnapshot{
		ClientID: &clientID,
		Name:     client.Name,
		TaxID:    client.TaxID,
		Address:  client.Address,
		Phone:    client.Phone,
		Email:    client.Email,
	}
	if contact, ok := client.PrimaryContact(); ok {
		snap.ContactName = contact.Name
		snap.ContactPhone = contact.Phone
	}
	return snap
}

// translate maps store sentinels onto coded errors for the HTTP boundary.
func translate(err error, kind string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, kind+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeStaleState, kind+" was modified concurrently")
	case errors.Is(err, sentinel.ErrDuplicate):
		return dErrors.Wrap(err, dErrors.CodeValidation, kind+" already exists")
	case errors.Is(err, sentinel.ErrImmutable):
		return dErrors.Wrap(err, dErrors.CodeValidation, kind+" snapshot is immutable")
	default:
		return err
	}
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
