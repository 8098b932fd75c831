// Package store persists receipts, samples, analyses, and handover records.
// Every update takes the version the caller read; a mismatch returns
// sentinel.ErrConflict so services can surface stale-state failures instead
// of silently overwriting a concurrent decision.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"limscore/internal/lab/models"
	"limscore/pkg/domain"
	"limscore/pkg/platform/sentinel"
)

// InMemory keeps the lab aggregate in maps guarded by one lock. Reads hand
// out copies.
type InMemory struct {
	mu         sync.RWMutex
	receipts   map[domain.ReceiptID]*models.Receipt
	byCode     map[domain.ReceiptCode]domain.ReceiptID
	samples    map[domain.SampleID]*models.Sample
	analyses   map[domain.AnalysisID]*models.Analysis
	handovers  map[domain.SampleID][]models.Handover
	receiptSeq int
}

func NewInMemory() *InMemory {
	return &InMemory{
		receipts:  make(map[domain.ReceiptID]*models.Receipt),
		byCode:    make(map[domain.ReceiptCode]domain.ReceiptID),
		samples:   make(map[domain.SampleID]*models.Sample),
		analyses:  make(map[domain.AnalysisID]*models.Analysis),
		handovers: make(map[domain.SampleID][]models.Handover),
	}
}

// NextReceiptNumber allocates the next intake sequence number. Used when the
// caller does not supply a receipt code.
func (s *InMemory) NextReceiptNumber(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiptSeq++
	return s.receiptSeq, nil
}

func (s *InMemory) CreateReceipt(_ context.Context, r *models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.receipts[r.ID]; ok {
		return fmt.Errorf("receipt %s: %w", r.ID, sentinel.ErrDuplicate)
	}
	if _, ok := s.byCode[r.Code]; ok {
		return fmt.Errorf("receipt code %s: %w", r.Code, sentinel.ErrDuplicate)
	}
	r.Version = 1
	cp := cloneReceipt(r)
	s.receipts[r.ID] = &cp
	s.byCode[r.Code] = r.ID
	return nil
}

func (s *InMemory) GetReceipt(_ context.Context, id domain.ReceiptID) (*models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[id]
	if !ok {
		return nil, fmt.Errorf("receipt %s: %w", id, sentinel.ErrNotFound)
	}
	cp := cloneReceipt(r)
	return &cp, nil
}

func (s *InMemory) GetReceiptByCode(_ context.Context, code domain.ReceiptCode) (*models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byCode[code]
	if !ok {
		return nil, fmt.Errorf("receipt code %s: %w", code, sentinel.ErrNotFound)
	}
	cp := cloneReceipt(s.receipts[id])
	return &cp, nil
}

// ReceiptFilter narrows ListReceipts. Zero values match everything.
type ReceiptFilter struct {
	Status models.ReceiptStatus
}

func (s *InMemory) ListReceipts(_ context.Context, f ReceiptFilter) ([]*models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Receipt
	for _, r := range s.receipts {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		cp := cloneReceipt(r)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *InMemory) UpdateReceipt(_ context.Context, r *models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.receipts[r.ID]
	if !ok {
		return fmt.Errorf("receipt %s: %w", r.ID, sentinel.ErrNotFound)
	}
	if cur.Version != r.Version {
		return fmt.Errorf("receipt %s: %w", r.ID, sentinel.ErrConflict)
	}
	r.Version++
	cp := cloneReceipt(r)
	s.receipts[r.ID] = &cp
	return nil
}

func (s *InMemory) CreateSample(_ context.Context, sm *models.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.samples[sm.ID]; ok {
		return fmt.Errorf("sample %s: %w", sm.ID, sentinel.ErrDuplicate)
	}
	if _, ok := s.receipts[sm.ReceiptID]; !ok {
		return fmt.Errorf("sample receipt %s: %w", sm.ReceiptID, sentinel.ErrNotFound)
	}
	sm.Version = 1
	cp := cloneSample(sm)
	s.samples[sm.ID] = &cp
	return nil
}

func (s *InMemory) GetSample(_ context.Context, id domain.SampleID) (*models.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sm, ok := s.samples[id]
	if !ok {
		return nil, fmt.Errorf("sample %s: %w", id, sentinel.ErrNotFound)
	}
	cp := cloneSample(sm)
	return &cp, nil
}

func (s *InMemory) ListSamplesByReceipt(_ context.Context, receiptID domain.ReceiptID) ([]*models.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Sample
	for _, sm := range s.samples {
		if sm.ReceiptID != receiptID {
			continue
		}
		cp := cloneSample(sm)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *InMemory) UpdateSample(_ context.Context, sm *models.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.samples[sm.ID]
	if !ok {
		return fmt.Errorf("sample %s: %w", sm.ID, sentinel.ErrNotFound)
	}
	if cur.Version != sm.Version {
		return fmt.Errorf("sample %s: %w", sm.ID, sentinel.ErrConflict)
	}
	sm.Version++
	cp := cloneSample(sm)
	s.samples[sm.ID] = &cp
	return nil
}

func (s *InMemory) CreateAnalysis(_ context.Context, a *models.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.analyses[a.ID]; ok {
		return fmt.Errorf("analysis %s: %w", a.ID, sentinel.ErrDuplicate)
	}
	if _, ok := s.samples[a.SampleID]; !ok {
		return fmt.Errorf("analysis sample %s: %w", a.SampleID, sentinel.ErrNotFound)
	}
	a.Version = 1
	cp := cloneAnalysis(a)
	s.analyses[a.ID] = &cp
	return nil
}

func (s *InMemory) GetAnalysis(_ context.Context, id domain.AnalysisID) (*models.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analyses[id]
	if !ok {
		return nil, fmt.Errorf("analysis %s: %w", id, sentinel.ErrNotFound)
	}
	cp := cloneAnalysis(a)
	return &cp, nil
}

func (s *InMemory) ListAnalysesBySample(_ context.Context, sampleID domain.SampleID) ([]*models.Analysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Analysis
	for _, a := range s.analyses {
		if a.SampleID != sampleID {
			continue
		}
		cp := cloneAnalysis(a)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Parameter < out[j].Parameter })
	return out, nil
}

func (s *InMemory) UpdateAnalysis(_ context.Context, a *models.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.analyses[a.ID]
	if !ok {
		return fmt.Errorf("analysis %s: %w", a.ID, sentinel.ErrNotFound)
	}
	if cur.Version != a.Version {
		return fmt.Errorf("analysis %s: %w", a.ID, sentinel.ErrConflict)
	}
	if cur.SnapshotLocked() && !sameSnapshot(cur, a) {
		return fmt.Errorf("analysis %s protocol snapshot: %w", a.ID, sentinel.ErrImmutable)
	}
	a.Version++
	cp := cloneAnalysis(a)
	s.analyses[a.ID] = &cp
	return nil
}

func (s *InMemory) CreateHandover(_ context.Context, h models.Handover) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.samples[h.SampleID]; !ok {
		return fmt.Errorf("handover sample %s: %w", h.SampleID, sentinel.ErrNotFound)
	}
	h.AnalysisIDs = append([]domain.AnalysisID(nil), h.AnalysisIDs...)
	s.handovers[h.SampleID] = append(s.handovers[h.SampleID], h)
	return nil
}

func (s *InMemory) ListHandoversBySample(_ context.Context, sampleID domain.SampleID) ([]models.Handover, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Handover(nil), s.handovers[sampleID]...), nil
}

// sameSnapshot compares the fields frozen once testing starts.
func sameSnapshot(a, b *models.Analysis) bool {
	if a.Parameter != b.Parameter || a.ProtocolCode != b.ProtocolCode ||
		a.MatrixCode != b.MatrixCode || a.Unit != b.Unit ||
		!a.Fee.Equal(b.Fee) || !a.FeeAfterTax.Equal(b.FeeAfterTax) {
		return false
	}
	if (a.ThresholdMin == nil) != (b.ThresholdMin == nil) ||
		(a.ThresholdMax == nil) != (b.ThresholdMax == nil) {
		return false
	}
	if a.ThresholdMin != nil && !a.ThresholdMin.Equal(*b.ThresholdMin) {
		return false
	}
	if a.ThresholdMax != nil && !a.ThresholdMax.Equal(*b.ThresholdMax) {
		return false
	}
	return true
}

func cloneReceipt(r *models.Receipt) models.Receipt {
	cp := *r
	if r.OrderID != nil {
		oid := *r.OrderID
		cp.OrderID = &oid
	}
	if r.Client.ClientID != nil {
		cid := *r.Client.ClientID
		cp.Client.ClientID = &cid
	}
	return cp
}

func cloneSample(sm *models.Sample) models.Sample {
	cp := *sm
	cp.Metadata = append([]models.LabelValue(nil), sm.Metadata...)
	return cp
}

func cloneAnalysis(a *models.Analysis) models.Analysis {
	cp := *a
	if a.ThresholdMin != nil {
		v := *a.ThresholdMin
		cp.ThresholdMin = &v
	}
	if a.ThresholdMax != nil {
		v := *a.ThresholdMax
		cp.ThresholdMax = &v
	}
	if a.TechnicianID != nil {
		v := *a.TechnicianID
		cp.TechnicianID = &v
	}
	if a.ResultValue != nil {
		v := *a.ResultValue
		cp.ResultValue = &v
	}
	return cp
}
