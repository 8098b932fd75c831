// Package store persists the analysis catalog. The catalog is read-mostly:
// intake looks templates up by parameter and sample type, admins edit rarely.
package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"limscore/internal/catalog/models"
	"limscore/pkg/platform/sentinel"
)

type InMemory struct {
	mu       sync.RWMutex
	matrices map[string]*models.Matrix
}

func NewInMemory() *InMemory {
	return &InMemory{matrices: make(map[string]*models.Matrix)}
}

func (s *InMemory) CreateMatrix(ctx context.Context, m *models.Matrix) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.matrices[m.ID]; ok {
		return fmt.Errorf("matrix %s: %w", m.ID, sentinel.ErrDuplicate)
	}
	for _, cur := range s.matrices {
		if sameTemplate(cur, m) {
			return fmt.Errorf("matrix %s/%s: %w", m.Parameter, m.SampleType, sentinel.ErrDuplicate)
		}
	}
	m.Version = 1
	s.matrices[m.ID] = cloneMatrix(m)
	return nil
}

func (s *InMemory) GetMatrix(ctx context.Context, id string) (*models.Matrix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matrices[id]
	if !ok {
		return nil, fmt.Errorf("matrix %s: %w", id, sentinel.ErrNotFound)
	}
	return cloneMatrix(m), nil
}

// FindMatrix resolves the active template for a parameter on a sample type.
// Lookup is case-insensitive on both axes.
func (s *InMemory) FindMatrix(ctx context.Context, parameter, sampleType string) (*models.Matrix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.matrices {
		if m.Active &&
			strings.EqualFold(m.Parameter, parameter) &&
			strings.EqualFold(m.SampleType, sampleType) {
			return cloneMatrix(m), nil
		}
	}
	return nil, fmt.Errorf("matrix %s/%s: %w", parameter, sampleType, sentinel.ErrNotFound)
}

func (s *InMemory) ListMatrices(ctx context.Context, sampleType string) ([]*models.Matrix, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Matrix
	for _, m := range s.matrices {
		if sampleType != "" && !strings.EqualFold(m.SampleType, sampleType) {
			continue
		}
		out = append(out, cloneMatrix(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SampleType != out[j].SampleType {
			return out[i].SampleType < out[j].SampleType
		}
		return out[i].Parameter < out[j].Parameter
	})
	return out, nil
}

func (s *InMemory) UpdateMatrix(ctx context.Context, m *models.Matrix) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.matrices[m.ID]
	if !ok {
		return fmt.Errorf("matrix %s: %w", m.ID, sentinel.ErrNotFound)
	}
	if cur.Version != m.Version {
		return fmt.Errorf("matrix %s: %w", m.ID, sentinel.ErrConflict)
	}
	m.Version++
	s.matrices[m.ID] = cloneMatrix(m)
	return nil
}

func sameTemplate(a, b *models.Matrix) bool {
	return strings.EqualFold(a.Parameter, b.Parameter) &&
		strings.EqualFold(a.SampleType, b.SampleType)
}

func cloneMatrix(m *models.Matrix) *models.Matrix {
	c := *m
	c.DetectionLimit = cloneDecimal(m.DetectionLimit)
	c.ThresholdMin = cloneDecimal(m.ThresholdMin)
	c.ThresholdMax = cloneDecimal(m.ThresholdMax)
	return &c
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
