// Package store holds the in-process entity stores. Each store guards its
// records behind a single mutex so concurrently dispatched handlers serialize
// their mutations; the backing containers are never exposed, and records are
// copied on the way in and out. Listing preserves insertion order.
package store

import (
	"errors"
	"fmt"
	"sync"

	"tutelliv/internal/domain"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

func cloneMission(m domain.Mission) domain.Mission {
	out := m
	if m.Categories != nil {
		out.Categories = append([]string(nil), m.Categories...)
	}
	if m.CommentsByCategory != nil {
		out.CommentsByCategory = make(map[string]string, len(m.CommentsByCategory))
		for k, v := range m.CommentsByCategory {
			out.CommentsByCategory[k] = v
		}
	}
	if m.DeliveredAt != nil {
		v := *m.DeliveredAt
		out.DeliveredAt = &v
	}
	return out
}

func cloneInvoice(inv domain.Invoice) domain.Invoice {
	out := inv
	if inv.LinesByCategory != nil {
		out.LinesByCategory = make(map[string]domain.InvoiceLine, len(inv.LinesByCategory))
		for k, v := range inv.LinesByCategory {
			out.LinesByCategory[k] = v
		}
	}
	if inv.DeliveryFee != nil {
		v := *inv.DeliveryFee
		out.DeliveryFee = &v
	}
	if inv.Mission.DeliveredAt != nil {
		v := *inv.Mission.DeliveredAt
		out.Mission.DeliveredAt = &v
	}
	return out
}

// Beneficiaries stores beneficiary records keyed by their caller-supplied
// integer id.
type Beneficiaries struct {
	mu    sync.Mutex
	byID  map[int]domain.Beneficiary
	order []int
}

func NewBeneficiaries() *Beneficiaries {
	return &Beneficiaries{byID: make(map[int]domain.Beneficiary)}
}

func (s *Beneficiaries) Create(b domain.Beneficiary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[b.ID]; ok {
		return fmt.Errorf("beneficiary %d: %w", b.ID, ErrDuplicate)
	}
	s.byID[b.ID] = b
	s.order = append(s.order, b.ID)
	return nil
}

func (s *Beneficiaries) Get(id int) (domain.Beneficiary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byID[id]
	if !ok {
		return domain.Beneficiary{}, fmt.Errorf("beneficiary %d: %w", id, ErrNotFound)
	}
	return b, nil
}

func (s *Beneficiaries) List() []domain.Beneficiary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Beneficiary, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Replace swaps the full record. The path id wins over any id in the body.
func (s *Beneficiaries) Replace(id int, b domain.Beneficiary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("beneficiary %d: %w", id, ErrNotFound)
	}
	b.ID = id
	s.byID[id] = b
	return nil
}

func (s *Beneficiaries) Delete(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("beneficiary %d: %w", id, ErrNotFound)
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Missions stores mission records by their generated string id.
type Missions struct {
	mu    sync.Mutex
	byID  map[string]domain.Mission
	order []string
}

func NewMissions() *Missions {
	return &Missions{byID: make(map[string]domain.Mission)}
}

// Put inserts or replaces a mission, keeping its original list position.
func (s *Missions) Put(m domain.Mission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[m.ID]; !ok {
		s.order = append(s.order, m.ID)
	}
	s.byID[m.ID] = cloneMission(m)
}

func (s *Missions) Get(id string) (domain.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.byID[id]
	if !ok {
		return domain.Mission{}, fmt.Errorf("mission %s: %w", id, ErrNotFound)
	}
	return cloneMission(m), nil
}

func (s *Missions) List() []domain.Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Mission, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneMission(s.byID[id]))
	}
	return out
}

func (s *Missions) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("mission %s: %w", id, ErrNotFound)
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Invoices stores invoice records under sequential display ids (F-00001,
// F-00002, …) assigned at creation.
type Invoices struct {
	mu    sync.Mutex
	byID  map[string]domain.Invoice
	order []string
	seq   int
}

func NewInvoices() *Invoices {
	return &Invoices{byID: make(map[string]domain.Invoice)}
}

// Create assigns the next display id and stores the invoice.
func (s *Invoices) Create(inv domain.Invoice) domain.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	inv.ID = fmt.Sprintf("F-%05d", s.seq)
	s.byID[inv.ID] = cloneInvoice(inv)
	s.order = append(s.order, inv.ID)
	return cloneInvoice(inv)
}

func (s *Invoices) Get(id string) (domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.byID[id]
	if !ok {
		return domain.Invoice{}, fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	return cloneInvoice(inv), nil
}

// GetByMission finds the invoice linked to a mission. One-to-one by
// construction, so the first match wins.
func (s *Invoices) GetByMission(missionID string) (domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if s.byID[id].MissionID == missionID {
			return cloneInvoice(s.byID[id]), nil
		}
	}
	return domain.Invoice{}, fmt.Errorf("invoice for mission %s: %w", missionID, ErrNotFound)
}

func (s *Invoices) List() []domain.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Invoice, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneInvoice(s.byID[id]))
	}
	return out
}

// Put replaces an existing invoice by id.
func (s *Invoices) Put(inv domain.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[inv.ID]; !ok {
		return fmt.Errorf("invoice %s: %w", inv.ID, ErrNotFound)
	}
	s.byID[inv.ID] = cloneInvoice(inv)
	return nil
}

func (s *Invoices) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return fmt.Errorf("invoice %s: %w", id, ErrNotFound)
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
