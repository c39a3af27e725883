// Package engine owns the mission/invoice lifecycle: status transition rules,
// delivery-window arithmetic, and the invoice side effects of mission changes.
package engine

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tutelliv/internal/bus"
	"tutelliv/internal/calendar"
	"tutelliv/internal/domain"
	"tutelliv/internal/journal"
	"tutelliv/internal/store"
)

// Identity is the verified caller, extracted from token claims.
type Identity struct {
	UserID int
	Email  string
	Role   string
	Name   string
}

func (id Identity) actorID() string {
	if id.UserID == 0 {
		return ""
	}
	return strconv.Itoa(id.UserID)
}

// Engine wires the stores, the push bus, and the persisted journal together.
type Engine struct {
	Beneficiaries *store.Beneficiaries
	Missions      *store.Missions
	Invoices      *store.Invoices
	Bus           *bus.Bus
	Journal       *journal.Writer
	Log           zerolog.Logger
	Now           func() time.Time
}

// New builds an engine over fresh stores.
func New(b *bus.Bus, jw *journal.Writer, log zerolog.Logger) Engine {
	return Engine{
		Beneficiaries: store.NewBeneficiaries(),
		Missions:      store.NewMissions(),
		Invoices:      store.NewInvoices(),
		Bus:           b,
		Journal:       jw,
		Log:           log,
		Now:           time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// publish fans the event out to live subscribers and appends it to the
// journal. Both paths are best-effort: a failure is logged, never returned.
func (e Engine) publish(ctx context.Context, event, entityKind, entityID string, caller Identity, payload any, journalPayload journal.Payload) {
	if e.Bus != nil {
		e.Bus.Publish(event, payload)
	}
	if e.Journal != nil {
		if err := e.Journal.Append(ctx, event, entityKind, entityID, caller.actorID(), journalPayload); err != nil {
			e.Log.Warn().Err(err).Str("event", event).Msg("journal append failed")
		}
	}
}

func snapshotOf(m domain.Mission) domain.MissionSnapshot {
	snap := domain.MissionSnapshot{
		ID:            m.ID,
		BeneficiaryID: m.BeneficiaryID,
		Status:        m.Status,
		CalendarStart: m.CalendarStart,
		CalendarEnd:   m.CalendarEnd,
	}
	if m.DeliveredAt != nil {
		v := *m.DeliveredAt
		snap.DeliveredAt = &v
	}
	return snap
}

// MissionCreateOptions are the caller-supplied mission fields.
type MissionCreateOptions struct {
	BeneficiaryID      int
	Categories         []string
	CommentsByCategory map[string]string
	GeneralComment     string
	Status             string
}

// MissionUpdateOptions carry the full replacement content for a mission.
// An empty Status means "keep the current one".
type MissionUpdateOptions = MissionCreateOptions

// CreateMission stores a new mission, computes its promise window, creates
// the linked invoice in editing status, and announces the creation.
func (e Engine) CreateMission(ctx context.Context, caller Identity, opts MissionCreateOptions) (domain.Mission, error) {
	if len(opts.Categories) == 0 {
		return domain.Mission{}, ValidationError{Reason: "at least one category is required"}
	}
	status := opts.Status
	if status == "" {
		status = domain.MissionPending
	}
	now := e.now().UTC()
	window := calendar.InitialWindow(now)
	m := domain.Mission{
		ID:                 uuid.NewString(),
		BeneficiaryID:      opts.BeneficiaryID,
		Categories:         opts.Categories,
		CommentsByCategory: opts.CommentsByCategory,
		GeneralComment:     opts.GeneralComment,
		Category:           opts.Categories[0],
		Comment:            opts.GeneralComment,
		Status:             status,
		CreatedAt:          now.Format(time.RFC3339),
		CalendarStart:      window.Start.Format(calendar.DateLayout),
		CalendarEnd:        window.End.Format(calendar.DateLayout),
	}
	if status == domain.MissionDelivered {
		// Created already delivered: the window freezes immediately at the
		// creation date + 1, not the 3-day promise.
		delivered := now.Format(time.RFC3339)
		m.DeliveredAt = &delivered
		m.CalendarEnd = calendar.Truncate(now).AddDate(0, 0, 1).Format(calendar.DateLayout)
	}
	e.Missions.Put(m)

	inv := e.Invoices.Create(domain.Invoice{
		MissionID: m.ID,
		Amount:    0,
		Status:    domain.InvoiceEditing,
		CreatedAt: now.Format(time.RFC3339),
		Mission:   snapshotOf(m),
	})
	e.Log.Info().Str("mission_id", m.ID).Str("invoice_id", inv.ID).Msg("mission created")
	e.publish(ctx, "mission.created", "mission", m.ID, caller, m, journal.Payload{
		"beneficiary_id": m.BeneficiaryID,
		"status":         m.Status,
		"invoice_id":     inv.ID,
	})
	return m, nil
}

// UpdateMission applies a full-replace update, enforcing the role and status
// rules, freezing the window on delivery, and syncing the linked invoice.
func (e Engine) UpdateMission(ctx context.Context, caller Identity, id string, opts MissionUpdateOptions) (domain.Mission, error) {
	stored, err := e.Missions.Get(id)
	if err != nil {
		return domain.Mission{}, err
	}
	newStatus := opts.Status
	if newStatus == "" {
		newStatus = stored.Status
	}
	if newStatus != stored.Status && caller.Role != domain.RoleDeliverer {
		return domain.Mission{}, AuthorizationError{Reason: "only deliverers can change mission status"}
	}
	if stored.Status == domain.MissionDelivered && newStatus != domain.MissionDelivered {
		// Delivered is terminal: reopening would thaw the frozen window and
		// rewrite delivered_at on the next delivery.
		return domain.Mission{}, ConflictError{Reason: "delivered missions cannot change status"}
	}
	contentChanged := !equalStrings(opts.Categories, stored.Categories) ||
		opts.GeneralComment != stored.GeneralComment ||
		!equalStringMap(opts.CommentsByCategory, stored.CommentsByCategory)
	if stored.Status != domain.MissionPending && contentChanged {
		return domain.Mission{}, ConflictError{Reason: "only pending missions can be edited"}
	}
	if len(opts.Categories) == 0 {
		return domain.Mission{}, ValidationError{Reason: "at least one category is required"}
	}

	updated := stored
	updated.BeneficiaryID = opts.BeneficiaryID
	updated.Categories = opts.Categories
	updated.CommentsByCategory = opts.CommentsByCategory
	updated.GeneralComment = opts.GeneralComment
	updated.Category = opts.Categories[0]
	updated.Comment = opts.GeneralComment
	updated.Status = newStatus

	newlyDelivered := stored.Status != domain.MissionDelivered && newStatus == domain.MissionDelivered
	if newlyDelivered {
		now := e.now().UTC()
		delivered := now.Format(time.RFC3339)
		updated.DeliveredAt = &delivered
		// Frozen end: delivery date + 1 calendar day, never recomputed.
		updated.CalendarEnd = calendar.Truncate(now).AddDate(0, 0, 1).Format(calendar.DateLayout)
	}
	e.Missions.Put(updated)
	e.syncInvoice(ctx, caller, updated, newlyDelivered)
	e.publish(ctx, "mission.updated", "mission", updated.ID, caller, updated, journal.Payload{
		"status":    updated.Status,
		"delivered": newlyDelivered,
	})
	return updated, nil
}

// syncInvoice refreshes the linked invoice's embedded mission snapshot and,
// when the mission was just delivered, moves the invoice to pending. A paid
// invoice is never downgraded.
func (e Engine) syncInvoice(ctx context.Context, caller Identity, m domain.Mission, newlyDelivered bool) {
	inv, err := e.Invoices.GetByMission(m.ID)
	if err != nil {
		return
	}
	inv.Mission = snapshotOf(m)
	if newlyDelivered && inv.Status != domain.InvoicePaid {
		inv.Status = domain.InvoicePending
	}
	if err := e.Invoices.Put(inv); err != nil {
		e.Log.Warn().Err(err).Str("invoice_id", inv.ID).Msg("invoice sync failed")
		return
	}
	e.publish(ctx, "invoice.updated", "invoice", inv.ID, caller, inv, journal.Payload{
		"mission_id": inv.MissionID,
		"status":     inv.Status,
	})
}

// DeleteMission removes a mission and its linked invoice.
func (e Engine) DeleteMission(ctx context.Context, caller Identity, id string) error {
	if _, err := e.Missions.Get(id); err != nil {
		return err
	}
	if inv, err := e.Invoices.GetByMission(id); err == nil {
		_ = e.Invoices.Delete(inv.ID)
	}
	if err := e.Missions.Delete(id); err != nil {
		return err
	}
	e.publish(ctx, "mission.deleted", "mission", id, caller, map[string]any{"id": id}, journal.Payload{})
	return nil
}

// GetMission returns one mission with its read-time window projection.
func (e Engine) GetMission(id string) (domain.Mission, error) {
	m, err := e.Missions.Get(id)
	if err != nil {
		return domain.Mission{}, err
	}
	return e.projectMission(m), nil
}

// ListMissions returns all missions with read-time window projections.
func (e Engine) ListMissions() []domain.Mission {
	stored := e.Missions.List()
	out := make([]domain.Mission, 0, len(stored))
	for _, m := range stored {
		out = append(out, e.projectMission(m))
	}
	return out
}

// projectMission backfills a missing calendar start and, for non-delivered
// missions, stretches the displayed end to cover elapsed business days. The
// stored record is untouched; a delivered mission's window is frozen.
func (e Engine) projectMission(m domain.Mission) domain.Mission {
	createdAt, err := time.Parse(time.RFC3339, m.CreatedAt)
	if err != nil {
		return m
	}
	if m.CalendarStart == "" {
		m.CalendarStart = calendar.NextBusinessDay(createdAt).Format(calendar.DateLayout)
	}
	if m.Status == domain.MissionDelivered {
		return m
	}
	now := e.now().UTC()
	storedEnd, err := time.Parse(calendar.DateLayout, m.CalendarEnd)
	if err != nil {
		storedEnd = calendar.InitialWindow(createdAt).End
	}
	m.CalendarEnd = calendar.EffectiveEnd(storedEnd, now).Format(calendar.DateLayout)
	return m
}

// InvoiceCreateOptions are caller-supplied invoice fields.
type InvoiceCreateOptions struct {
	MissionID       string
	Amount          float64
	Status          string
	Note            string
	LinesByCategory map[string]domain.InvoiceLine
	DeliveryFee     *float64
}

// CreateInvoice stores a standalone invoice. The mission reference is not
// validated for existence; when the mission is known its snapshot is embedded.
func (e Engine) CreateInvoice(ctx context.Context, caller Identity, opts InvoiceCreateOptions) (domain.Invoice, error) {
	status := opts.Status
	if status == "" {
		status = domain.InvoiceEditing
	}
	inv := domain.Invoice{
		MissionID:       opts.MissionID,
		Amount:          opts.Amount,
		Status:          status,
		CreatedAt:       e.now().UTC().Format(time.RFC3339),
		Note:            opts.Note,
		LinesByCategory: opts.LinesByCategory,
		DeliveryFee:     opts.DeliveryFee,
	}
	if m, err := e.Missions.Get(opts.MissionID); err == nil {
		inv.Mission = snapshotOf(m)
	}
	created := e.Invoices.Create(inv)
	e.publish(ctx, "invoice.created", "invoice", created.ID, caller, created, journal.Payload{
		"mission_id": created.MissionID,
		"status":     created.Status,
	})
	return created, nil
}

// InvoiceUpdateOptions is a partial update: nil fields are left untouched.
type InvoiceUpdateOptions struct {
	Amount          *float64
	Status          *string
	Note            *string
	LinesByCategory map[string]domain.InvoiceLine
	DeliveryFee     *float64
}

// UpdateInvoice merges present fields over the stored record. MissionID and
// CreatedAt are immutable, and only deliverers may touch invoices.
func (e Engine) UpdateInvoice(ctx context.Context, caller Identity, id string, opts InvoiceUpdateOptions) (domain.Invoice, error) {
	if caller.Role != domain.RoleDeliverer {
		return domain.Invoice{}, AuthorizationError{Reason: "only deliverers can modify an invoice"}
	}
	inv, err := e.Invoices.Get(id)
	if err != nil {
		return domain.Invoice{}, err
	}
	if opts.Amount != nil {
		inv.Amount = *opts.Amount
	}
	if opts.Status != nil {
		inv.Status = *opts.Status
	}
	if opts.Note != nil {
		inv.Note = *opts.Note
	}
	if opts.LinesByCategory != nil {
		inv.LinesByCategory = opts.LinesByCategory
	}
	if opts.DeliveryFee != nil {
		inv.DeliveryFee = opts.DeliveryFee
	}
	if err := e.Invoices.Put(inv); err != nil {
		return domain.Invoice{}, err
	}
	e.publish(ctx, "invoice.updated", "invoice", inv.ID, caller, inv, journal.Payload{
		"mission_id": inv.MissionID,
		"status":     inv.Status,
	})
	return inv, nil
}

// DeleteInvoice removes an invoice by id.
func (e Engine) DeleteInvoice(ctx context.Context, caller Identity, id string) error {
	if err := e.Invoices.Delete(id); err != nil {
		return err
	}
	e.publish(ctx, "invoice.deleted", "invoice", id, caller, map[string]any{"id": id}, journal.Payload{})
	return nil
}

// RenderInvoicePDF returns the printable bytes for an invoice.
func (e Engine) RenderInvoicePDF(id string, render func(domain.Invoice) []byte) ([]byte, error) {
	inv, err := e.Invoices.Get(id)
	if err != nil {
		return nil, err
	}
	return render(inv), nil
}

// Stats computes the dashboard rollup, always fresh.
func (e Engine) Stats() domain.Stats {
	now := e.now().UTC()
	cutoff := now.AddDate(0, 0, -30)
	stats := domain.Stats{GeneratedAt: now.Format(time.RFC3339)}
	seen := map[int]bool{}
	for _, m := range e.Missions.List() {
		if m.Status == domain.MissionPending || m.Status == domain.MissionInProgress {
			stats.MissionsInProgress++
		}
		if createdAt, err := time.Parse(time.RFC3339, m.CreatedAt); err == nil && !createdAt.Before(cutoff) {
			if !seen[m.BeneficiaryID] {
				seen[m.BeneficiaryID] = true
				stats.BeneficiariesActive++
			}
		}
	}
	for _, inv := range e.Invoices.List() {
		if inv.Status == domain.InvoicePending {
			stats.InvoicesPending++
		}
	}
	return stats
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalStringMap(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
