package domain

// Roles carried in session tokens. The deliverer role is the only one allowed
// to change mission and invoice statuses.
const (
	RoleMJPM      = "mjpm"
	RoleDeliverer = "deliverer"
)

// Mission statuses. Delivered is terminal.
const (
	MissionPending    = "pending"
	MissionInProgress = "in_progress"
	MissionDelivered  = "delivered"
)

// Invoice statuses.
const (
	InvoiceEditing = "editing"
	InvoicePending = "pending"
	InvoicePaid    = "paid"
)

type Beneficiary struct {
	ID         int    `json:"id"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Address    string `json:"address"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Phone      string `json:"phone,omitempty"`
	PhotoURL   string `json:"photo_url,omitempty"`
	IsActive   bool   `json:"is_active"`
}

// Mission is a single delivery task for one beneficiary. CalendarStart and
// CalendarEnd are date strings (2006-01-02) bounding the promised delivery
// window, end exclusive. The single Category/Comment fields mirror
// Categories[0] and GeneralComment for older clients.
type Mission struct {
	ID                 string            `json:"id"`
	BeneficiaryID      int               `json:"beneficiary_id"`
	Categories         []string          `json:"categories"`
	CommentsByCategory map[string]string `json:"comments_by_category,omitempty"`
	GeneralComment     string            `json:"general_comment,omitempty"`
	Category           string            `json:"category,omitempty"`
	Comment            string            `json:"comment,omitempty"`
	Status             string            `json:"status" enum:"pending,in_progress,delivered"`
	CreatedAt          string            `json:"created_at" format:"date-time"`
	CalendarStart      string            `json:"calendar_start,omitempty"`
	CalendarEnd        string            `json:"calendar_end,omitempty"`
	DeliveredAt        *string           `json:"delivered_at,omitempty" format:"date-time"`
}

// InvoiceLine is the billed detail for one mission category.
type InvoiceLine struct {
	Amount float64 `json:"amount"`
	Note   string  `json:"note,omitempty"`
}

// MissionSnapshot is the read-only copy of mission fields embedded in an
// invoice at last sync, so printing never re-queries the mission store.
type MissionSnapshot struct {
	ID            string  `json:"id"`
	BeneficiaryID int     `json:"beneficiary_id"`
	Status        string  `json:"status"`
	CalendarStart string  `json:"calendar_start,omitempty"`
	CalendarEnd   string  `json:"calendar_end,omitempty"`
	DeliveredAt   *string `json:"delivered_at,omitempty" format:"date-time"`
}

// Invoice is the billing record for exactly one mission.
type Invoice struct {
	ID              string                 `json:"id"`
	MissionID       string                 `json:"mission_id"`
	Amount          float64                `json:"amount"`
	Status          string                 `json:"status" enum:"editing,pending,paid"`
	CreatedAt       string                 `json:"created_at" format:"date-time"`
	Note            string                 `json:"note,omitempty"`
	LinesByCategory map[string]InvoiceLine `json:"lines_by_category,omitempty"`
	DeliveryFee     *float64               `json:"delivery_fee,omitempty"`
	Mission         MissionSnapshot        `json:"mission"`
}

// User is a static demo account from config. Passwords are plaintext on
// purpose: real credential management is out of scope.
type User struct {
	ID       int    `json:"id" yaml:"id"`
	Email    string `json:"email" yaml:"email"`
	Password string `json:"-" yaml:"password"`
	Role     string `json:"role" yaml:"role"`
	Name     string `json:"name" yaml:"name"`
}

// JournalEntry is one persisted domain event.
type JournalEntry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// Stats is the dashboard rollup, always computed fresh.
type Stats struct {
	MissionsInProgress  int    `json:"missions_in_progress"`
	BeneficiariesActive int    `json:"beneficiaries_active"`
	InvoicesPending     int    `json:"invoices_pending"`
	GeneratedAt         string `json:"generated_at" format:"date-time"`
}
