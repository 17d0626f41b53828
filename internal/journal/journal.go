package journal

import "time"

// EntryType classifies journal entries for filtered retrieval
type EntryType string

const (
	EntryOrderCreated         EntryType = "ORDER_CREATED"
	EntryOrderSubmitted       EntryType = "ORDER_SUBMITTED"
	EntryOrderPartiallyFilled EntryType = "ORDER_PARTIALLY_FILLED"
	EntryOrderFilled          EntryType = "ORDER_FILLED"
	EntryOrderCancelled       EntryType = "ORDER_CANCELLED"
	EntryOrderRejected        EntryType = "ORDER_REJECTED"
	EntryRetryScheduled       EntryType = "RETRY_SCHEDULED"
	EntryCoordinationBlock    EntryType = "COORDINATION_BLOCK"
	EntryFillAfterCancel      EntryType = "FILL_AFTER_CANCEL"
	EntryRiskAlert            EntryType = "RISK_ALERT"
	EntryLimitUpdate          EntryType = "LIMIT_UPDATE"
)

// Entry is one append-only audit record. OrderID and User are optional
// depending on the entry type.
type Entry struct {
	Type      EntryType         `json:"type"`
	OrderID   string            `json:"order_id,omitempty"`
	User      string            `json:"user,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Filter selects entries on retrieval; zero values match everything
type Filter struct {
	OrderID string
	Type    EntryType
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Journal is the append-only audit sink consumed by the engine, the
// coordinator, and the risk monitor. Entries are retrieved newest-first.
type Journal interface {
	Append(entry Entry)
	Query(filter Filter) []Entry
	Len() int
}
