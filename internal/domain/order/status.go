package order

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/xenking/storefront/internal/domain/fault"
)

// Status is the lifecycle state of an order. The string values are a
// compatibility surface and must not change.
type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusPaid,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

var (
	ErrInvalidStatus = fault.Validation("invalid_status", "status must be one of: pending, paid, processing, shipped, delivered, cancelled")
	ErrOrderLocked   = fault.Validation("order_locked", "order has been delivered and can no longer change status")
)

// InvalidTransitionError indicates a move the state machine does not allow.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return "cannot change order status from " + string(e.From) + " to " + string(e.To)
}

// FaultKind implements fault.Classified.
func (e *InvalidTransitionError) FaultKind() fault.Kind { return fault.KindValidation }

// ParseStatus returns the Status named by s.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", ErrInvalidStatus
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	default:
		return false
	}
}

// Next returns the statuses reachable from s in one transition.
func (s Status) Next() []Status {
	switch s {
	case StatusPending:
		return []Status{StatusPaid, StatusProcessing, StatusCancelled}
	case StatusPaid:
		return []Status{StatusProcessing, StatusCancelled}
	case StatusProcessing:
		return []Status{StatusShipped, StatusCancelled}
	case StatusShipped:
		return []Status{StatusDelivered}
	case StatusDelivered, StatusCancelled:
		return nil
	default:
		return nil
	}
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CheckTransition returns nil when from → to is allowed. Any move out of
// delivered fails with ErrOrderLocked.
func CheckTransition(from, to Status) error {
	if !to.Valid() {
		return ErrInvalidStatus
	}
	if from == StatusDelivered {
		return ErrOrderLocked
	}
	for _, next := range from.Next() {
		if next == to {
			return nil
		}
	}
	return &InvalidTransitionError{From: from, To: to}
}

// HistoryEntry records one status change. From is nil for the creation entry
// and ActorID is empty for system-initiated changes.
type HistoryEntry struct {
	From    *Status   `json:"from"`
	To      Status    `json:"to"`
	At      time.Time `json:"changedAt"`
	ActorID string    `json:"changedBy,omitempty"`
	Note    string    `json:"note"`
}

// StatusHistory is the append-only log of status changes. The zero value is
// empty. Entries cannot be modified through a StatusHistory; Append returns
// a new log that shares nothing with the receiver.
type StatusHistory struct {
	entries []HistoryEntry
}

// NewHistory starts a log with the creation entry for initial.
func NewHistory(initial Status, at time.Time, actorID string) StatusHistory {
	return StatusHistory{entries: []HistoryEntry{{
		To:      initial,
		At:      at,
		ActorID: actorID,
		Note:    "Order created",
	}}}
}

// RestoreHistory rebuilds a log loaded from storage.
func RestoreHistory(entries []HistoryEntry) StatusHistory {
	return StatusHistory{entries: cloneEntries(entries)}
}

// Transition builds the entry for a change from → to.
func Transition(from, to Status, at time.Time, actorID string) HistoryEntry {
	return HistoryEntry{
		From:    &from,
		To:      to,
		At:      at,
		ActorID: actorID,
		Note:    "Status changed from " + string(from) + " to " + string(to),
	}
}

// Append returns a new log with e added at the end.
func (h StatusHistory) Append(e HistoryEntry) StatusHistory {
	out := make([]HistoryEntry, 0, len(h.entries)+1)
	out = append(out, cloneEntries(h.entries)...)
	out = append(out, cloneEntry(e))
	return StatusHistory{entries: out}
}

// Entries returns a copy of the log, oldest first.
func (h StatusHistory) Entries() []HistoryEntry {
	return cloneEntries(h.entries)
}

// Len is the number of entries.
func (h StatusHistory) Len() int { return len(h.entries) }

// Last returns the most recent entry.
func (h StatusHistory) Last() (HistoryEntry, bool) {
	if len(h.entries) == 0 {
		return HistoryEntry{}, false
	}
	return cloneEntry(h.entries[len(h.entries)-1]), true
}

func (h StatusHistory) MarshalJSON() ([]byte, error) {
	if h.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h.entries)
}

func (h *StatusHistory) UnmarshalJSON(data []byte) error {
	var entries []HistoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	h.entries = entries
	return nil
}

func cloneEntries(in []HistoryEntry) []HistoryEntry {
	if in == nil {
		return nil
	}
	out := make([]HistoryEntry, len(in))
	for i, e := range in {
		out[i] = cloneEntry(e)
	}
	return out
}

func cloneEntry(e HistoryEntry) HistoryEntry {
	if e.From != nil {
		from := *e.From
		e.From = &from
	}
	return e
}
