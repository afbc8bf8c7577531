package domain

// EventKind classifies a monitor state transition.
type EventKind string

// Event kind constants.
const (
	EventTrigger      EventKind = "TRIGGER"
	EventEntryFill    EventKind = "ENTRY_FILL"
	EventTPHit        EventKind = "TP_HIT"
	EventSLHit        EventKind = "SL_HIT"
	EventBEMove       EventKind = "BE_MOVE"
	EventExpiry       EventKind = "EXPIRY"
	EventInvalidation EventKind = "INVALIDATION"
)

// MonitorEvent is one append-only, ordered log entry per state transition.
// Never mutated; deleted only by the retention sweep.
type MonitorEvent struct {
	SnapshotID string
	Seq        int // monotonic per scenario, starts at 1
	Kind       EventKind
	Timestamp  int64 // candle open time, Unix ms
	Price      float64
	Note       string // e.g. "tp2", "order 1", reject detail
	CreatedAt  int64
}
