package domain

// EventType names an entry in the engine's event log.
type EventType string

const (
	EventPauseStarted        EventType = "pause_started"
	EventPauseCompleted      EventType = "pause_completed"
	EventBlockTriggered      EventType = "block_triggered"
	EventOverrideUsed        EventType = "override_used"
	EventCooldownCompleted   EventType = "cooldown_completed"
	EventScheduleActivated   EventType = "schedule_activated"
	EventScheduleEnded       EventType = "schedule_ended"
	EventQuickDisableExpired EventType = "quick_disable_expired"
	EventQuickDisableEnded   EventType = "quick_disable_deactivated"
)

// DefaultEventLogCapacity bounds the in-state history.
const DefaultEventLogCapacity = 200

// Event is a single transition or override record.
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	AppID     string            `json:"app_id,omitempty"`
	Domain    string            `json:"domain,omitempty"`
	From      BlockState        `json:"from,omitempty"`
	To        BlockState        `json:"to,omitempty"`
	Timestamp int64             `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// EventLog is an append-only history with fixed capacity.
// When full, the oldest entry is evicted first.
type EventLog struct {
	Capacity int     `json:"capacity"`
	Entries  []Event `json:"entries"`
}

// NewEventLog creates an empty log. Non-positive capacity falls back to the default.
func NewEventLog(capacity int) EventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}
	return EventLog{Capacity: capacity, Entries: make([]Event, 0, capacity)}
}

// Append adds an event, evicting the oldest entries beyond capacity.
func (l *EventLog) Append(e Event) {
	if l.Capacity <= 0 {
		l.Capacity = DefaultEventLogCapacity
	}
	l.Entries = append(l.Entries, e)
	l.trim()
}

// Resize changes capacity, keeping the newest entries.
func (l *EventLog) Resize(capacity int) {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}
	l.Capacity = capacity
	l.trim()
}

func (l *EventLog) trim() {
	if over := len(l.Entries) - l.Capacity; over > 0 {
		kept := make([]Event, l.Capacity)
		copy(kept, l.Entries[over:])
		l.Entries = kept
	}
}

// Len returns the number of retained entries.
func (l EventLog) Len() int {
	return len(l.Entries)
}

// Last returns up to n newest entries, oldest first.
func (l EventLog) Last(n int) []Event {
	if n <= 0 || n > len(l.Entries) {
		n = len(l.Entries)
	}
	out := make([]Event, n)
	copy(out, l.Entries[len(l.Entries)-n:])
	return out
}

// Clone deep-copies the log, including metadata maps.
func (l EventLog) Clone() EventLog {
	c := EventLog{Capacity: l.Capacity}
	if l.Entries == nil {
		return c
	}
	c.Entries = make([]Event, len(l.Entries), cap(l.Entries))
	for i, e := range l.Entries {
		if e.Metadata != nil {
			md := make(map[string]string, len(e.Metadata))
			for k, v := range e.Metadata {
				md[k] = v
			}
			e.Metadata = md
		}
		c.Entries[i] = e
	}
	return c
}
