package sim

// EventType classifies the diagnostic events a run emits alongside its
// trades and equity curve.
type EventType string

const (
	EventEntry              EventType = "ENTRY"
	EventExit               EventType = "EXIT"
	EventStopHit            EventType = "STOP_HIT"
	EventTakeProfitHit      EventType = "TAKE_PROFIT_HIT"
	EventTrailingAdjust     EventType = "TRAILING_ADJUST"
	EventUndefinedIndicator EventType = "UNDEFINED_INDICATOR"
	EventRiskClampApplied   EventType = "RISK_CLAMP_APPLIED"
	EventForcedClose        EventType = "FORCED_CLOSE"
)

// Event records one diagnostic occurrence at a bar index.
type Event struct {
	Index   int               `json:"index"`
	Ts      int64             `json:"ts"`
	Type    EventType         `json:"type"`
	Details map[string]string `json:"details,omitempty"`
}

// EventLog is an append-only event collection for a single run.
type EventLog struct {
	Events []Event
}

func (l *EventLog) Append(e Event) { l.Events = append(l.Events, e) }
