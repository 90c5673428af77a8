// Package events defines the events delivered to application code and the router that dispatches them.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vietddude/resilink/internal/core/domain"
)

// Type identifies an event kind. Server events use the wire "type" value.
type Type string

const (
	TypeConnectionEstablished  Type = "connection_established"
	TypeProcessingStatusUpdate Type = "processing_status_update"
	TypeMeetingCreated         Type = "meeting_created"
	TypeMeetingUpdated         Type = "meeting_updated"
	TypeTranscriptReady        Type = "transcript_ready"
	TypeSummaryReady           Type = "summary_ready"
	TypeSubscriptionConfirmed  Type = "subscription_confirmed"
	TypeConnectionInfo         Type = "connection_info"
	TypeError                  Type = "error"
	TypeSystemNotification     Type = "system_notification"
	TypeMaintenanceNotice      Type = "maintenance_notice"
	TypeUnknown                Type = "unknown"

	// Local lifecycle events, never sent by the server.
	TypeStateChanged        Type = "connection_state_changed"
	TypeConnectionAbandoned Type = "connection_abandoned"
	TypeRequestDropped      Type = "request_dropped"

	// Wildcard listeners receive every event.
	Wildcard Type = "*"
)

// Event is implemented by every event struct.
type Event interface {
	Type() Type
}

// Timestamp accepts RFC 3339 and naive ISO 8601 times (taken as UTC).
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

type ConnectionEstablished struct {
	UserID     string    `json:"user_id"`
	ServerTime Timestamp `json:"server_time"`
	Timestamp  Timestamp `json:"timestamp"`
}

type ProcessingStatusUpdate struct {
	JobID        string          `json:"job_id"`
	MeetingID    string          `json:"meeting_id"`
	Status       string          `json:"status"`
	Progress     *int            `json:"progress,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Timestamp    Timestamp       `json:"timestamp"`
}

type MeetingCreated struct {
	Meeting   json.RawMessage `json:"meeting"`
	Timestamp Timestamp       `json:"timestamp"`
}

type MeetingUpdated struct {
	Meeting   json.RawMessage `json:"meeting"`
	Timestamp Timestamp       `json:"timestamp"`
}

type TranscriptReady struct {
	MeetingID  string          `json:"meeting_id"`
	Transcript json.RawMessage `json:"transcript"`
	Timestamp  Timestamp       `json:"timestamp"`
}

type SummaryReady struct {
	MeetingID string          `json:"meeting_id"`
	Summary   json.RawMessage `json:"summary"`
	Timestamp Timestamp       `json:"timestamp"`
}

type SubscriptionConfirmed struct {
	Subscription string    `json:"subscription"`
	Timestamp    Timestamp `json:"timestamp"`
}

type ConnectionInfo struct {
	UserID           string    `json:"user_id"`
	ConnectedAt      Timestamp `json:"connected_at"`
	TotalConnections int       `json:"total_connections"`
	Timestamp        Timestamp `json:"timestamp"`
}

// ErrorNotice is an error reported by the server over the channel.
type ErrorNotice struct {
	ErrorType    string          `json:"error_type,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	Message      string          `json:"message,omitempty"`
	Context      json.RawMessage `json:"context,omitempty"`
	Timestamp    Timestamp       `json:"timestamp"`
}

type SystemNotification struct {
	NotificationType string    `json:"notification_type"` // info, success, warning, error
	Title            string    `json:"title"`
	Message          string    `json:"message"`
	Timestamp        Timestamp `json:"timestamp"`
}

type MaintenanceNotice struct {
	Message       string    `json:"message"`
	ScheduledTime Timestamp `json:"scheduled_time"`
	Timestamp     Timestamp `json:"timestamp"`
}

// Unknown carries frames whose type is not recognized.
type Unknown struct {
	RawType string
	Raw     json.RawMessage
}

// StateChanged reports a channel state transition.
type StateChanged struct {
	From   domain.ConnectionState
	To     domain.ConnectionState
	Reason string
	At     time.Time
}

// ConnectionAbandoned is emitted once the channel stops reconnecting.
type ConnectionAbandoned struct {
	Attempts int
	Err      error
}

// RequestDropped is emitted when a queued request leaves the queue without succeeding.
type RequestDropped struct {
	Request *domain.QueuedRequest
	Reason  domain.DropReason
	Err     error
}

func (ConnectionEstablished) Type() Type  { return TypeConnectionEstablished }
func (ProcessingStatusUpdate) Type() Type { return TypeProcessingStatusUpdate }
func (MeetingCreated) Type() Type         { return TypeMeetingCreated }
func (MeetingUpdated) Type() Type         { return TypeMeetingUpdated }
func (TranscriptReady) Type() Type        { return TypeTranscriptReady }
func (SummaryReady) Type() Type           { return TypeSummaryReady }
func (SubscriptionConfirmed) Type() Type  { return TypeSubscriptionConfirmed }
func (ConnectionInfo) Type() Type         { return TypeConnectionInfo }
func (ErrorNotice) Type() Type            { return TypeError }
func (SystemNotification) Type() Type     { return TypeSystemNotification }
func (MaintenanceNotice) Type() Type      { return TypeMaintenanceNotice }
func (Unknown) Type() Type                { return TypeUnknown }
func (StateChanged) Type() Type           { return TypeStateChanged }
func (ConnectionAbandoned) Type() Type    { return TypeConnectionAbandoned }
func (RequestDropped) Type() Type         { return TypeRequestDropped }

// Decode turns a server frame into an event. Unrecognized types become Unknown.
// A known type whose payload does not decode also becomes Unknown, returned together
// with the decoding error.
func Decode(wireType string, data []byte) (Event, error) {
	var ev Event
	var err error

	switch Type(wireType) {
	case TypeConnectionEstablished:
		ev, err = decodeAs[ConnectionEstablished](data)
	case TypeProcessingStatusUpdate:
		ev, err = decodeAs[ProcessingStatusUpdate](data)
	case TypeMeetingCreated:
		ev, err = decodeAs[MeetingCreated](data)
	case TypeMeetingUpdated:
		ev, err = decodeAs[MeetingUpdated](data)
	case TypeTranscriptReady:
		ev, err = decodeAs[TranscriptReady](data)
	case TypeSummaryReady:
		ev, err = decodeAs[SummaryReady](data)
	case TypeSubscriptionConfirmed:
		ev, err = decodeAs[SubscriptionConfirmed](data)
	case TypeConnectionInfo:
		ev, err = decodeAs[ConnectionInfo](data)
	case TypeError:
		ev, err = decodeAs[ErrorNotice](data)
	case TypeSystemNotification:
		ev, err = decodeAs[SystemNotification](data)
	case TypeMaintenanceNotice:
		ev, err = decodeAs[MaintenanceNotice](data)
	default:
		return unknown(wireType, data), nil
	}
	if err != nil {
		return unknown(wireType, data), fmt.Errorf("failed to decode %s event: %w", wireType, err)
	}
	return ev, nil
}

func unknown(wireType string, data []byte) Unknown {
	return Unknown{RawType: wireType, Raw: append(json.RawMessage(nil), data...)}
}

func decodeAs[T Event](data []byte) (Event, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
