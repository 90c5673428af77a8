package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		wireType string
		data     string
		check    func(t *testing.T, ev Event)
	}{
		{
			name:     "processing status",
			wireType: "processing_status_update",
			data:     `{"type":"processing_status_update","job_id":"j1","meeting_id":"m1","status":"transcribing","progress":40,"timestamp":"2024-05-01T10:00:00.123456"}`,
			check: func(t *testing.T, ev Event) {
				u := ev.(ProcessingStatusUpdate)
				assert.Equal(t, "j1", u.JobID)
				assert.Equal(t, "transcribing", u.Status)
				require.NotNil(t, u.Progress)
				assert.Equal(t, 40, *u.Progress)
				assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC), u.Timestamp.Time)
			},
		},
		{
			name:     "maintenance without schedule",
			wireType: "maintenance_notice",
			data:     `{"type":"maintenance_notice","message":"db upgrade","scheduled_time":null,"timestamp":"2024-05-01T10:00:00Z"}`,
			check: func(t *testing.T, ev Event) {
				n := ev.(MaintenanceNotice)
				assert.Equal(t, "db upgrade", n.Message)
				assert.True(t, n.ScheduledTime.IsZero())
			},
		},
		{
			name:     "error",
			wireType: "error",
			data:     `{"type":"error","error_message":"Invalid JSON format"}`,
			check: func(t *testing.T, ev Event) {
				assert.Equal(t, "Invalid JSON format", ev.(ErrorNotice).ErrorMessage)
			},
		},
		{
			name:     "subscription confirmed",
			wireType: "subscription_confirmed",
			data:     `{"type":"subscription_confirmed","subscription":"job:42"}`,
			check: func(t *testing.T, ev Event) {
				assert.Equal(t, "job:42", ev.(SubscriptionConfirmed).Subscription)
			},
		},
		{
			name:     "unknown",
			wireType: "broadcast",
			data:     `{"type":"broadcast","message":"hi"}`,
			check: func(t *testing.T, ev Event) {
				u := ev.(Unknown)
				assert.Equal(t, "broadcast", u.RawType)
				assert.JSONEq(t, `{"type":"broadcast","message":"hi"}`, string(u.Raw))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode(tt.wireType, []byte(tt.data))
			require.NoError(t, err)
			tt.check(t, ev)
		})
	}
}

func TestDecode_BadPayloadFallsBackToUnknown(t *testing.T) {
	tests := []struct {
		name     string
		wireType string
		data     string
	}{
		{"wrong field type", "summary_ready", `{"type":"summary_ready","meeting_id": 12}`},
		{"string progress", "processing_status_update", `{"type":"processing_status_update","job_id":"j1","progress":"half"}`},
		{"bad timestamp", "connection_established", `{"type":"connection_established","server_time":"yesterday"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode(tt.wireType, []byte(tt.data))
			assert.Error(t, err)
			require.IsType(t, Unknown{}, ev)
			unknown := ev.(Unknown)
			assert.Equal(t, tt.wireType, unknown.RawType)
			assert.JSONEq(t, tt.data, string(unknown.Raw))
		})
	}
}
