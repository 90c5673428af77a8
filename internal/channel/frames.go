package channel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Frame types handled by the channel itself.
const (
	FramePing               = "ping"
	FramePong               = "pong"
	FrameSubscribeToJob     = "subscribe_to_job"
	FrameUnsubscribeFromJob = "unsubscribe_from_job"
	FrameGetConnectionInfo  = "get_connection_info"
)

const jobTopicPrefix = "job:"

// Envelope is the part of every frame needed to route it.
type Envelope struct {
	Type string `json:"type"`
}

type jobFrame struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
}

type pongFrame struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
}

// JobTopic returns the subscription topic for a job.
func JobTopic(jobID string) string {
	return jobTopicPrefix + jobID
}

// ParseTopic extracts the job id from a topic.
func ParseTopic(topic string) (string, error) {
	id, ok := strings.CutPrefix(topic, jobTopicPrefix)
	if !ok || id == "" {
		return "", fmt.Errorf("invalid topic %q: want %s<id>", topic, jobTopicPrefix)
	}
	return id, nil
}

func subscribeFrame(jobID string) []byte {
	data, _ := json.Marshal(jobFrame{Type: FrameSubscribeToJob, JobID: jobID})
	return data
}

func unsubscribeFrame(jobID string) []byte {
	data, _ := json.Marshal(jobFrame{Type: FrameUnsubscribeFromJob, JobID: jobID})
	return data
}

func pong(now time.Time) []byte {
	data, _ := json.Marshal(pongFrame{Type: FramePong, Timestamp: now.UTC().Format(time.RFC3339Nano)})
	return data
}

// ConnectionInfoRequest asks the server for a connection_info frame.
func ConnectionInfoRequest() []byte {
	data, _ := json.Marshal(Envelope{Type: FrameGetConnectionInfo})
	return data
}

// frameType reads the type of an outbound frame for metrics. Unparseable frames are "raw".
func frameType(data []byte) string {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
		return "raw"
	}
	return env.Type
}
