package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// UnknownJob is the display name used when a payload names no job.
const UnknownJob = "Unknown Job"

// Payload is the JSON envelope stored in every backend.
type Payload struct {
	UUID        string      `json:"uuid"`
	DisplayName string      `json:"displayName,omitempty"`
	Job         string      `json:"job"`
	MaxTries    int         `json:"maxTries,omitempty"`
	Timeout     int         `json:"timeout,omitempty"` // seconds
	Data        PayloadData `json:"data"`
	Attempts    int         `json:"attempts"`
	PushedAt    int64       `json:"pushedAt"`
}

// PayloadData carries the handler-specific arguments.
type PayloadData struct {
	CommandName string          `json:"commandName,omitempty"`
	Command     json.RawMessage `json:"command,omitempty"`
}

// NewPayload builds an envelope for the named job with command marshaled as its data.
func NewPayload(job string, command interface{}) (*Payload, error) {
	p := &Payload{
		UUID: uuid.New().String(),
		Job:  job,
		Data: PayloadData{CommandName: job},
	}
	if command != nil {
		raw, err := json.Marshal(command)
		if err != nil {
			return nil, fmt.Errorf("marshal command: %w", err)
		}
		p.Data.Command = raw
	}
	return p, nil
}

// Decode unmarshals the command into v.
func (p *Payload) Decode(v interface{}) error {
	if len(p.Data.Command) == 0 {
		return fmt.Errorf("payload %s has no command data", p.UUID)
	}
	if err := json.Unmarshal(p.Data.Command, v); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	return nil
}

// TimeoutDuration returns the job's timeout, or fallback when unset.
func (p *Payload) TimeoutDuration(fallback time.Duration) time.Duration {
	if p.Timeout <= 0 {
		return fallback
	}
	return time.Duration(p.Timeout) * time.Second
}

// Name returns the payload's display name.
func (p *Payload) Name() string {
	raw, err := json.Marshal(p)
	if err != nil {
		return UnknownJob
	}
	return DisplayName(raw)
}

// DisplayName extracts a human readable job name from a raw payload.
// It never fails; unreadable payloads are reported as UnknownJob.
func DisplayName(raw []byte) string {
	var data struct {
		DisplayName string `json:"displayName"`
		Job         string `json:"job"`
		Data        struct {
			CommandName string `json:"commandName"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return UnknownJob
	}
	switch {
	case data.DisplayName != "":
		return data.DisplayName
	case data.Data.CommandName != "":
		return basename(data.Data.CommandName)
	case data.Job != "":
		return basename(data.Job)
	default:
		return UnknownJob
	}
}

// basename strips namespace and package qualifiers from a job name.
func basename(name string) string {
	if i := strings.LastIndexAny(name, `\/.`); i >= 0 && i < len(name)-1 {
		return name[i+1:]
	}
	return name
}

// resetAttempts rewrites the attempts counter of a raw payload to zero,
// leaving every other field untouched.
func resetAttempts(raw []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	fields["attempts"] = json.RawMessage("0")
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return out, nil
}
