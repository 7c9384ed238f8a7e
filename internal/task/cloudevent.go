package task

import "time"

// CloudEvent is the wire representation of a Task per CNCF CloudEvents
// 1.0, with a W3C traceparent extension for distributed tracing.
type CloudEvent struct {
	SpecVersion     string         `json:"specversion"`
	ID              string         `json:"id"`
	Source          string         `json:"source"`
	Type            string         `json:"type"`
	Time            time.Time      `json:"time"`
	DataContentType string         `json:"datacontenttype"`
	Data            CloudEventData `json:"data"`
	TraceParent     string         `json:"traceparent,omitempty"`
}

// CloudEventData is the `data` payload of a CloudEvent carrying a Task.
type CloudEventData struct {
	SourceAgent string         `json:"source_agent"`
	TargetAgent string         `json:"target_agent,omitempty"`
	Action      string         `json:"action"`
	Parameters  map[string]any `json:"parameters"`
	TaskID      string         `json:"task_id"`
	Status      string         `json:"status"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
}

// ToCloudEvent renders the task as its wire envelope. traceparent is
// supplied by the caller (typically derived from an active OpenTelemetry
// span) since the task itself carries no tracing context.
func (t *Task) ToCloudEvent(source, traceparent string) CloudEvent {
	snap := t.Snapshot()
	return CloudEvent{
		SpecVersion:     "1.0",
		ID:              snap.TaskID + ":event:" + string(snap.Action),
		Source:          source,
		Type:            string(snap.Action),
		Time:            snap.UpdatedAt,
		DataContentType: "application/json",
		TraceParent:     traceparent,
		Data: CloudEventData{
			SourceAgent: snap.SourceAgent,
			TargetAgent: snap.TargetAgent,
			Action:      string(snap.Action),
			Parameters:  snap.Parameters,
			TaskID:      snap.TaskID,
			Status:      string(snap.Status),
			Result:      snap.Result,
			Error:       snap.Error,
			SessionID:   snap.SessionID,
		},
	}
}

// FromCloudEvent reconstructs a Task from the fields CloudEventData
// carries. Timestamps come back as the event's own `time` for both
// created_at and updated_at. ErrorKind, ParentTaskID and Metadata are not
// on the wire, so a round trip returns them empty.
func FromCloudEvent(ev CloudEvent) *Task {
	t := &Task{
		TaskID:      ev.Data.TaskID,
		SourceAgent: ev.Data.SourceAgent,
		TargetAgent: ev.Data.TargetAgent,
		Action:      Action(ev.Data.Action),
		Parameters:  ev.Data.Parameters,
		Status:      Status(ev.Data.Status),
		Result:      ev.Data.Result,
		Error:       ev.Data.Error,
		SessionID:   ev.Data.SessionID,
		CreatedAt:   ev.Time,
		UpdatedAt:   ev.Time,
		Metadata:    map[string]any{},
	}
	if t.Parameters == nil {
		t.Parameters = map[string]any{}
	}
	return t
}
