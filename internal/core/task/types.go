package task

import (
	"context"
)

// TaskType defines the type of asynchronous task
type TaskType string

const (
	TaskTypeInboundCall    TaskType = "inbound_call"    // Bridge an arriving carrier call into an agent room
	TaskTypeOutboundCall   TaskType = "outbound_call"   // Place an outbound call and bridge it
	TaskTypeCallCompletion TaskType = "call_completion" // Finalize a call after the provider reports it done
)

// CallTask represents an asynchronous task payload
type CallTask struct {
	Type    TaskType `json:"type"`
	CallID  string   `json:"call_id"`
	Payload []byte   `json:"payload"` // JSON payload of the original request
}

// Bus defines the interface for the task bus
type Bus interface {
	Publish(ctx context.Context, task CallTask) error
	Subscribe(ctx context.Context, handler func(CallTask)) error
}
