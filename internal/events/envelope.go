package events

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire form of a domain event: a type discriminator plus the
// JSON-encoded event payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	TypeTaskCreated                = "task.created"
	TypeTaskAssigned               = "task.assigned"
	TypeTaskCompleted              = "task.completed"
	TypeTaskDeleted                = "task.deleted"
	TypeTaskAttributesUpdated      = "task.attributes-updated"
	TypeTaskCandidateGroupsChanged = "task.candidate-groups-changed"
	TypeTaskCandidateUsersChanged  = "task.candidate-users-changed"
	TypeDataEntryCreated           = "data-entry.created"
	TypeDataEntryUpdated           = "data-entry.updated"
)

// Decode unmarshals the envelope payload into its concrete event, which is
// either a TaskEvent or a DataEntryEvent.
func (e Envelope) Decode() (any, error) {
	var target any
	switch e.Type {
	case TypeTaskCreated:
		target = &TaskCreated{}
	case TypeTaskAssigned:
		target = &TaskAssigned{}
	case TypeTaskCompleted:
		target = &TaskCompleted{}
	case TypeTaskDeleted:
		target = &TaskDeleted{}
	case TypeTaskAttributesUpdated:
		target = &TaskAttributesUpdated{}
	case TypeTaskCandidateGroupsChanged:
		target = &TaskCandidateGroupsChanged{}
	case TypeTaskCandidateUsersChanged:
		target = &TaskCandidateUsersChanged{}
	case TypeDataEntryCreated:
		target = &DataEntryCreated{}
	case TypeDataEntryUpdated:
		target = &DataEntryUpdated{}
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", e.Type, err)
	}
	switch ev := target.(type) {
	case *TaskCreated:
		return *ev, nil
	case *TaskAssigned:
		return *ev, nil
	case *TaskCompleted:
		return *ev, nil
	case *TaskDeleted:
		return *ev, nil
	case *TaskAttributesUpdated:
		return *ev, nil
	case *TaskCandidateGroupsChanged:
		return *ev, nil
	case *TaskCandidateUsersChanged:
		return *ev, nil
	case *DataEntryCreated:
		return *ev, nil
	case *DataEntryUpdated:
		return *ev, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
}

// Encode wraps a concrete event into its envelope.
func Encode(event any) (Envelope, error) {
	var typ string
	switch event.(type) {
	case TaskCreated:
		typ = TypeTaskCreated
	case TaskAssigned:
		typ = TypeTaskAssigned
	case TaskCompleted:
		typ = TypeTaskCompleted
	case TaskDeleted:
		typ = TypeTaskDeleted
	case TaskAttributesUpdated:
		typ = TypeTaskAttributesUpdated
	case TaskCandidateGroupsChanged:
		typ = TypeTaskCandidateGroupsChanged
	case TaskCandidateUsersChanged:
		typ = TypeTaskCandidateUsersChanged
	case DataEntryCreated:
		typ = TypeDataEntryCreated
	case DataEntryUpdated:
		typ = TypeDataEntryUpdated
	default:
		return Envelope{}, fmt.Errorf("unsupported event %T", event)
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s event: %w", typ, err)
	}
	return Envelope{Type: typ, Payload: payload}, nil
}
