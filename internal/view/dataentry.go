package view

import (
	"time"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view/auth"
)

// DataIdentity is the composite key of a business data entry.
type DataIdentity struct {
	EntryType string `json:"entryType"`
	EntryID   string `json:"entryId"`
}

// String renders the canonical "entryType#entryId" identity form.
func (d DataIdentity) String() string {
	return d.EntryType + "#" + d.EntryID
}

// DataEntryState is the processing state of a data entry with its human label.
type DataEntryState struct {
	ProcessingType string `json:"processingType,omitempty"`
	State          string `json:"state,omitempty"`
}

// DataEntry is the business data projection. Created on the first creation
// event, mutated by update events, never deleted here. Revision is an opaque
// counter from the upstream event source used only to break timestamp ties.
type DataEntry struct {
	EntryType       string           `json:"entryType"`
	EntryID         string           `json:"entryId"`
	Type            string           `json:"type,omitempty"`
	Name            string           `json:"name,omitempty"`
	ApplicationName string           `json:"applicationName,omitempty"`
	Description     string           `json:"description,omitempty"`
	State           DataEntryState   `json:"state"`
	Payload         map[string]any   `json:"payload,omitempty"`
	Authorizations  []auth.Principal `json:"authorizations,omitempty"`
	LastModified    time.Time        `json:"lastModified"`
	Revision        int64            `json:"revision"`
}

// Identity returns the composite key of the entry.
func (e DataEntry) Identity() DataIdentity {
	return DataIdentity{EntryType: e.EntryType, EntryID: e.EntryID}
}

// VisibleTo reports whether the entry is visible to the acting user.
func (e DataEntry) VisibleTo(u auth.ActingUser) bool {
	return auth.Visible(e.Authorizations, u)
}

// Copy returns a deep copy of the entry.
func (e DataEntry) Copy() DataEntry {
	c := e
	c.Authorizations = append([]auth.Principal(nil), e.Authorizations...)
	c.Payload = copyPayload(e.Payload)
	return c
}
