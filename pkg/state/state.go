// Package state persists the orchestrator's flat snapshot: phase table,
// approvals, vigilance state, autonomy mode, and the approved-once set.
package state

import (
	"time"

	"conductor/pkg/approval"
	"conductor/pkg/autonomy"
	"conductor/pkg/phase"
	"conductor/pkg/vigilance"
)

// Snapshot is the single JSON-shaped document describing a session. It is
// written whole with atomic-overwrite semantics; there is no transaction log.
type Snapshot struct {
	Phases        map[phase.Code]*phase.Phase `json:"phases"`
	Approvals     *approval.State             `json:"approvals"`
	Vigilance     *vigilance.State            `json:"vigilance"`
	AutonomyMode  autonomy.Mode               `json:"autonomy_mode"`
	ApprovedRoles []phase.Role                `json:"approved_roles"` // mode-2 approved-once set
	SavedAt       time.Time                   `json:"saved_at"`
}

// Store loads and saves snapshots. Save must be atomic: a reader never
// observes a partially written snapshot.
type Store interface {
	// Load returns the last saved snapshot, or nil when none exists.
	Load() (*Snapshot, error)
	// Save overwrites the stored snapshot.
	Save(*Snapshot) error
}
