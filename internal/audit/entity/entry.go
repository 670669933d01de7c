package entity

import (
	"encoding/json"
	"time"
)

// Action is the closed set of privileged transitions that get audited.
type Action string

const (
	ActionContentCreate     Action = "content.create"
	ActionContentUpdate     Action = "content.update"
	ActionContentDelete     Action = "content.delete"
	ActionAccountPromote    Action = "account.promote"
	ActionAccountDemote     Action = "account.demote"
	ActionAccountActivate   Action = "account.activate"
	ActionAccountDeactivate Action = "account.deactivate"
)

func (a Action) Valid() bool {
	switch a {
	case ActionContentCreate, ActionContentUpdate, ActionContentDelete,
		ActionAccountPromote, ActionAccountDemote, ActionAccountActivate, ActionAccountDeactivate:
		return true
	}
	return false
}

// Entity types referenced by audit entries.
const (
	EntityAccount = "account"
	EntityProblem = "problem"
)

// Entry is an immutable audit record. There is no update or delete path for it.
type Entry struct {
	ID         string          `db:"id" json:"id"`
	ActorID    string          `db:"actor_id" json:"actor_id"`
	Action     Action          `db:"action" json:"action"`
	EntityType *string         `db:"entity_type" json:"entity_type,omitempty"`
	EntityID   *string         `db:"entity_id" json:"entity_id,omitempty"`
	Metadata   json.RawMessage `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}
