// Package audit defines the audit event model shared by the ingestion,
// queueing, persistence, and retention layers. Keep it transport-agnostic so
// stores and sinks can fan out.
package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Action is the fixed vocabulary of auditable operations.
type Action string

const (
	// Authentication events
	ActionLogin       Action = "login"
	ActionLogout      Action = "logout"
	ActionLoginFailed Action = "login_failed"

	// Data access events
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"

	// User management events
	ActionUserCreate     Action = "user_create"
	ActionUserUpdate     Action = "user_update"
	ActionUserDelete     Action = "user_delete"
	ActionUserActivate   Action = "user_activate"
	ActionUserDeactivate Action = "user_deactivate"
	ActionRoleChange     Action = "role_change"

	// Security events
	ActionUnauthorizedAccess Action = "unauthorized_access"
	ActionPermissionDenied   Action = "permission_denied"
	ActionSuspiciousActivity Action = "suspicious_activity"
)

// Category classifies audit events for admission-control and retention
// prioritization. It is derived from the action, never stored verbatim.
type Category string

const (
	// CategorySecurity covers access violations and anomalies. These must
	// never be silently lost while the process is alive.
	CategorySecurity Category = "security"

	// CategoryAuth covers login/logout traffic.
	CategoryAuth Category = "auth"

	// CategoryUserManagement covers account lifecycle operations.
	CategoryUserManagement Category = "user_management"

	// CategoryDataAccess covers routine CRUD against business entities.
	CategoryDataAccess Category = "data_access"
)

// actionCategories maps each action to its category. Anything not listed is
// routine data access.
var actionCategories = map[Action]Category{
	ActionUnauthorizedAccess: CategorySecurity,
	ActionPermissionDenied:   CategorySecurity,
	ActionSuspiciousActivity: CategorySecurity,

	ActionLogin:       CategoryAuth,
	ActionLogout:      CategoryAuth,
	ActionLoginFailed: CategoryAuth,

	ActionUserCreate:     CategoryUserManagement,
	ActionUserUpdate:     CategoryUserManagement,
	ActionUserDelete:     CategoryUserManagement,
	ActionUserActivate:   CategoryUserManagement,
	ActionUserDeactivate: CategoryUserManagement,
	ActionRoleChange:     CategoryUserManagement,
}

// Category returns the Category for this action. Unknown actions default to
// CategoryDataAccess.
func (a Action) Category() Category {
	if cat, ok := actionCategories[a]; ok {
		return cat
	}
	return CategoryDataAccess
}

// Event is the in-flight, queued form of an audit entry. It is created at
// request-handling time and lives only in memory until the batch worker
// persists it or admission control discards it.
type Event struct {
	// ActorID identifies the authenticated user. Zero means no authenticated
	// actor (e.g. failed logins); this is intentional, not an error state.
	ActorID      int64
	Action       Action
	ResourceType string
	ResourceID   string
	Success      bool
	IPAddress    string
	UserAgent    string
	// Details carries a structured payload (request excerpt, error message,
	// status code). The ingestion adapter caps its serialized size.
	Details    map[string]any
	EnqueuedAt time.Time
}

// Category derives the admission-control category from the event's action.
func (e Event) Category() Category {
	return e.Action.Category()
}

// Important reports whether the event qualifies for archival ahead of hard
// deletion: security events and failed actions.
func (e Event) Important() bool {
	return e.Category() == CategorySecurity || !e.Success
}

// ErrInvalidEvent is returned when an event is missing required fields.
var ErrInvalidEvent = errors.New("audit event missing required fields")

// Validate enforces the admission invariant: action, resource type, and
// enqueue time must be populated before an event enters the queue.
func (e Event) Validate() error {
	if e.Action == "" || e.ResourceType == "" || e.EnqueuedAt.IsZero() {
		return ErrInvalidEvent
	}
	return nil
}

// Record is the durable form of an Event. Immutable once written; removed only
// by the retention job.
type Record struct {
	ID uuid.UUID
	Event
	CreatedAt time.Time
}

// QueueStats is a read-only snapshot of queue health, exposed to the health
// monitor and operator dashboards.
type QueueStats struct {
	QueueSize      int           `json:"queue_size"`
	OldestEventAge time.Duration `json:"oldest_event_age"`
	Dropped        int64         `json:"dropped"`
	Evicted        int64         `json:"evicted"`
}
