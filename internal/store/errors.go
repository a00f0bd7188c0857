package store

import (
	"errors"
	"fmt"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

// RecoverableError is an alias for models.RecoverableError.
type RecoverableError = models.RecoverableError

// ErrSnapshotNotFound is matched by SnapshotNotFoundError via errors.Is.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ErrDuplicateStoredEvent is matched by DuplicateStoredEventError via errors.Is.
var ErrDuplicateStoredEvent = errors.New("event already stored")

// SnapshotNotFoundError reports a missing aggregate snapshot.
type SnapshotNotFoundError struct {
	Kind string
	Key  string
}

func (e *SnapshotNotFoundError) Error() string {
	return fmt.Sprintf("no %s snapshot for %q", e.Kind, e.Key)
}
func (e *SnapshotNotFoundError) ErrorCode() string { return "SNAPSHOT_NOT_FOUND" }
func (e *SnapshotNotFoundError) Context() map[string]string {
	return map[string]string{"kind": e.Kind, "key": e.Key}
}
func (e *SnapshotNotFoundError) SuggestedAction() string {
	return fmt.Sprintf("eco events list --%s %s", e.Kind, e.Key)
}
func (e *SnapshotNotFoundError) Is(target error) bool { return target == ErrSnapshotNotFound }

// DuplicateStoredEventError reports an accepted event whose (agent, id) is
// already in the log.
type DuplicateStoredEventError struct {
	Agent   string
	EventID string
}

func (e *DuplicateStoredEventError) Error() string {
	return fmt.Sprintf("event %q from agent %q is already stored", e.EventID, e.Agent)
}
func (e *DuplicateStoredEventError) ErrorCode() string { return "DUPLICATE_STORED_EVENT" }
func (e *DuplicateStoredEventError) Context() map[string]string {
	return map[string]string{"agent": e.Agent, "event_id": e.EventID}
}
func (e *DuplicateStoredEventError) SuggestedAction() string {
	return "resubmit with a fresh event id"
}
func (e *DuplicateStoredEventError) Is(target error) bool { return target == ErrDuplicateStoredEvent }
