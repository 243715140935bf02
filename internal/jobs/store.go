package jobs

import "context"

// Store persists full queue snapshots for restart recovery.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	// Save replaces the stored snapshot.
	Save(ctx context.Context, snapshot Snapshot) error
}
