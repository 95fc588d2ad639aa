// internal/stats/ledger.go
package stats

import (
	"context"
	"fmt"

	"repo-insights/internal/database"
)

// ledgerBatch bounds the id list of one ledger lookup.
const ledgerBatch = 1000

// pendingCommits returns the commits of a repository that have no ledger entry
// for kind, oldest id first.
func pendingCommits(ctx context.Context, q database.Querier, repoID int64, kind string) ([]database.ListCommitRefsRow, error) {
	refs, err := q.ListCommitRefs(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("loading commits: %w", err)
	}
	done := make(map[int64]bool, len(refs))
	for start := 0; start < len(refs); start += ledgerBatch {
		batch := refs[start:min(start+ledgerBatch, len(refs))]
		ids := make([]int64, len(batch))
		for i, r := range batch {
			ids[i] = r.ID
		}
		synced, err := q.ListSyncedEntityIDs(ctx, database.ListSyncedEntityIDsParams{TaskKind: kind, EntityIds: ids})
		if err != nil {
			return nil, fmt.Errorf("loading %s ledger: %w", kind, err)
		}
		for _, id := range synced {
			done[id] = true
		}
	}
	pending := refs[:0:0]
	for _, r := range refs {
		if !done[r.ID] {
			pending = append(pending, r)
		}
	}
	return pending, nil
}
