// internal/dag/resolver.go

// Package dag projects stored commits into the history graph used for
// visualization: parents, branch membership, primary branch and change totals.
package dag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"repo-insights/internal/database"
	"repo-insights/internal/gitx"
	"repo-insights/internal/model"
)

// batchSize bounds the id list of one bulk lookup.
const batchSize = 1000

// WorkingCopies resolves the on-disk working copy of a repository.
type WorkingCopies interface {
	Path(repoURL string) (string, error)
}

type Resolver struct {
	store  database.Store
	runner gitx.Runner
	copies WorkingCopies
	logger *slog.Logger
}

func NewResolver(store database.Store, runner gitx.Runner, copies WorkingCopies, logger *slog.Logger) *Resolver {
	return &Resolver{store: store, runner: runner, copies: copies, logger: logger}
}

// Build returns every commit of the repository oldest first. With refresh set,
// parent edges are first regenerated from a fresh walk of the working copy.
func (r *Resolver) Build(ctx context.Context, repoURL string, refresh bool) ([]model.DAGNode, error) {
	repo, err := database.FindRepository(ctx, r.store, gitx.NormalizeURL(repoURL))
	if err != nil {
		return nil, err
	}
	if refresh {
		if err := r.RefreshParents(ctx, repo, repoURL); err != nil {
			return nil, err
		}
	}

	commits, err := r.store.ListCommitsByRepo(ctx, database.ListCommitsByRepoParams{RepositoryID: repo.ID})
	if err != nil {
		return nil, fmt.Errorf("loading commits: %w", err)
	}
	ids := make([]int64, len(commits))
	hashByID := make(map[int64]string, len(commits))
	for i, c := range commits {
		ids[i] = c.ID
		hashByID[c.ID] = c.Hash
	}

	files, branches, parents, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	type totals struct{ files, added, deleted int }
	changes := make(map[int64]totals, len(commits))
	for _, f := range files {
		t := changes[f.CommitID]
		t.files++
		t.added += int(f.LinesAdded)
		t.deleted += int(f.LinesDeleted)
		changes[f.CommitID] = t
	}
	membership := make(map[int64][]string)
	primary := make(map[int64]string)
	for _, b := range branches {
		membership[b.CommitID] = append(membership[b.CommitID], b.BranchName)
		if b.IsPrimary {
			primary[b.CommitID] = b.BranchName
		}
	}
	sort.Slice(parents, func(i, j int) bool {
		if parents[i].ChildID != parents[j].ChildID {
			return parents[i].ChildID < parents[j].ChildID
		}
		return parents[i].Position < parents[j].Position
	})
	parentHashes := make(map[int64][]string)
	for _, p := range parents {
		if h, ok := hashByID[p.ParentID]; ok {
			parentHashes[p.ChildID] = append(parentHashes[p.ChildID], h)
		}
	}

	nodes := make([]model.DAGNode, 0, len(commits))
	for _, c := range commits {
		t := changes[c.ID]
		names := membership[c.ID]
		sort.Strings(names)
		nodes = append(nodes, model.DAGNode{
			Hash:          c.Hash,
			Message:       c.Message,
			Author:        c.AuthorName,
			AuthorLogin:   c.AuthorLogin,
			Timestamp:     c.CommittedAt,
			Parents:       nonNil(parentHashes[c.ID]),
			Branches:      nonNil(names),
			PrimaryBranch: primary[c.ID],
			FilesChanged:  t.files,
			Insertions:    t.added,
			Deletions:     t.deleted,
		})
	}
	return nodes, nil
}

// load batch-fetches the files, branch links and parent edges of ids.
func (r *Resolver) load(ctx context.Context, ids []int64) ([]database.CommitFile, []database.ListCommitBranchesByCommitIDsRow, []database.CommitParent, error) {
	var (
		files    []database.CommitFile
		branches []database.ListCommitBranchesByCommitIDsRow
		parents  []database.CommitParent
	)
	for start := 0; start < len(ids); start += batchSize {
		batch := ids[start:min(start+batchSize, len(ids))]
		f, err := r.store.ListCommitFilesByCommitIDs(ctx, batch)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading commit files: %w", err)
		}
		b, err := r.store.ListCommitBranchesByCommitIDs(ctx, batch)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading commit branches: %w", err)
		}
		p, err := r.store.ListCommitParentsByChildIDs(ctx, batch)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("loading commit parents: %w", err)
		}
		files = append(files, f...)
		branches = append(branches, b...)
		parents = append(parents, p...)
	}
	return files, branches, parents, nil
}

// RefreshParents rewrites the parent edges of every stored commit that the
// working copy still knows. Commits absent from the walk keep their edges.
func (r *Resolver) RefreshParents(ctx context.Context, repo database.Repository, repoURL string) error {
	logger := r.logger.With("repo", repo.Url)
	dir, err := r.copies.Path(repoURL)
	if err != nil {
		return err
	}
	entries, err := gitx.Log(ctx, r.runner, dir, gitx.LogOptions{})
	if err != nil {
		return err
	}
	refs, err := r.store.ListCommitRefs(ctx, repo.ID)
	if err != nil {
		return fmt.Errorf("loading known commits: %w", err)
	}
	ids := make(map[string]int64, len(refs))
	for _, ref := range refs {
		ids[ref.Hash] = ref.ID
	}

	var affected []int64
	var edges []database.CreateCommitParentParams
	for _, e := range entries {
		child, ok := ids[e.Hash]
		if !ok {
			continue
		}
		affected = append(affected, child)
		for pos, parentHash := range e.Parents {
			if parent, ok := ids[parentHash]; ok {
				edges = append(edges, database.CreateCommitParentParams{ParentID: parent, ChildID: child, Position: int32(pos)})
			}
		}
	}
	if len(affected) == 0 {
		return nil
	}

	var deleted int64
	err = r.store.InTx(ctx, func(q database.Querier) error {
		for start := 0; start < len(affected); start += batchSize {
			n, err := q.DeleteCommitParentsByChildIDs(ctx, affected[start:min(start+batchSize, len(affected))])
			if err != nil {
				return fmt.Errorf("clearing parent edges: %w", err)
			}
			deleted += n
		}
		for _, edge := range edges {
			if _, err := q.CreateCommitParent(ctx, edge); err != nil {
				return fmt.Errorf("storing parent edge: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("Parent edges regenerated", "commits", len(affected), "removed", deleted, "created", len(edges))
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
