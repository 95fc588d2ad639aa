// internal/ingest/branches.go
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"

	"repo-insights/internal/database"
	custom_errors "repo-insights/internal/errors"
	"repo-insights/internal/gitx"
)

// nameRevBatch caps how many hashes go into one name-rev invocation.
const nameRevBatch = 100

// Branches is the registered set of remote branches of one repository.
type Branches struct {
	Tips []gitx.RefTip
	IDs  map[string]int64
	// Added lists the branches that had no row before this discovery.
	Added []string
}

// DiscoverBranches lists the remote branches of the working copy and makes sure
// each one has a Branch row.
func (p *Pipeline) DiscoverBranches(ctx context.Context, repoID int64, dir string) (Branches, error) {
	tips, err := gitx.RemoteBranches(ctx, p.runner, dir)
	if err != nil {
		return Branches{}, err
	}
	existing, err := p.store.ListBranches(ctx, repoID)
	if err != nil {
		return Branches{}, fmt.Errorf("loading branches: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, b := range existing {
		known[b.Name] = true
	}

	branches := Branches{Tips: tips, IDs: make(map[string]int64, len(tips))}
	for _, tip := range tips {
		b, err := p.store.UpsertBranch(ctx, database.UpsertBranchParams{RepositoryID: repoID, Name: tip.Name})
		if err != nil {
			return Branches{}, fmt.Errorf("registering branch %s: %w", tip.Name, err)
		}
		branches.IDs[tip.Name] = b.ID
		if !known[tip.Name] {
			branches.Added = append(branches.Added, tip.Name)
		}
	}
	return branches, nil
}

// linkAddedBranches links commits stored by earlier runs to the branches that
// appeared since, such as a branch cut from old history. A new link is primary
// only for a commit that has no primary branch yet.
func (p *Pipeline) linkAddedBranches(ctx context.Context, logger *slog.Logger, dir string, branches Branches, ids map[string]int64) (int, error) {
	if len(branches.Added) == 0 || len(ids) == 0 {
		return 0, nil
	}
	targets := make(map[int64][]string)
	for _, name := range branches.Added {
		hashes, err := gitx.RevList(ctx, p.runner, dir, gitx.RemoteRef(name))
		if err != nil {
			logger.Warn("Branch walk failed", "error", &custom_errors.TransientToolError{Op: "rev-list", Unit: name, Err: err})
			continue
		}
		for _, h := range hashes {
			if id, ok := ids[h]; ok {
				targets[id] = append(targets[id], name)
			}
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	commitIDs := make([]int64, 0, len(targets))
	for id := range targets {
		commitIDs = append(commitIDs, id)
	}
	links, err := p.store.ListCommitBranchesByCommitIDs(ctx, commitIDs)
	if err != nil {
		return 0, fmt.Errorf("loading branch links: %w", err)
	}
	hasPrimary := make(map[int64]bool, len(links))
	for _, l := range links {
		if l.IsPrimary {
			hasPrimary[l.CommitID] = true
		}
	}

	var linked int
	err = p.store.InTx(ctx, func(q database.Querier) error {
		linked = 0
		for id, names := range targets {
			sort.Strings(names)
			primary := ""
			if !hasPrimary[id] {
				primary = choosePrimary("", p.defaultBranch, names)
			}
			for _, name := range names {
				n, err := q.CreateCommitBranch(ctx, database.CreateCommitBranchParams{
					CommitID:  id,
					BranchID:  branches.IDs[name],
					IsPrimary: name == primary,
				})
				if err != nil {
					return fmt.Errorf("branch link %s: %w", name, err)
				}
				linked += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if linked > 0 {
		logger.Info("Linked stored commits to new branches", "branches", branches.Added, "links", linked)
	}
	return linked, nil
}

// membership resolves which branches contain each of the wanted hashes. Every
// branch is walked once; commits outside all of them are asked about one by one.
func (p *Pipeline) membership(ctx context.Context, logger *slog.Logger, dir string, branches Branches, wanted map[string]bool) map[string][]string {
	members := make(map[string][]string, len(wanted))
	for _, tip := range branches.Tips {
		hashes, err := gitx.RevList(ctx, p.runner, dir, gitx.RemoteRef(tip.Name))
		if err != nil {
			logger.Warn("Branch walk failed", "error", &custom_errors.TransientToolError{Op: "rev-list", Unit: tip.Name, Err: err})
			continue
		}
		for _, h := range hashes {
			if wanted[h] {
				members[h] = append(members[h], tip.Name)
			}
		}
	}
	for h := range wanted {
		if len(members[h]) > 0 {
			continue
		}
		names, err := gitx.BranchesContaining(ctx, p.runner, dir, h)
		if err != nil {
			logger.Warn("Branch lookup failed", "error", &custom_errors.TransientToolError{Op: "branch --contains", Unit: h, Err: err})
			continue
		}
		members[h] = names
	}
	for h := range members {
		sort.Strings(members[h])
	}
	return members
}

// nameRevs asks git for the most specific branch of every hash, in batches.
func (p *Pipeline) nameRevs(ctx context.Context, logger *slog.Logger, dir string, hashes []string) map[string]string {
	named := make(map[string]string, len(hashes))
	for start := 0; start < len(hashes); start += nameRevBatch {
		batch := hashes[start:min(start+nameRevBatch, len(hashes))]
		names, err := gitx.NameRev(ctx, p.runner, dir, batch)
		if err != nil {
			logger.Warn("name-rev failed", "error", &custom_errors.TransientToolError{Op: "name-rev", Unit: batch[0], Err: err})
			continue
		}
		for i, h := range batch {
			named[h] = names[i]
		}
	}
	return named
}

// choosePrimary picks the one branch a commit is displayed under: the name-rev
// answer when it is a member, else the default branch when it is a member, else
// the lexicographically smallest member. members must be sorted.
func choosePrimary(nameRev, defaultBranch string, members []string) string {
	if len(members) == 0 {
		return ""
	}
	if nameRev != "" && slices.Contains(members, nameRev) {
		return nameRev
	}
	if defaultBranch != "" && slices.Contains(members, defaultBranch) {
		return defaultBranch
	}
	return members[0]
}
