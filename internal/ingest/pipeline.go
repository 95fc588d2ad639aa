// internal/ingest/pipeline.go

// Package ingest turns the history of a working copy into commit, file, branch
// and parent rows.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"repo-insights/internal/database"
	custom_errors "repo-insights/internal/errors"
	"repo-insights/internal/gitx"
)

// Pipeline ingests commits. It is safe to run repeatedly; only commits missing
// from the store are written.
type Pipeline struct {
	store         database.Store
	runner        gitx.Runner
	logger        *slog.Logger
	defaultBranch string
}

func NewPipeline(store database.Store, runner gitx.Runner, logger *slog.Logger, defaultBranch string) *Pipeline {
	return &Pipeline{store: store, runner: runner, logger: logger, defaultBranch: defaultBranch}
}

// Result counts the rows a run created.
type Result struct {
	Commits        int
	Files          int
	CommitBranches int
	Parents        int
}

// Ingest walks the full history of dir once and stores every commit the
// repository does not have yet, oldest first so parents precede children.
func (p *Pipeline) Ingest(ctx context.Context, repo database.Repository, dir string, branches Branches) (Result, error) {
	logger := p.logger.With("repo", repo.Url)

	entries, err := gitx.Log(ctx, p.runner, dir, gitx.LogOptions{})
	if err != nil {
		return Result{}, err
	}
	refs, err := p.store.ListCommitRefs(ctx, repo.ID)
	if err != nil {
		return Result{}, fmt.Errorf("loading known commits: %w", err)
	}
	ids := make(map[string]int64, len(refs)+len(entries))
	for _, r := range refs {
		ids[r.Hash] = r.ID
	}

	var fresh []gitx.LogEntry
	wanted := make(map[string]bool)
	for _, e := range entries {
		if _, ok := ids[e.Hash]; !ok && !wanted[e.Hash] {
			fresh = append(fresh, e)
			wanted[e.Hash] = true
		}
	}
	relinked, err := p.linkAddedBranches(ctx, logger, dir, branches, ids)
	if err != nil {
		return Result{}, err
	}
	if len(fresh) == 0 {
		logger.Debug("No new commits", "known", len(refs))
		if relinked > 0 {
			if err := p.store.DeleteContributionSnapshots(ctx, repo.ID); err != nil {
				return Result{}, fmt.Errorf("invalidating contribution snapshots: %w", err)
			}
		}
		return Result{CommitBranches: relinked}, nil
	}
	logger.Info("Ingesting commits", "new", len(fresh), "known", len(refs))

	members := p.membership(ctx, logger, dir, branches, wanted)
	hashes := make([]string, len(fresh))
	for i, e := range fresh {
		hashes[i] = e.Hash
	}
	named := p.nameRevs(ctx, logger, dir, hashes)

	renames, err := gitx.Renames(ctx, p.runner, dir)
	if err != nil {
		logger.Warn("Rename walk failed, paths stay as recorded", "error", err)
	}
	resolver := gitx.NewRenameResolver(renames)
	renamedFrom := renamesByCommit(renames)

	branchIDs := make(map[string]int64, len(branches.IDs))
	for name, id := range branches.IDs {
		branchIDs[name] = id
	}
	users := make(map[string]int64)

	total := Result{CommitBranches: relinked}
	for _, e := range fresh {
		c := commitPlan{
			entry:   e,
			files:   p.paths(logger, e, resolver, renamedFrom[e.Hash]),
			members: members[e.Hash],
			primary: choosePrimary(named[e.Hash], p.defaultBranch, members[e.Hash]),
		}
		var s stored
		err := p.store.InTx(ctx, func(q database.Querier) error {
			var err error
			s, err = p.storeCommit(ctx, q, repo.ID, c, ids, branchIDs, users)
			return err
		})
		if err != nil {
			return total, fmt.Errorf("storing commit %s: %w", e.Hash, err)
		}
		ids[e.Hash] = s.commitID
		users[authorLogin(e)] = s.userID
		for name, id := range s.branches {
			branchIDs[name] = id
		}
		res := s.res
		total.Commits += res.Commits
		total.Files += res.Files
		total.CommitBranches += res.CommitBranches
		total.Parents += res.Parents
	}

	if err := p.store.DeleteContributionSnapshots(ctx, repo.ID); err != nil {
		return total, fmt.Errorf("invalidating contribution snapshots: %w", err)
	}
	logger.Info("Commits ingested",
		"commits", total.Commits, "files", total.Files, "branch_links", total.CommitBranches, "parents", total.Parents)
	return total, nil
}

type commitPlan struct {
	entry   gitx.LogEntry
	files   []filePlan
	members []string
	primary string
}

// filePlan is one file of a commit: its canonical path, the name it had in the
// commit and the name it had in the first parent.
type filePlan struct {
	path   string
	source string
	parent string
}

// stored is what one committed transaction added, for the caller's lookup maps.
type stored struct {
	res      Result
	commitID int64
	userID   int64
	branches map[string]int64
}

// storeCommit writes one commit with its author, files, branch links and parent
// edges. It only reads the shared maps; the caller updates them after commit.
func (p *Pipeline) storeCommit(ctx context.Context, q database.Querier, repoID int64, c commitPlan,
	ids, branchIDs, users map[string]int64,
) (stored, error) {
	var res Result
	e := c.entry

	login := authorLogin(e)
	userID, ok := users[login]
	if !ok {
		u, err := q.UpsertUser(ctx, database.UpsertUserParams{Login: login, Name: e.AuthorName, Email: e.AuthorEmail})
		if err != nil {
			return stored{}, fmt.Errorf("author %s: %w", login, err)
		}
		userID = u.ID
	}

	commit, err := q.CreateCommit(ctx, database.CreateCommitParams{
		RepositoryID: repoID,
		Hash:         e.Hash,
		AuthorID:     userID,
		Message:      e.Message,
		CommittedAt:  e.AuthoredAt,
	})
	if err != nil {
		return stored{}, err
	}
	res.Commits = 1

	for _, f := range c.files {
		n, err := q.CreateCommitFile(ctx, database.CreateCommitFileParams{
			CommitID:   commit.ID,
			Path:       f.path,
			SourcePath: f.source,
			ParentPath: f.parent,
		})
		if err != nil {
			return stored{}, fmt.Errorf("file %s: %w", f.path, err)
		}
		res.Files += int(n)
	}

	created := make(map[string]int64)
	for _, name := range c.members {
		branchID, ok := branchIDs[name]
		if !ok {
			b, err := q.UpsertBranch(ctx, database.UpsertBranchParams{RepositoryID: repoID, Name: name})
			if err != nil {
				return stored{}, fmt.Errorf("branch %s: %w", name, err)
			}
			branchID = b.ID
			created[name] = b.ID
		}
		n, err := q.CreateCommitBranch(ctx, database.CreateCommitBranchParams{
			CommitID:  commit.ID,
			BranchID:  branchID,
			IsPrimary: name == c.primary,
		})
		if err != nil {
			return stored{}, fmt.Errorf("branch link %s: %w", name, err)
		}
		res.CommitBranches += int(n)
	}

	for position, parentHash := range e.Parents {
		parentID, ok := ids[parentHash]
		if !ok {
			continue
		}
		n, err := q.CreateCommitParent(ctx, database.CreateCommitParentParams{
			ParentID: parentID,
			ChildID:  commit.ID,
			Position: int32(position),
		})
		if err != nil {
			return stored{}, fmt.Errorf("parent %s: %w", parentHash, err)
		}
		res.Parents += int(n)
	}
	return stored{res: res, commitID: commit.ID, userID: userID, branches: created}, nil
}

// renamesByCommit indexes renames by commit, mapping each new name to the
// name it had in the parent.
func renamesByCommit(renames []gitx.Rename) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, r := range renames {
		oldPath, newPath := gitx.NormalizePath(r.Old), gitx.NormalizePath(r.New)
		if r.Commit == "" || oldPath == "" || newPath == "" {
			continue
		}
		if out[r.Commit] == nil {
			out[r.Commit] = make(map[string]string)
		}
		out[r.Commit][newPath] = oldPath
	}
	return out
}

// paths normalizes and rename-resolves the files of one commit, dropping
// duplicates and names that normalize to nothing. renamedFrom maps the names
// the commit renamed to their parent-side names. When two names collapse onto
// one canonical path the rename target wins, since the old name no longer
// exists in the commit.
func (p *Pipeline) paths(logger *slog.Logger, e gitx.LogEntry, resolver *gitx.RenameResolver, renamedFrom map[string]string) []filePlan {
	index := make(map[string]int, len(e.Files))
	var out []filePlan
	for _, raw := range e.Files {
		source := gitx.NormalizePath(raw)
		if source == "" {
			logger.Warn("Skipping malformed path",
				"error", &custom_errors.TransientToolError{Op: "normalize path", Unit: e.Hash, Err: fmt.Errorf("%q", raw)})
			continue
		}
		f := filePlan{path: resolver.Resolve(source), source: source, parent: source}
		old, renamed := renamedFrom[source]
		if renamed {
			f.parent = old
		}
		if i, seen := index[f.path]; seen {
			if renamed {
				out[i] = f
			}
			continue
		}
		index[f.path] = len(out)
		out = append(out, f)
	}
	return out
}

// authorLogin derives the user key of a commit author: the lower-cased email,
// or the name when the email is empty.
func authorLogin(e gitx.LogEntry) string {
	if email := strings.TrimSpace(e.AuthorEmail); email != "" {
		return strings.ToLower(email)
	}
	if name := strings.TrimSpace(e.AuthorName); name != "" {
		return name
	}
	return "unknown"
}
