// internal/ingest/pipeline_test.go
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repo-insights/internal/database"
	"repo-insights/internal/database/dbtest"
)

const repoDir = "/work/acme/widgets"

type logCommit struct {
	hash, parents, name, email, date, message string
	files                                     []string
}

func renderLog(commits ...logCommit) string {
	var b strings.Builder
	for _, c := range commits {
		fmt.Fprintf(&b, "\x1e%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s\n\x1f", c.hash, c.parents, c.name, c.email, c.date, c.message)
		if len(c.files) > 0 {
			b.WriteString("\n\n" + strings.Join(c.files, "\n") + "\n")
		}
	}
	return b.String()
}

// history: A is the root, B extends main, C is on feature, M merges feature into main.
var history = []logCommit{
	{hash: "aaa", name: "Ada", email: "Ada@Example.com", date: "2024-01-01T10:00:00Z", message: "init",
		files: []string{"README.md", "src/old.go"}},
	{hash: "bbb", parents: "aaa", name: "Ada", email: "ada@example.com", date: "2024-01-02T10:00:00Z", message: "docs",
		files: []string{`"docs/caf\303\251.md"`, "./"}},
	{hash: "ccc", parents: "aaa", name: "Bob", email: "bob@example.com", date: "2024-01-03T10:00:00Z", message: "feature",
		files: []string{"src/new.go", "src/new.go"}},
	{hash: "mmm", parents: "bbb ccc", name: "Ada", email: "ada@example.com", date: "2024-01-04T10:00:00Z", message: "Merge feature"},
}

// scriptedGit answers the commands the pipeline issues.
type scriptedGit struct {
	mu       sync.Mutex
	calls    []string
	log      string
	revLists map[string]string
	revErrs  map[string]error
	nameRev  map[string]string
	contains map[string]string
	renames  string
	tips     string
}

func newScriptedGit() *scriptedGit {
	return &scriptedGit{
		log: renderLog(history...),
		revLists: map[string]string{
			"refs/remotes/origin/main":    "mmm\nccc\nbbb\naaa",
			"refs/remotes/origin/feature": "ccc\naaa",
		},
		revErrs: map[string]error{},
		nameRev: map[string]string{
			"aaa": "remotes/origin/feature~1",
			"bbb": "remotes/origin/main~1",
			"ccc": "undefined",
			"mmm": "remotes/origin/main",
		},
		contains: map[string]string{},
		renames:  "\x1eccc\n\nR100\tsrc/old.go\tsrc/new.go",
		tips:     "origin/main\x1fmmm\norigin/feature\x1fccc",
	}
}

func (g *scriptedGit) Run(_ context.Context, dir string, args ...string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, strings.Join(args, " "))
	if dir != repoDir {
		return "", fmt.Errorf("unexpected dir %q", dir)
	}
	switch args[0] {
	case "for-each-ref":
		return g.tips, nil
	case "log":
		if args[1] == "--all" {
			return g.renames, nil
		}
		return g.log, nil
	case "rev-list":
		if err := g.revErrs[args[1]]; err != nil {
			return "", err
		}
		return g.revLists[args[1]], nil
	case "name-rev":
		var lines []string
		for _, h := range args[3:] {
			name, ok := g.nameRev[h]
			if !ok {
				name = "undefined"
			}
			lines = append(lines, name)
		}
		return strings.Join(lines, "\n"), nil
	case "branch":
		return g.contains[args[3]], nil
	}
	return "", fmt.Errorf("unexpected call: %v", args)
}

func (g *scriptedGit) count(prefix string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func setup(t *testing.T, git *scriptedGit) (*Pipeline, *dbtest.Store, database.Repository) {
	t.Helper()
	store := dbtest.New()
	ctx := context.Background()
	_, err := store.CreateRepository(ctx, database.CreateRepositoryParams{Url: "https://github.com/acme/widgets", Host: "github.com", Owner: "acme", Name: "widgets"})
	require.NoError(t, err)
	repo, err := store.GetRepositoryByURL(ctx, "https://github.com/acme/widgets")
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPipeline(store, git, logger, "main"), store, repo
}

func runOnce(t *testing.T, p *Pipeline, repo database.Repository) Result {
	t.Helper()
	ctx := context.Background()
	branches, err := p.DiscoverBranches(ctx, repo.ID, repoDir)
	require.NoError(t, err)
	res, err := p.Ingest(ctx, repo, repoDir, branches)
	require.NoError(t, err)
	return res
}

func TestIngest_StoresHistory(t *testing.T) {
	git := newScriptedGit()
	p, store, repo := setup(t, git)
	ctx := context.Background()

	res := runOnce(t, p, repo)
	assert.Equal(t, Result{Commits: 4, Files: 4, CommitBranches: 6, Parents: 4}, res)
	assert.Equal(t, 2, store.CountUsers(), "authors are keyed by lower-cased email")

	refs, err := store.ListCommitRefs(ctx, repo.ID)
	require.NoError(t, err)
	ids := map[string]int64{}
	for _, r := range refs {
		ids[r.Hash] = r.ID
	}

	files, err := store.ListCommitFilesByCommitIDs(ctx, []int64{ids["aaa"], ids["bbb"], ids["ccc"]})
	require.NoError(t, err)
	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
		assert.Zero(t, f.LinesAdded)
	}
	assert.ElementsMatch(t, []string{"README.md", "src/new.go", "docs/café.md", "src/new.go"}, paths,
		"renamed paths resolve to the current name, escapes decode, duplicates and empty names drop")

	links, err := store.ListCommitBranchesByCommitIDs(ctx, []int64{ids["aaa"], ids["bbb"], ids["ccc"], ids["mmm"]})
	require.NoError(t, err)
	primary := map[int64]string{}
	for _, l := range links {
		if l.IsPrimary {
			_, dup := primary[l.CommitID]
			assert.False(t, dup, "one primary branch per commit")
			primary[l.CommitID] = l.BranchName
		}
	}
	assert.Equal(t, "feature", primary[ids["aaa"]], "name-rev answer wins when it is a member")
	assert.Equal(t, "main", primary[ids["bbb"]])
	assert.Equal(t, "main", primary[ids["ccc"]], "default branch breaks the tie when name-rev is silent")
	assert.Equal(t, "main", primary[ids["mmm"]])

	parents, err := store.ListCommitParentsByChildIDs(ctx, []int64{ids["mmm"]})
	require.NoError(t, err)
	require.Len(t, parents, 2)
	assert.Equal(t, database.CommitParent{ParentID: ids["bbb"], ChildID: ids["mmm"], Position: 0}, parents[0])
	assert.Equal(t, database.CommitParent{ParentID: ids["ccc"], ChildID: ids["mmm"], Position: 1}, parents[1])
}

func TestIngest_RecordsHistoricalPaths(t *testing.T) {
	git := newScriptedGit()
	// Without rename detection in the log both names of ccc's rename show up.
	git.log = renderLog(history[0], history[1], logCommit{
		hash: "ccc", parents: "aaa", name: "Bob", email: "bob@example.com", date: "2024-01-03T10:00:00Z", message: "feature",
		files: []string{"src/old.go", "src/new.go"},
	}, history[3])
	p, store, repo := setup(t, git)
	ctx := context.Background()
	runOnce(t, p, repo)

	byCommit := func(hash string) []database.CommitFile {
		c, err := store.GetCommitByHash(ctx, database.GetCommitByHashParams{RepositoryID: repo.ID, Hash: hash})
		require.NoError(t, err)
		files, err := store.ListCommitFilesByCommitIDs(ctx, []int64{c.ID})
		require.NoError(t, err)
		return files
	}

	var before database.CommitFile
	for _, f := range byCommit("aaa") {
		if f.Path == "src/new.go" {
			before = f
		}
	}
	assert.Equal(t, "src/old.go", before.SourcePath, "the root commit still reads the file by its old name")
	assert.Equal(t, "src/old.go", before.ParentPath)

	renamed := byCommit("ccc")
	require.Len(t, renamed, 1)
	assert.Equal(t, "src/new.go", renamed[0].Path)
	assert.Equal(t, "src/new.go", renamed[0].SourcePath)
	assert.Equal(t, "src/old.go", renamed[0].ParentPath, "the rename commit diffs against the parent-side name")
}

func TestIngest_SecondRunIsNoOp(t *testing.T) {
	git := newScriptedGit()
	p, store, repo := setup(t, git)

	runOnce(t, p, repo)
	commits, files, links := store.CountCommits(), store.CountCommitFiles(), store.CountCommitBranches()
	revLists := git.count("rev-list")

	res := runOnce(t, p, repo)
	assert.Equal(t, Result{}, res)
	assert.Equal(t, commits, store.CountCommits())
	assert.Equal(t, files, store.CountCommitFiles())
	assert.Equal(t, links, store.CountCommitBranches())
	assert.Equal(t, revLists, git.count("rev-list"), "no branch walk without new commits")
}

func TestIngest_BranchCutFromStoredHistory(t *testing.T) {
	git := newScriptedGit()
	p, store, repo := setup(t, git)
	ctx := context.Background()
	runOnce(t, p, repo)
	require.NoError(t, store.SaveContributionSnapshot(ctx, database.SaveContributionSnapshotParams{
		RepositoryID: repo.ID, CacheKey: "all", Payload: []byte(`{}`),
	}))

	// hotfix branches off the root commit after it was ingested.
	git.tips += "\norigin/hotfix\x1faaa"
	git.revLists["refs/remotes/origin/hotfix"] = "aaa"
	res := runOnce(t, p, repo)
	assert.Equal(t, Result{CommitBranches: 1}, res)
	assert.Zero(t, store.CountSnapshots(repo.ID), "new links invalidate snapshots")

	hotfix, err := store.GetBranchByName(ctx, database.GetBranchByNameParams{RepositoryID: repo.ID, Name: "hotfix"})
	require.NoError(t, err)
	root, err := store.GetCommitByHash(ctx, database.GetCommitByHashParams{RepositoryID: repo.ID, Hash: "aaa"})
	require.NoError(t, err)
	links, err := store.ListCommitBranchesByCommitIDs(ctx, []int64{root.ID})
	require.NoError(t, err)
	var found bool
	for _, l := range links {
		if l.BranchID == hotfix.ID {
			found = true
			assert.False(t, l.IsPrimary, "the existing primary branch stays")
		}
	}
	assert.True(t, found, "the root commit is listed on hotfix")

	revLists := git.count("rev-list")
	runOnce(t, p, repo)
	assert.Equal(t, revLists, git.count("rev-list"), "a known branch is not walked again")
}

func TestIngest_EveryKnownParentHasAnEdge(t *testing.T) {
	git := newScriptedGit()
	p, store, repo := setup(t, git)
	ctx := context.Background()

	// Ingest the first two commits, then the rest, the way history grows.
	git.log = renderLog(history[:2]...)
	runOnce(t, p, repo)
	git.log = renderLog(history...)
	runOnce(t, p, repo)

	refs, err := store.ListCommitRefs(ctx, repo.ID)
	require.NoError(t, err)
	ids := map[string]int64{}
	var all []int64
	for _, r := range refs {
		ids[r.Hash] = r.ID
		all = append(all, r.ID)
	}
	edges, err := store.ListCommitParentsByChildIDs(ctx, all)
	require.NoError(t, err)
	have := map[[2]int64]bool{}
	for _, e := range edges {
		have[[2]int64{e.ParentID, e.ChildID}] = true
	}
	for _, c := range history {
		for _, parent := range strings.Fields(c.parents) {
			assert.True(t, have[[2]int64{ids[parent], ids[c.hash]}], "%s -> %s", parent, c.hash)
		}
	}
}

func TestIngest_BranchWalkFailureDoesNotAbort(t *testing.T) {
	git := newScriptedGit()
	git.revErrs["refs/remotes/origin/feature"] = errors.New("fatal: bad revision")
	p, store, repo := setup(t, git)

	res := runOnce(t, p, repo)
	assert.Equal(t, 4, res.Commits)
	assert.Equal(t, 4, store.CountCommits())
	assert.Equal(t, 4, res.CommitBranches, "every commit still reaches main")
}

func TestIngest_CommitsOutsideListedBranchesUseContainsQuery(t *testing.T) {
	git := newScriptedGit()
	git.log = renderLog(append(history, logCommit{
		hash: "ttt", parents: "mmm", name: "Cy", email: "cy@example.com", date: "2024-01-05T10:00:00Z", message: "release fix",
		files: []string{"src/new.go"},
	})...)
	git.contains["ttt"] = "origin/release"
	p, store, repo := setup(t, git)
	ctx := context.Background()

	runOnce(t, p, repo)
	assert.Equal(t, 1, git.count("branch -r --contains ttt"))

	b, err := store.GetBranchByName(ctx, database.GetBranchByNameParams{RepositoryID: repo.ID, Name: "release"})
	require.NoError(t, err)
	c, err := store.GetCommitByHash(ctx, database.GetCommitByHashParams{RepositoryID: repo.ID, Hash: "ttt"})
	require.NoError(t, err)
	links, err := store.ListCommitBranchesByCommitIDs(ctx, []int64{c.ID})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, b.ID, links[0].BranchID)
	assert.True(t, links[0].IsPrimary)
}

func TestIngest_FailedCommitIsRolledBackAndRetried(t *testing.T) {
	git := newScriptedGit()
	p, store, repo := setup(t, git)
	ctx := context.Background()

	fail := true
	store.Fail = func(method string) error {
		if fail && method == "CreateCommitParent" {
			return errors.New("connection reset")
		}
		return nil
	}
	branches, err := p.DiscoverBranches(ctx, repo.ID, repoDir)
	require.NoError(t, err)
	_, err = p.Ingest(ctx, repo, repoDir, branches)
	require.ErrorContains(t, err, "storing commit bbb")
	assert.Equal(t, 1, store.CountCommits(), "the failing commit leaves nothing behind")

	fail = false
	res := runOnce(t, p, repo)
	assert.Equal(t, 3, res.Commits)
	assert.Equal(t, 4, store.CountCommitParents())
}

func TestIngest_InvalidatesContributionSnapshots(t *testing.T) {
	git := newScriptedGit()
	p, store, repo := setup(t, git)
	ctx := context.Background()
	require.NoError(t, store.SaveContributionSnapshot(ctx, database.SaveContributionSnapshotParams{
		RepositoryID: repo.ID, CacheKey: "all", Payload: []byte(`{}`),
	}))

	runOnce(t, p, repo)
	assert.Zero(t, store.CountSnapshots(repo.ID))
}

func TestChoosePrimary(t *testing.T) {
	testCases := []struct {
		name     string
		nameRev  string
		members  []string
		expected string
	}{
		{name: "name-rev member", nameRev: "dev", members: []string{"dev", "main"}, expected: "dev"},
		{name: "name-rev not a member", nameRev: "gone", members: []string{"dev", "main"}, expected: "main"},
		{name: "no default", members: []string{"beta", "dev"}, expected: "beta"},
		{name: "no members", nameRev: "main", expected: ""},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, choosePrimary(tc.nameRev, "main", tc.members))
		})
	}
}
