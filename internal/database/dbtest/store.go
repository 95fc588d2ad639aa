// internal/database/dbtest/store.go

// Package dbtest provides an in-memory database.Store for unit tests.
package dbtest

import (
	"context"
	"encoding/json"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"repo-insights/internal/database"
)

// Store keeps every table in maps. Transactions are serialized and rolled back
// by restoring a snapshot taken before fn ran.
type Store struct {
	// Fail, when set, is consulted before every query with the method name.
	// A non-nil result is returned as the query error.
	Fail func(method string) error
	// HideNewRepositories makes GetRepositoryByURL miss this many times after a
	// repository is created, imitating read-after-write lag.
	HideNewRepositories int

	txMu sync.Mutex
	mu   sync.Mutex
	data state
}

type state struct {
	nextID       int64
	repositories map[int64]database.Repository
	users        map[string]database.User
	commits      map[int64]database.Commit
	files        map[int64]database.CommitFile
	branches     map[int64]database.Branch
	commitBranch map[[2]int64]database.CommitBranch
	parents      map[[2]int64]database.CommitParent
	synced       map[syncKey]time.Time
	pulls        map[[2]int64]database.PullRequest
	issues       map[[2]int64]database.Issue
	comments     map[int64]database.IssueComment
	snapshots    map[snapshotKey][]byte
	hidden       map[string]int
}

type syncKey struct {
	entity int64
	kind   string
}

type snapshotKey struct {
	repo int64
	key  string
}

var _ database.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: newState()}
}

func newState() state {
	return state{
		repositories: map[int64]database.Repository{},
		users:        map[string]database.User{},
		commits:      map[int64]database.Commit{},
		files:        map[int64]database.CommitFile{},
		branches:     map[int64]database.Branch{},
		commitBranch: map[[2]int64]database.CommitBranch{},
		parents:      map[[2]int64]database.CommitParent{},
		synced:       map[syncKey]time.Time{},
		pulls:        map[[2]int64]database.PullRequest{},
		issues:       map[[2]int64]database.Issue{},
		comments:     map[int64]database.IssueComment{},
		snapshots:    map[snapshotKey][]byte{},
		hidden:       map[string]int{},
	}
}

func (s state) clone() state {
	c := newState()
	c.nextID = s.nextID
	copyMap(c.repositories, s.repositories)
	copyMap(c.users, s.users)
	copyMap(c.commits, s.commits)
	copyMap(c.files, s.files)
	copyMap(c.branches, s.branches)
	copyMap(c.commitBranch, s.commitBranch)
	copyMap(c.parents, s.parents)
	copyMap(c.synced, s.synced)
	copyMap(c.pulls, s.pulls)
	copyMap(c.issues, s.issues)
	copyMap(c.comments, s.comments)
	copyMap(c.snapshots, s.snapshots)
	copyMap(c.hidden, s.hidden)
	return c
}

func copyMap[K comparable, V any](dst, src map[K]V) {
	for k, v := range src {
		dst[k] = v
	}
}

func (s *Store) InTx(ctx context.Context, fn func(q database.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) begin(method string) error {
	if s.Fail != nil {
		if err := s.Fail(method); err != nil {
			return err
		}
	}
	s.mu.Lock()
	return nil
}

func (s *Store) id() int64 {
	s.data.nextID++
	return s.data.nextID
}

// Row counters for assertions.

func (s *Store) CountCommits() int        { return s.count(func(d state) int { return len(d.commits) }) }
func (s *Store) CountCommitFiles() int    { return s.count(func(d state) int { return len(d.files) }) }
func (s *Store) CountCommitBranches() int { return s.count(func(d state) int { return len(d.commitBranch) }) }
func (s *Store) CountCommitParents() int  { return s.count(func(d state) int { return len(d.parents) }) }
func (s *Store) CountUsers() int          { return s.count(func(d state) int { return len(d.users) }) }
func (s *Store) CountPullRequests() int   { return s.count(func(d state) int { return len(d.pulls) }) }
func (s *Store) CountIssues() int         { return s.count(func(d state) int { return len(d.issues) }) }
func (s *Store) CountIssueComments() int  { return s.count(func(d state) int { return len(d.comments) }) }

func (s *Store) count(f func(state) int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f(s.data)
}

// Repositories

func (s *Store) CreateRepository(ctx context.Context, arg database.CreateRepositoryParams) (int64, error) {
	if err := s.begin("CreateRepository"); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	for _, r := range s.data.repositories {
		if r.Url == arg.Url {
			return 0, nil
		}
	}
	id := s.id()
	s.data.repositories[id] = database.Repository{
		ID:        id,
		Url:       arg.Url,
		Host:      arg.Host,
		Owner:     arg.Owner,
		Name:      arg.Name,
		CreatedAt: time.Now(),
	}
	s.data.hidden[arg.Url] = s.HideNewRepositories
	return 1, nil
}

func (s *Store) GetRepositoryByURL(ctx context.Context, url string) (database.Repository, error) {
	if err := s.begin("GetRepositoryByURL"); err != nil {
		return database.Repository{}, err
	}
	defer s.mu.Unlock()
	if s.data.hidden[url] > 0 {
		s.data.hidden[url]--
		return database.Repository{}, pgx.ErrNoRows
	}
	for _, r := range s.data.repositories {
		if r.Url == url {
			return r, nil
		}
	}
	return database.Repository{}, pgx.ErrNoRows
}

func (s *Store) GetRepositoryByOwnerAndName(ctx context.Context, arg database.GetRepositoryByOwnerAndNameParams) (database.Repository, error) {
	if err := s.begin("GetRepositoryByOwnerAndName"); err != nil {
		return database.Repository{}, err
	}
	defer s.mu.Unlock()
	var found []database.Repository
	for _, r := range s.data.repositories {
		if r.Owner == arg.Owner && r.Name == arg.Name {
			found = append(found, r)
		}
	}
	if len(found) == 0 {
		return database.Repository{}, pgx.ErrNoRows
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })
	return found[0], nil
}

func (s *Store) ListRepositories(ctx context.Context) ([]database.Repository, error) {
	if err := s.begin("ListRepositories"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var items []database.Repository
	for _, r := range s.data.repositories {
		items = append(items, r)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Owner != items[j].Owner {
			return items[i].Owner < items[j].Owner
		}
		return items[i].Name < items[j].Name
	})
	return items, nil
}

func (s *Store) UpdateRepositoryMetadata(ctx context.Context, arg database.UpdateRepositoryMetadataParams) (database.Repository, error) {
	if err := s.begin("UpdateRepositoryMetadata"); err != nil {
		return database.Repository{}, err
	}
	defer s.mu.Unlock()
	r, ok := s.data.repositories[arg.ID]
	if !ok {
		return database.Repository{}, pgx.ErrNoRows
	}
	r.Description = arg.Description
	r.DefaultBranch = arg.DefaultBranch
	r.StarsCount = arg.StarsCount
	r.ForksCount = arg.ForksCount
	r.OpenIssuesCount = arg.OpenIssuesCount
	r.MetadataSyncedAt = database.Timestamptz(time.Now())
	s.data.repositories[arg.ID] = r
	return r, nil
}

func (s *Store) UpsertUser(ctx context.Context, arg database.UpsertUserParams) (database.User, error) {
	if err := s.begin("UpsertUser"); err != nil {
		return database.User{}, err
	}
	defer s.mu.Unlock()
	if u, ok := s.data.users[arg.Login]; ok {
		if u.Name == "" {
			u.Name = arg.Name
		}
		if u.Email == "" {
			u.Email = arg.Email
		}
		s.data.users[arg.Login] = u
		return u, nil
	}
	u := database.User{ID: s.id(), Login: arg.Login, Name: arg.Name, Email: arg.Email}
	s.data.users[arg.Login] = u
	return u, nil
}

// Commits

func (s *Store) CreateCommit(ctx context.Context, arg database.CreateCommitParams) (database.Commit, error) {
	if err := s.begin("CreateCommit"); err != nil {
		return database.Commit{}, err
	}
	defer s.mu.Unlock()
	for _, c := range s.data.commits {
		if c.RepositoryID == arg.RepositoryID && c.Hash == arg.Hash {
			return database.Commit{}, &uniqueViolation{table: "commits"}
		}
	}
	c := database.Commit{
		ID:           s.id(),
		RepositoryID: arg.RepositoryID,
		Hash:         arg.Hash,
		AuthorID:     arg.AuthorID,
		Message:      arg.Message,
		CommittedAt:  arg.CommittedAt,
	}
	s.data.commits[c.ID] = c
	return c, nil
}

func (s *Store) GetCommitByHash(ctx context.Context, arg database.GetCommitByHashParams) (database.Commit, error) {
	if err := s.begin("GetCommitByHash"); err != nil {
		return database.Commit{}, err
	}
	defer s.mu.Unlock()
	for _, c := range s.data.commits {
		if c.RepositoryID == arg.RepositoryID && c.Hash == arg.Hash {
			return c, nil
		}
	}
	return database.Commit{}, pgx.ErrNoRows
}

func (s *Store) GetCommitByID(ctx context.Context, id int64) (database.Commit, error) {
	if err := s.begin("GetCommitByID"); err != nil {
		return database.Commit{}, err
	}
	defer s.mu.Unlock()
	c, ok := s.data.commits[id]
	if !ok {
		return database.Commit{}, pgx.ErrNoRows
	}
	return c, nil
}

func (s *Store) ListCommitRefs(ctx context.Context, repositoryID int64) ([]database.ListCommitRefsRow, error) {
	if err := s.begin("ListCommitRefs"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var items []database.ListCommitRefsRow
	for _, c := range s.data.commits {
		if c.RepositoryID == repositoryID {
			items = append(items, database.ListCommitRefsRow{ID: c.ID, Hash: c.Hash})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (s *Store) ListCommitsByRepo(ctx context.Context, arg database.ListCommitsByRepoParams) ([]database.ListCommitsByRepoRow, error) {
	if err := s.begin("ListCommitsByRepo"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var items []database.ListCommitsByRepoRow
	for _, c := range s.data.commits {
		if c.RepositoryID != arg.RepositoryID || !inRange(c.CommittedAt, arg.Since.Time, arg.Since.Valid, arg.Until.Time, arg.Until.Valid) {
			continue
		}
		author := s.userByID(c.AuthorID)
		items = append(items, database.ListCommitsByRepoRow{
			ID:          c.ID,
			Hash:        c.Hash,
			Message:     c.Message,
			CommittedAt: c.CommittedAt,
			AuthorID:    c.AuthorID,
			AuthorLogin: author.Login,
			AuthorName:  author.Name,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CommittedAt.Equal(items[j].CommittedAt) {
			return items[i].CommittedAt.Before(items[j].CommittedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *Store) ListTopContributors(ctx context.Context, arg database.ListTopContributorsParams) ([]database.ListTopContributorsRow, error) {
	if err := s.begin("ListTopContributors"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	byLogin := map[string]*database.ListTopContributorsRow{}
	for _, c := range s.data.commits {
		if c.RepositoryID != arg.RepositoryID {
			continue
		}
		author := s.userByID(c.AuthorID)
		row, ok := byLogin[author.Login]
		if !ok {
			row = &database.ListTopContributorsRow{Login: author.Login, Name: author.Name}
			byLogin[author.Login] = row
		}
		row.Commits++
		for _, f := range s.data.files {
			if f.CommitID == c.ID {
				row.LinesChanged += int64(f.LinesAdded + f.LinesDeleted)
			}
		}
	}
	var items []database.ListTopContributorsRow
	for _, row := range byLogin {
		items = append(items, *row)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].LinesChanged != items[j].LinesChanged {
			return items[i].LinesChanged > items[j].LinesChanged
		}
		if items[i].Commits != items[j].Commits {
			return items[i].Commits > items[j].Commits
		}
		return items[i].Login < items[j].Login
	})
	if int(arg.Limit) < len(items) {
		items = items[:arg.Limit]
	}
	return items, nil
}

func (s *Store) userByID(id int64) database.User {
	for _, u := range s.data.users {
		if u.ID == id {
			return u
		}
	}
	return database.User{}
}

// Commit files

func (s *Store) findFile(commitID int64, path string) (database.CommitFile, bool) {
	for _, f := range s.data.files {
		if f.CommitID == commitID && f.Path == path {
			return f, true
		}
	}
	return database.CommitFile{}, false
}

func (s *Store) CreateCommitFile(ctx context.Context, arg database.CreateCommitFileParams) (int64, error) {
	if err := s.begin("CreateCommitFile"); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	if _, ok := s.findFile(arg.CommitID, arg.Path); ok {
		return 0, nil
	}
	id := s.id()
	s.data.files[id] = database.CommitFile{
		ID: id, CommitID: arg.CommitID, Path: arg.Path, SourcePath: arg.SourcePath, ParentPath: arg.ParentPath,
	}
	return 1, nil
}

func (s *Store) UpsertCommitFileStats(ctx context.Context, arg database.UpsertCommitFileStatsParams) error {
	if err := s.begin("UpsertCommitFileStats"); err != nil {
		return err
	}
	defer s.mu.Unlock()
	f, ok := s.findFile(arg.CommitID, arg.Path)
	if !ok {
		f = database.CommitFile{ID: s.id(), CommitID: arg.CommitID, Path: arg.Path}
	}
	f.LinesAdded = arg.LinesAdded
	f.LinesDeleted = arg.LinesDeleted
	s.data.files[f.ID] = f
	return nil
}

func (s *Store) GetCommitFile(ctx context.Context, arg database.GetCommitFileParams) (database.CommitFile, error) {
	if err := s.begin("GetCommitFile"); err != nil {
		return database.CommitFile{}, err
	}
	defer s.mu.Unlock()
	if f, ok := s.findFile(arg.CommitID, arg.Path); ok {
		return f, nil
	}
	return database.CommitFile{}, pgx.ErrNoRows
}

func (s *Store) ListCommitFilesByCommitIDs(ctx context.Context, commitIds []int64) ([]database.CommitFile, error) {
	if err := s.begin("ListCommitFilesByCommitIDs"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var items []database.CommitFile
	for _, f := range s.data.files {
		if slices.Contains(commitIds, f.CommitID) {
			items = append(items, f)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CommitID != items[j].CommitID {
			return items[i].CommitID < items[j].CommitID
		}
		return items[i].Path < items[j].Path
	})
	return items, nil
}

func (s *Store) UpdateCommitFileDiff(ctx context.Context, arg database.UpdateCommitFileDiffParams) error {
	if err := s.begin("UpdateCommitFileDiff"); err != nil {
		return err
	}
	defer s.mu.Unlock()
	f, ok := s.data.files[arg.ID]
	if !ok {
		return nil
	}
	f.Diff = arg.Diff
	f.DiffParentID = arg.DiffParentID
	f.DiffState = arg.DiffState
	s.data.files[arg.ID] = f
	return nil
}

func (s *Store) UpdateCommitFileContent(ctx context.Context, arg database.UpdateCommitFileContentParams) error {
	if err := s.begin("UpdateCommitFileContent"); err != nil {
		return err
	}
	defer s.mu.Unlock()
	f, ok := s.data.files[arg.ID]
	if !ok {
		return nil
	}
	f.Content = arg.Content
	s.data.files[arg.ID] = f
	return nil
}

func (s *Store) ListFileContributions(ctx context.Context, arg database.ListFileContributionsParams) ([]database.ListFileContributionsRow, error) {
	if err := s.begin("ListFileContributions"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	type key struct{ path, login string }
	sums := map[key]*database.ListFileContributionsRow{}
	for _, f := range s.data.files {
		c, ok := s.data.commits[f.CommitID]
		if !ok || c.RepositoryID != arg.RepositoryID {
			continue
		}
		if !inRange(c.CommittedAt, arg.Since.Time, arg.Since.Valid, arg.Until.Time, arg.Until.Valid) {
			continue
		}
		if arg.BranchID.Valid {
			if _, ok := s.data.commitBranch[[2]int64{c.ID, arg.BranchID.Int64}]; !ok {
				continue
			}
		}
		login := s.userByID(c.AuthorID).Login
		k := key{f.Path, login}
		row, ok := sums[k]
		if !ok {
			row = &database.ListFileContributionsRow{Path: f.Path, AuthorLogin: login}
			sums[k] = row
		}
		row.LinesAdded += int64(f.LinesAdded)
		row.LinesDeleted += int64(f.LinesDeleted)
	}
	var items []database.ListFileContributionsRow
	for _, row := range sums {
		items = append(items, *row)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Path != items[j].Path {
			return items[i].Path < items[j].Path
		}
		return items[i].AuthorLogin < items[j].AuthorLogin
	})
	return items, nil
}

func inRange(t, since time.Time, hasSince bool, until time.Time, hasUntil bool) bool {
	if hasSince && t.Before(since) {
		return false
	}
	if hasUntil && t.After(until) {
		return false
	}
	return true
}

// Branches

func (s *Store) UpsertBranch(ctx context.Context, arg database.UpsertBranchParams) (database.Branch, error) {
	if err := s.begin("UpsertBranch"); err != nil {
		return database.Branch{}, err
	}
	defer s.mu.Unlock()
	for _, b := range s.data.branches {
		if b.RepositoryID == arg.RepositoryID && b.Name == arg.Name {
			return b, nil
		}
	}
	b := database.Branch{ID: s.id(), RepositoryID: arg.RepositoryID, Name: arg.Name}
	s.data.branches[b.ID] = b
	return b, nil
}

func (s *Store) GetBranchByName(ctx context.Context, arg database.GetBranchByNameParams) (database.Branch, error) {
	if err := s.begin("GetBranchByName"); err != nil {
		return database.Branch{}, err
	}
	defer s.mu.Unlock()
	for _, b := range s.data.branches {
		if b.RepositoryID == arg.RepositoryID && b.Name == arg.Name {
			return b, nil
		}
	}
	return database.Branch{}, pgx.ErrNoRows
}

func (s *Store) ListBranches(ctx context.Context, repositoryID int64) ([]database.Branch, error) {
	if err := s.begin("ListBranches"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var items []database.Branch
	for _, b := range s.data.branches {
		if b.RepositoryID == repositoryID {
			items = append(items, b)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

func (s *Store) CreateCommitBranch(ctx context.Context, arg database.CreateCommitBranchParams) (int64, error) {
	if err := s.begin("CreateCommitBranch"); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	k := [2]int64{arg.CommitID, arg.BranchID}
	if _, ok := s.data.commitBranch[k]; ok {
		return 0, nil
	}
	if arg.IsPrimary {
		for _, cb := range s.data.commitBranch {
			if cb.CommitID == arg.CommitID && cb.IsPrimary {
				return 0, nil
			}
		}
	}
	s.data.commitBranch[k] = database.CommitBranch{CommitID: arg.CommitID, BranchID: arg.BranchID, IsPrimary: arg.IsPrimary}
	return 1, nil
}

func (s *Store) ListCommitBranchesByCommitIDs(ctx context.Context, commitIds []int64) ([]database.ListCommitBranchesByCommitIDsRow, error) {
	if err := s.begin("ListCommitBranchesByCommitIDs"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var items []database.ListCommitBranchesByCommitIDsRow
	for _, cb := range s.data.commitBranch {
		if !slices.Contains(commitIds, cb.CommitID) {
			continue
		}
		items = append(items, database.ListCommitBranchesByCommitIDsRow{
			CommitID:   cb.CommitID,
			BranchID:   cb.BranchID,
			BranchName: s.data.branches[cb.BranchID].Name,
			IsPrimary:  cb.IsPrimary,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CommitID != items[j].CommitID {
			return items[i].CommitID < items[j].CommitID
		}
		return items[i].BranchName < items[j].BranchName
	})
	return items, nil
}

// Parents

func (s *Store) CreateCommitParent(ctx context.Context, arg database.CreateCommitParentParams) (int64, error) {
	if err := s.begin("CreateCommitParent"); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	k := [2]int64{arg.ParentID, arg.ChildID}
	if existing, ok := s.data.parents[k]; ok && existing.Position == arg.Position {
		return 0, nil
	}
	s.data.parents[k] = database.CommitParent{ParentID: arg.ParentID, ChildID: arg.ChildID, Position: arg.Position}
	return 1, nil
}

func (s *Store) ListCommitParentsByChildIDs(ctx context.Context, childIds []int64) ([]database.CommitParent, error) {
	if err := s.begin("ListCommitParentsByChildIDs"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var items []database.CommitParent
	for _, p := range s.data.parents {
		if slices.Contains(childIds, p.ChildID) {
			items = append(items, p)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].ChildID != items[j].ChildID {
			return items[i].ChildID < items[j].ChildID
		}
		return items[i].Position < items[j].Position
	})
	return items, nil
}

func (s *Store) DeleteCommitParentsByChildIDs(ctx context.Context, childIds []int64) (int64, error) {
	if err := s.begin("DeleteCommitParentsByChildIDs"); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()
	var n int64
	for k, p := range s.data.parents {
		if slices.Contains(childIds, p.ChildID) {
			delete(s.data.parents, k)
			n++
		}
	}
	return n, nil
}

// Ledger

func (s *Store) MarkSynced(ctx context.Context, arg database.MarkSyncedParams) error {
	if err := s.begin("MarkSynced"); err != nil {
		return err
	}
	defer s.mu.Unlock()
	s.data.synced[syncKey{arg.EntityID, arg.TaskKind}] = time.Now()
	return nil
}

func (s *Store) IsSynced(ctx context.Context, arg database.IsSyncedParams) (bool, error) {
	if err := s.begin("IsSynced"); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	_, ok := s.data.synced[syncKey{arg.EntityID, arg.TaskKind}]
	return ok, nil
}

func (s *Store) ListSyncedEntityIDs(ctx context.Context, arg database.ListSyncedEntityIDsParams) ([]int64, error) {
	if err := s.begin("ListSyncedEntityIDs"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	var ids []int64
	for _, id := range arg.EntityIds {
		if _, ok := s.data.synced[syncKey{id, arg.TaskKind}]; ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) ClearSynced(ctx context.Context, arg database.ClearSyncedParams) error {
	if err := s.begin("ClearSynced"); err != nil {
		return err
	}
	defer s.mu.Unlock()
	delete(s.data.synced, syncKey{arg.EntityID, arg.TaskKind})
	return nil
}

// Activity

func (s *Store) UpsertPullRequest(ctx context.Context, arg database.UpsertPullRequestParams) error {
	if err := s.begin("UpsertPullRequest"); err != nil {
		return err
	}
	defer s.mu.Unlock()
	k := [2]int64{arg.RepositoryID, int64(arg.Number)}
	pr, ok := s.data.pulls[k]
	if !ok {
		pr = database.PullRequest{ID: s.id(), RepositoryID: arg.RepositoryID, Number: arg.Number, AuthorID: arg.AuthorID, CreatedAt: arg.CreatedAt}
	}
	pr.Title, pr.State, pr.UpdatedAt, pr.ClosedAt, pr.MergedAt = arg.Title, arg.State, arg.UpdatedAt, arg.ClosedAt, arg.MergedAt
	s.data.pulls[k] = pr
	return nil
}

func (s *Store) UpsertIssue(ctx context.Context, arg database.UpsertIssueParams) error {
	if err := s.begin("UpsertIssue"); err != nil {
		return err
	}
	defer s.mu.Unlock()
	k := [2]int64{arg.RepositoryID, int64(arg.Number)}
	issue, ok := s.data.issues[k]
	if !ok {
		issue = database.Issue{ID: s.id(), RepositoryID: arg.RepositoryID, Number: arg.Number, AuthorID: arg.AuthorID, CreatedAt: arg.CreatedAt}
	}
	issue.Title, issue.State, issue.UpdatedAt, issue.ClosedAt = arg.Title, arg.State, arg.UpdatedAt, arg.ClosedAt
	s.data.issues[k] = issue
	return nil
}

func (s *Store) UpsertIssueComment(ctx context.Context, arg database.UpsertIssueCommentParams) error {
	if err := s.begin("UpsertIssueComment"); err != nil {
		return err
	}
	defer s.mu.Unlock()
	comment, ok := s.data.comments[arg.GithubID]
	if !ok {
		comment = database.IssueComment{
			ID:           s.id(),
			RepositoryID: arg.RepositoryID,
			GithubID:     arg.GithubID,
			IssueNumber:  arg.IssueNumber,
			AuthorID:     arg.AuthorID,
			CreatedAt:    arg.CreatedAt,
		}
	}
	comment.Body, comment.UpdatedAt = arg.Body, arg.UpdatedAt
	s.data.comments[arg.GithubID] = comment
	return nil
}

// Snapshots

func (s *Store) GetContributionSnapshot(ctx context.Context, arg database.GetContributionSnapshotParams) ([]byte, error) {
	if err := s.begin("GetContributionSnapshot"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	payload, ok := s.data.snapshots[snapshotKey{arg.RepositoryID, arg.CacheKey}]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return payload, nil
}

func (s *Store) SaveContributionSnapshot(ctx context.Context, arg database.SaveContributionSnapshotParams) error {
	if err := s.begin("SaveContributionSnapshot"); err != nil {
		return err
	}
	defer s.mu.Unlock()
	if !json.Valid(arg.Payload) {
		return &invalidJSON{}
	}
	s.data.snapshots[snapshotKey{arg.RepositoryID, arg.CacheKey}] = append([]byte(nil), arg.Payload...)
	return nil
}

func (s *Store) DeleteContributionSnapshots(ctx context.Context, repositoryID int64) error {
	if err := s.begin("DeleteContributionSnapshots"); err != nil {
		return err
	}
	defer s.mu.Unlock()
	for k := range s.data.snapshots {
		if k.repo == repositoryID {
			delete(s.data.snapshots, k)
		}
	}
	return nil
}

// CountSnapshots reports cached contribution payloads for a repository.
func (s *Store) CountSnapshots(repositoryID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.data.snapshots {
		if k.repo == repositoryID {
			n++
		}
	}
	return n
}

type uniqueViolation struct{ table string }

func (e *uniqueViolation) Error() string { return "duplicate key value violates unique constraint on " + e.table }

type invalidJSON struct{}

func (e *invalidJSON) Error() string { return "invalid input syntax for type json" }
