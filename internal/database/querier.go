// internal/database/querier.go
package database

import (
	"context"
)

type Querier interface {
	ClearSynced(ctx context.Context, arg ClearSyncedParams) error
	CreateCommit(ctx context.Context, arg CreateCommitParams) (Commit, error)
	CreateCommitBranch(ctx context.Context, arg CreateCommitBranchParams) (int64, error)
	CreateCommitFile(ctx context.Context, arg CreateCommitFileParams) (int64, error)
	CreateCommitParent(ctx context.Context, arg CreateCommitParentParams) (int64, error)
	CreateRepository(ctx context.Context, arg CreateRepositoryParams) (int64, error)
	DeleteCommitParentsByChildIDs(ctx context.Context, childIds []int64) (int64, error)
	DeleteContributionSnapshots(ctx context.Context, repositoryID int64) error
	GetBranchByName(ctx context.Context, arg GetBranchByNameParams) (Branch, error)
	GetCommitByHash(ctx context.Context, arg GetCommitByHashParams) (Commit, error)
	GetCommitByID(ctx context.Context, id int64) (Commit, error)
	GetCommitFile(ctx context.Context, arg GetCommitFileParams) (CommitFile, error)
	GetContributionSnapshot(ctx context.Context, arg GetContributionSnapshotParams) ([]byte, error)
	GetRepositoryByOwnerAndName(ctx context.Context, arg GetRepositoryByOwnerAndNameParams) (Repository, error)
	GetRepositoryByURL(ctx context.Context, url string) (Repository, error)
	IsSynced(ctx context.Context, arg IsSyncedParams) (bool, error)
	ListBranches(ctx context.Context, repositoryID int64) ([]Branch, error)
	ListCommitBranchesByCommitIDs(ctx context.Context, commitIds []int64) ([]ListCommitBranchesByCommitIDsRow, error)
	ListCommitFilesByCommitIDs(ctx context.Context, commitIds []int64) ([]CommitFile, error)
	ListCommitParentsByChildIDs(ctx context.Context, childIds []int64) ([]CommitParent, error)
	ListCommitRefs(ctx context.Context, repositoryID int64) ([]ListCommitRefsRow, error)
	ListCommitsByRepo(ctx context.Context, arg ListCommitsByRepoParams) ([]ListCommitsByRepoRow, error)
	ListFileContributions(ctx context.Context, arg ListFileContributionsParams) ([]ListFileContributionsRow, error)
	ListRepositories(ctx context.Context) ([]Repository, error)
	ListSyncedEntityIDs(ctx context.Context, arg ListSyncedEntityIDsParams) ([]int64, error)
	ListTopContributors(ctx context.Context, arg ListTopContributorsParams) ([]ListTopContributorsRow, error)
	MarkSynced(ctx context.Context, arg MarkSyncedParams) error
	SaveContributionSnapshot(ctx context.Context, arg SaveContributionSnapshotParams) error
	UpdateCommitFileContent(ctx context.Context, arg UpdateCommitFileContentParams) error
	UpdateCommitFileDiff(ctx context.Context, arg UpdateCommitFileDiffParams) error
	UpdateRepositoryMetadata(ctx context.Context, arg UpdateRepositoryMetadataParams) (Repository, error)
	UpsertBranch(ctx context.Context, arg UpsertBranchParams) (Branch, error)
	UpsertCommitFileStats(ctx context.Context, arg UpsertCommitFileStatsParams) error
	UpsertIssue(ctx context.Context, arg UpsertIssueParams) error
	UpsertIssueComment(ctx context.Context, arg UpsertIssueCommentParams) error
	UpsertPullRequest(ctx context.Context, arg UpsertPullRequestParams) error
	UpsertUser(ctx context.Context, arg UpsertUserParams) (User, error)
}

var _ Querier = (*Queries)(nil)
