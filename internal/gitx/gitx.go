// internal/gitx/gitx.go

// Package gitx provides helpers for executing git commands against a managed
// working copy and parsing their output. It shells out to the installed git binary.
package gitx

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes git commands in a given repo directory.
// This interface allows mocking in tests.
type Runner interface {
	// Run executes a git command in the given directory and returns its stdout.
	// Stderr is folded into the returned error.
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// GitRunner is the default Runner implementation that shells out to git.
type GitRunner struct {
	// GitBin is the path to the git binary. Defaults to "git".
	GitBin string
}

// Run executes a git command.
func (g *GitRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	bin := g.GitBin
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	if strings.TrimSpace(dir) != "" {
		cmd.Dir = dir
	}
	// Never block on a credential prompt in a service process.
	cmd.Env = append(cmd.Environ(), "GIT_TERMINAL_PROMPT=0")
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		errText := strings.TrimSpace(stderr.String())
		if errText != "" {
			return "", fmt.Errorf("%s %s: %s: %w", bin, strings.Join(args, " "), errText, err)
		}
		return "", fmt.Errorf("%s %s: %w", bin, strings.Join(args, " "), err)
	}
	return strings.TrimRight(stdout.String(), "\r\n"), nil
}

// RemoteName is the only remote a managed working copy carries.
const RemoteName = "origin"

// IsRepo checks whether the given path is inside a git working tree.
func IsRepo(ctx context.Context, r Runner, dir string) (bool, error) {
	out, err := r.Run(ctx, dir, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false, nil
	}
	return strings.TrimSpace(out) == "true", nil
}

// Clone clones url into path. The parent directory must exist.
func Clone(ctx context.Context, r Runner, url, path string) error {
	_, err := r.Run(ctx, "", "clone", "--quiet", url, path)
	return err
}

// Fetch runs a safe fetch of every remote with pruning and submodule recursion disabled.
func Fetch(ctx context.Context, r Runner, dir string) error {
	_, err := r.Run(ctx, dir, "-c", "fetch.recurseSubmodules=false", "fetch", "--all", "--prune", "--no-recurse-submodules", "--quiet")
	return err
}

// CurrentBranch returns the checked out branch, or "" for a detached HEAD.
func CurrentBranch(ctx context.Context, r Runner, dir string) string {
	out, err := r.Run(ctx, dir, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// RemoteBranches lists the branches of the origin remote with their tip hashes.
// Names are returned without the remote prefix.
func RemoteBranches(ctx context.Context, r Runner, dir string) ([]RefTip, error) {
	out, err := r.Run(ctx, dir, "for-each-ref", "--format=%(refname:short)%1f%(objectname)", "refs/remotes/"+RemoteName)
	if err != nil {
		return nil, fmt.Errorf("git for-each-ref remotes: %w", err)
	}
	return ParseRefTips(out, RemoteName+"/"), nil
}

// LocalBranches lists local branch heads with their tip hashes.
func LocalBranches(ctx context.Context, r Runner, dir string) ([]RefTip, error) {
	out, err := r.Run(ctx, dir, "for-each-ref", "--format=%(refname:short)%1f%(objectname)", "refs/heads")
	if err != nil {
		return nil, fmt.Errorf("git for-each-ref heads: %w", err)
	}
	return ParseRefTips(out, ""), nil
}

// RemoteRef returns the fully qualified ref of a remote branch.
func RemoteRef(branch string) string {
	return "refs/remotes/" + RemoteName + "/" + branch
}

// CreateBranch points a local branch at start, resetting it if it already exists.
func CreateBranch(ctx context.Context, r Runner, dir, name, start string) error {
	_, err := r.Run(ctx, dir, "branch", "--force", "--no-track", name, start)
	return err
}

// DeleteBranch removes a local branch.
func DeleteBranch(ctx context.Context, r Runner, dir, name string) error {
	_, err := r.Run(ctx, dir, "branch", "-D", name)
	return err
}

// FastForwardBranch advances a local branch that is not checked out to src.
// git refuses the update when it is not a fast-forward.
func FastForwardBranch(ctx context.Context, r Runner, dir, branch, src string) error {
	_, err := r.Run(ctx, dir, "fetch", "--quiet", ".", src+":refs/heads/"+branch)
	return err
}

// MergeFastForward fast-forwards the checked out branch to src.
func MergeFastForward(ctx context.Context, r Runner, dir, src string) error {
	_, err := r.Run(ctx, dir, "merge", "--ff-only", "--quiet", src)
	return err
}

// LogOptions scopes a history walk.
type LogOptions struct {
	// Ref limits the walk to one ref. Empty walks every ref (--all).
	Ref   string
	Since time.Time
	Until time.Time
}

const logFormat = "--format=%x1e%H%x1f%P%x1f%an%x1f%ae%x1f%aI%x1f%B%x1f"

// Log walks the history oldest first (parents before children) and returns every
// commit with its changed file names.
func Log(ctx context.Context, r Runner, dir string, opts LogOptions) ([]LogEntry, error) {
	args := []string{"log", "--topo-order", "--reverse", "--name-only", logFormat}
	if !opts.Since.IsZero() {
		args = append(args, "--since="+opts.Since.Format(time.RFC3339))
	}
	if !opts.Until.IsZero() {
		args = append(args, "--until="+opts.Until.Format(time.RFC3339))
	}
	if opts.Ref == "" {
		args = append(args, "--all")
	} else {
		args = append(args, opts.Ref)
	}
	out, err := r.Run(ctx, dir, args...)
	if err != nil {
		return nil, fmt.Errorf("git log: %w", err)
	}
	return ParseLog(out)
}

// NumStat returns the numeric diff summary of one commit against its parent.
// Merge commits report nothing; their lines belong to the commits they merge.
func NumStat(ctx context.Context, r Runner, dir, hash string) ([]NumStatEntry, error) {
	out, err := r.Run(ctx, dir, "show", "--numstat", "--format=", hash)
	if err != nil {
		return nil, err
	}
	return ParseNumStat(out), nil
}

// DiffBlobs returns the unified diff between <fromRev>:<fromPath> and
// <toRev>:<toPath>. The paths differ when the file was renamed in toRev.
func DiffBlobs(ctx context.Context, r Runner, dir, fromRev, fromPath, toRev, toPath string) (string, error) {
	return r.Run(ctx, dir, "diff", "--no-color", fromRev+":"+fromPath, toRev+":"+toPath)
}

// ShowFile returns the content of path as of rev.
func ShowFile(ctx context.Context, r Runner, dir, rev, path string) (string, error) {
	return r.Run(ctx, dir, "show", rev+":"+path)
}

// ListFiles returns every file live in the tree of ref.
func ListFiles(ctx context.Context, r Runner, dir, ref string) ([]string, error) {
	out, err := r.Run(ctx, dir, "ls-tree", "-r", "-z", "--name-only", ref)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, f := range strings.Split(out, "\x00") {
		if f = strings.TrimSpace(f); f != "" {
			files = append(files, f)
		}
	}
	return files, nil
}

// RevList returns every commit hash reachable from ref.
func RevList(ctx context.Context, r Runner, dir, ref string) ([]string, error) {
	out, err := r.Run(ctx, dir, "rev-list", ref)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// NameRev resolves, for each hash, the most specific remote branch it is reachable
// from. The result has one entry per hash; "" when git could not name it.
func NameRev(ctx context.Context, r Runner, dir string, hashes []string) ([]string, error) {
	if len(hashes) == 0 {
		return nil, nil
	}
	args := append([]string{"name-rev", "--name-only", "--refs=refs/remotes/" + RemoteName + "/*"}, hashes...)
	out, err := r.Run(ctx, dir, args...)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(out, "\n")
	names := make([]string, len(hashes))
	for i := range names {
		if i < len(lines) {
			names[i] = ParseNameRev(lines[i])
		}
	}
	return names, nil
}

// BranchesContaining lists the remote branches whose history contains hash.
func BranchesContaining(ctx context.Context, r Runner, dir, hash string) ([]string, error) {
	out, err := r.Run(ctx, dir, "branch", "-r", "--contains", hash, "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range splitLines(out) {
		if name, ok := stripRemote(line); ok {
			branches = append(branches, name)
		}
	}
	return branches, nil
}

// Renames lists every rename recorded in the history, oldest first.
func Renames(ctx context.Context, r Runner, dir string) ([]Rename, error) {
	out, err := r.Run(ctx, dir, "log", "--all", "--reverse", "--topo-order", "--name-status", "-M", "--diff-filter=R", "--format=%x1e%H")
	if err != nil {
		return nil, fmt.Errorf("git log renames: %w", err)
	}
	return ParseRenames(out), nil
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimRight(line, "\r"); strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
