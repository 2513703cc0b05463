// Package gitops implements the git collaborator: branch existence checks,
// branch renames, and derivation of branch names from session titles.
package gitops

import (
	"context"
	"regexp"
	"strings"

	"github.com/mosaicdev/mosaic/internal/errors"
	pexec "github.com/mosaicdev/mosaic/internal/exec"
	"github.com/mosaicdev/mosaic/internal/logger"
)

// MaxBranchNameLength bounds auto-generated branch names.
const MaxBranchNameLength = 48

// Git performs branch operations against a repository.
type Git struct {
	executor pexec.CommandExecutor
}

// New returns a Git backed by the real command executor.
func New() *Git {
	return &Git{executor: pexec.NewRealExecutor()}
}

// NewWithExecutor returns a Git using the given executor. Used by tests.
func NewWithExecutor(e pexec.CommandExecutor) *Git {
	return &Git{executor: e}
}

// BranchExists checks if a branch already exists in the repo.
func (g *Git) BranchExists(ctx context.Context, repoPath, branch string) (bool, error) {
	_, _, err := g.executor.Run(ctx, repoPath, "git", "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil, nil
}

// RenameBranch renames a local branch.
func (g *Git) RenameBranch(ctx context.Context, repoPath, oldName, newName string) error {
	output, err := g.executor.CombinedOutput(ctx, repoPath, "git", "branch", "-m", oldName, newName)
	if err != nil {
		logger.Warn("Git: branch rename failed: %s", strings.TrimSpace(string(output)))
		return errors.GitRenameFailed(oldName, newName, err)
	}
	logger.Info("Git: renamed branch %s -> %s in %s", oldName, newName, repoPath)
	return nil
}

// invalidBranchChars matches everything that cannot appear in a generated
// branch name. Git forbids space, ~, ^, :, ?, *, [, \ and control characters.
var invalidBranchChars = regexp.MustCompile(`[^a-zA-Z0-9/_-]+`)

var dashRuns = regexp.MustCompile(`-{2,}`)

// BranchNameFromTitle derives a git branch name from a session title.
// The prefix (e.g. "alice/") is prepended when non-empty. Returns "" when
// the title contains nothing usable.
func BranchNameFromTitle(prefix, title string) string {
	name := strings.ToLower(strings.TrimSpace(title))
	name = invalidBranchChars.ReplaceAllString(name, "-")
	name = dashRuns.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-/")
	if name == "" {
		return ""
	}
	if len(name) > MaxBranchNameLength {
		name = name[:MaxBranchNameLength]
		name = strings.Trim(name, "-/")
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + name
}
