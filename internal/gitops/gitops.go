package gitops

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Ops runs git against local clones kept under a base directory, one
// subdirectory per project.
type Ops struct {
	baseDir string
}

func New(baseDir string) (*Ops, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("projects dir is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create projects dir: %w", err)
	}
	return &Ops{baseDir: baseDir}, nil
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		op := strings.Join(args, " ")
		if stderr.Len() > 0 {
			return "", fmt.Errorf("git %s failed: %s", op, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("git %s failed: %w", op, err)
	}

	return string(out), nil
}

// Clone checks out remoteURL into the project's directory and returns the
// local path. It refuses to overwrite an existing clone.
func (o *Ops) Clone(remoteURL, project string) (string, error) {
	if strings.TrimSpace(remoteURL) == "" {
		return "", fmt.Errorf("remote url is required")
	}
	clonePath := filepath.Join(o.baseDir, project)
	if _, err := os.Stat(clonePath); err == nil {
		return "", fmt.Errorf("directory %q already exists", clonePath)
	}
	if _, err := runGit(o.baseDir, "clone", remoteURL, clonePath); err != nil {
		return "", err
	}
	return clonePath, nil
}

// DefaultBranch reports the branch a fresh clone checked out.
func (o *Ops) DefaultBranch(repoPath string) (string, error) {
	out, err := runGit(repoPath, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	branch := strings.TrimSpace(out)
	if branch == "" {
		return "", fmt.Errorf("repository at %q has no current branch", repoPath)
	}
	return branch, nil
}

// ListBranches returns the local branch names of a clone.
func (o *Ops) ListBranches(repoPath string) ([]string, error) {
	out, err := runGit(repoPath, "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, err
	}
	var branches []string
	for _, line := range strings.Split(out, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			branches = append(branches, name)
		}
	}
	return branches, nil
}

// CreateBranch creates and switches to a new branch off the given base.
func (o *Ops) CreateBranch(repoPath, base, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("branch name is required")
	}
	args := []string{"checkout", "-b", name}
	if strings.TrimSpace(base) != "" {
		args = append(args, base)
	}
	_, err := runGit(repoPath, args...)
	return err
}

// Commit stages everything and commits with the given message.
func (o *Ops) Commit(repoPath, message string) error {
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("commit message is required")
	}
	if _, err := runGit(repoPath, "add", "-A"); err != nil {
		return err
	}
	_, err := runGit(repoPath, "commit", "-m", message)
	return err
}

// Push publishes a branch to the named remote.
func (o *Ops) Push(repoPath, remote, branch string) error {
	if strings.TrimSpace(remote) == "" {
		remote = "origin"
	}
	if strings.TrimSpace(branch) == "" {
		return fmt.Errorf("branch name is required")
	}
	_, err := runGit(repoPath, "push", remote, branch)
	return err
}

// IsRepo reports whether path is inside a git work tree.
func IsRepo(path string) bool {
	out, err := runGit(path, "rev-parse", "--is-inside-work-tree")
	if err != nil {
		return false
	}
	return strings.TrimSpace(out) == "true"
}
