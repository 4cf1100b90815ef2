package gitops

import (
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestNewRequiresBaseDir(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("New() with empty base dir should fail")
	}
	base := filepath.Join(t.TempDir(), "projects")
	if _, err := New(base); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := os.Stat(base); err != nil {
		t.Fatalf("base dir not created: %v", err)
	}
}

func TestCloneAndDefaultBranch(t *testing.T) {
	origin := initGitRepo(t)
	ops, err := New(filepath.Join(t.TempDir(), "projects"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	clonePath, err := ops.Clone(origin, "atlas")
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	if !IsRepo(clonePath) {
		t.Fatalf("clone at %q is not a git repo", clonePath)
	}

	branch, err := ops.DefaultBranch(clonePath)
	if err != nil {
		t.Fatalf("DefaultBranch() error = %v", err)
	}
	if branch == "" {
		t.Fatal("expected a default branch name")
	}

	// A second clone for the same project must not clobber the first.
	if _, err := ops.Clone(origin, "atlas"); err == nil {
		t.Fatal("Clone() over an existing directory should fail")
	}
}

func TestCreateBranchAndCommit(t *testing.T) {
	origin := initGitRepo(t)
	ops, err := New(filepath.Join(t.TempDir(), "projects"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	clonePath, err := ops.Clone(origin, "atlas")
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	runGitCmd(t, clonePath, "config", "user.email", "test@example.com")
	runGitCmd(t, clonePath, "config", "user.name", "tester")

	if err := ops.CreateBranch(clonePath, "", "feature/notes"); err != nil {
		t.Fatalf("CreateBranch() error = %v", err)
	}
	branch, err := ops.DefaultBranch(clonePath)
	if err != nil {
		t.Fatalf("DefaultBranch() error = %v", err)
	}
	if branch != "feature/notes" {
		t.Fatalf("current branch = %q, want feature/notes", branch)
	}

	if err := os.WriteFile(filepath.Join(clonePath, "notes.md"), []byte("plan\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := ops.Commit(clonePath, "add notes"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	branches, err := ops.ListBranches(clonePath)
	if err != nil {
		t.Fatalf("ListBranches() error = %v", err)
	}
	if !slices.Contains(branches, "feature/notes") {
		t.Fatalf("feature/notes missing from %v", branches)
	}

	if err := ops.Commit(clonePath, ""); err == nil {
		t.Fatal("Commit() without a message should fail")
	}
	if err := ops.CreateBranch(clonePath, "", ""); err == nil {
		t.Fatal("CreateBranch() without a name should fail")
	}
}

func TestPush(t *testing.T) {
	origin := filepath.Join(t.TempDir(), "origin.git")
	if err := os.MkdirAll(origin, 0o755); err != nil {
		t.Fatalf("mkdir origin: %v", err)
	}
	runGitCmd(t, origin, "init", "--bare")

	seed := initGitRepo(t)
	runGitCmd(t, seed, "remote", "add", "origin", origin)
	runGitCmd(t, seed, "push", "origin", "HEAD")

	ops, err := New(filepath.Join(t.TempDir(), "projects"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	clonePath, err := ops.Clone(origin, "atlas")
	if err != nil {
		t.Fatalf("Clone() error = %v", err)
	}
	runGitCmd(t, clonePath, "config", "user.email", "test@example.com")
	runGitCmd(t, clonePath, "config", "user.name", "tester")

	if err := ops.CreateBranch(clonePath, "", "feature/push"); err != nil {
		t.Fatalf("CreateBranch() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(clonePath, "notes.md"), []byte("plan\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := ops.Commit(clonePath, "add notes"); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := ops.Push(clonePath, "", "feature/push"); err != nil {
		t.Fatalf("Push() error = %v", err)
	}

	check := exec.Command("git", "branch", "--format=%(refname:short)")
	check.Dir = origin
	out, err := check.CombinedOutput()
	if err != nil {
		t.Fatalf("list origin branches: %v", err)
	}
	if !slices.Contains(strings.Split(strings.TrimSpace(string(out)), "\n"), "feature/push") {
		t.Fatalf("feature/push missing from origin branches: %s", out)
	}

	if err := ops.Push(clonePath, "", ""); err == nil {
		t.Fatal("Push() without a branch should fail")
	}
}

func TestIsRepo(t *testing.T) {
	if IsRepo(t.TempDir()) {
		t.Error("plain temp dir reported as a repo")
	}
	repo := initGitRepo(t)
	if !IsRepo(repo) {
		t.Error("git repo not recognized")
	}
}

func initGitRepo(t *testing.T) string {
	t.Helper()
	repo := filepath.Join(t.TempDir(), "origin")
	if err := os.MkdirAll(repo, 0o755); err != nil {
		t.Fatalf("mkdir repo: %v", err)
	}
	runGitCmd(t, repo, "init")
	runGitCmd(t, repo, "config", "user.email", "test@example.com")
	runGitCmd(t, repo, "config", "user.name", "tester")
	if err := os.WriteFile(filepath.Join(repo, "README.md"), []byte("hello\n"), 0o644); err != nil {
		t.Fatalf("write README.md: %v", err)
	}
	runGitCmd(t, repo, "add", "README.md")
	runGitCmd(t, repo, "commit", "-m", "init")
	return repo
}

func runGitCmd(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v failed: %v\n%s", args, err, string(out))
	}
}
