package gitops

import (
	"context"
	"errors"
	"strings"
	"testing"

	pexec "github.com/mosaicdev/mosaic/internal/exec"
)

func TestBranchExists(t *testing.T) {
	m := pexec.NewMockExecutor()
	m.Script("refs/heads/missing", pexec.MockResult{Err: errors.New("exit status 128")})

	g := NewWithExecutor(m)
	ctx := context.Background()

	exists, err := g.BranchExists(ctx, "/repo", "main")
	if err != nil {
		t.Fatalf("BranchExists: %v", err)
	}
	if !exists {
		t.Fatal("main should exist (rev-parse succeeded)")
	}

	exists, err = g.BranchExists(ctx, "/repo", "missing")
	if err != nil {
		t.Fatalf("BranchExists: %v", err)
	}
	if exists {
		t.Fatal("missing branch reported as existing")
	}

	calls := m.Calls()
	if len(calls) != 2 || !strings.Contains(calls[0], "rev-parse --verify refs/heads/main") {
		t.Fatalf("calls = %v", calls)
	}
}

func TestRenameBranch(t *testing.T) {
	m := pexec.NewMockExecutor()
	g := NewWithExecutor(m)

	if err := g.RenameBranch(context.Background(), "/repo", "old", "new"); err != nil {
		t.Fatalf("RenameBranch: %v", err)
	}

	calls := m.Calls()
	if len(calls) != 1 || calls[0] != "git branch -m old new" {
		t.Fatalf("calls = %v", calls)
	}
}

func TestRenameBranchFailure(t *testing.T) {
	m := pexec.NewMockExecutor()
	m.Script("branch -m", pexec.MockResult{
		Stderr: []byte("fatal: branch 'new' already exists"),
		Err:    errors.New("exit status 128"),
	})
	g := NewWithExecutor(m)

	err := g.RenameBranch(context.Background(), "/repo", "old", "new")
	if err == nil {
		t.Fatal("RenameBranch swallowed the git failure")
	}
	if !strings.Contains(err.Error(), "old") || !strings.Contains(err.Error(), "new") {
		t.Fatalf("error %q does not name the branches", err)
	}
}

func TestBranchNameFromTitle(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		title  string
		want   string
	}{
		{"simple", "", "Add login flow", "add-login-flow"},
		{"with prefix", "dev", "Add login flow", "dev/add-login-flow"},
		{"prefix keeps its slash", "dev/", "Fix bug", "dev/fix-bug"},
		{"punctuation collapses", "", "Fix: the (weird) bug!!", "fix-the-weird-bug"},
		{"leading and trailing junk", "", "  --Fix it--  ", "fix-it"},
		{"unicode stripped", "", "héllo wörld", "h-llo-w-rld"},
		{"empty title", "dev", "   ", ""},
		{"only junk", "", "!!! ???", ""},
		{
			"long title truncated",
			"",
			"this is an extremely long session title that keeps going and going and going",
			"this-is-an-extremely-long-session-title-that-kee",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BranchNameFromTitle(tt.prefix, tt.title)
			if got != tt.want {
				t.Fatalf("BranchNameFromTitle(%q, %q) = %q; want %q", tt.prefix, tt.title, got, tt.want)
			}
			if len(got) > 0 && tt.prefix == "" && len(got) > MaxBranchNameLength {
				t.Fatalf("generated name %q exceeds the length bound", got)
			}
		})
	}
}
