package git

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitFile(t *testing.T, wt *gogit.Worktree, dir, name, content string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	_, err := wt.Add(name)
	require.NoError(t, err)
	hash, err := wt.Commit("update "+name, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  "tester",
			Email: "tester@example.com",
			When:  time.Now(),
		},
	})
	require.NoError(t, err)
	return hash.String()
}

func newSourceRepo(t *testing.T) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	first := commitFile(t, wt, dir, "README.md", "first revision\n")
	second := commitFile(t, wt, dir, "README.md", "second revision\n")
	return dir, []string{first, second}
}

func TestCloneValidation(t *testing.T) {
	c := NewClient(0)
	err := c.Clone(context.Background(), "", "main", "", t.TempDir())
	assert.Error(t, err)
	err = c.Clone(context.Background(), "https://example.com/repo.git", "main", "", "")
	assert.Error(t, err)
}

func TestClonePinnedCommit(t *testing.T) {
	src, commits := newSourceRepo(t)
	dest := filepath.Join(t.TempDir(), "checkout")

	c := NewClient(0)
	err := c.Clone(context.Background(), src, "master", commits[0], dest)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dest, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "first revision\n", string(content))
}

func TestCloneLatestCommit(t *testing.T) {
	src, commits := newSourceRepo(t)
	dest := filepath.Join(t.TempDir(), "checkout")

	c := NewClient(0)
	err := c.Clone(context.Background(), src, "master", commits[1], dest)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dest, "README.md"))
	require.NoError(t, err)
	assert.Equal(t, "second revision\n", string(content))
}

func TestCloneTimeout(t *testing.T) {
	src, commits := newSourceRepo(t)
	dest := filepath.Join(t.TempDir(), "checkout")

	c := NewClient(time.Nanosecond)
	err := c.Clone(context.Background(), src, "master", commits[0], dest)
	require.Error(t, err)
}

func TestCloneUnknownCommit(t *testing.T) {
	src, _ := newSourceRepo(t)
	dest := filepath.Join(t.TempDir(), "checkout")

	c := NewClient(0)
	err := c.Clone(context.Background(), src, "master", "0000000000000000000000000000000000000001", dest)
	assert.Error(t, err)
}
