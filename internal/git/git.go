package git

import (
	"context"
	"fmt"
	"strings"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Client performs source checkouts into run workspaces.
type Client struct {
	timeout time.Duration
}

// NewClient returns a checkout client. A positive timeout bounds each Clone
// call; zero leaves the caller's context in charge.
func NewClient(timeout time.Duration) *Client {
	return &Client{timeout: timeout}
}

// Clone fetches the repository into dest. When commit is empty the clone is
// shallow and limited to the requested branch; otherwise the full history is
// fetched and the worktree pinned to the commit.
func (c *Client) Clone(ctx context.Context, repoURL, branch, commit, dest string) error {
	if strings.TrimSpace(repoURL) == "" {
		return fmt.Errorf("repository URL cannot be empty")
	}
	if strings.TrimSpace(dest) == "" {
		return fmt.Errorf("destination cannot be empty")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	opts := &gogit.CloneOptions{URL: repoURL}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
		opts.SingleBranch = true
	}
	if commit == "" {
		opts.Depth = 1
	}

	repo, err := gogit.PlainCloneContext(ctx, dest, false, opts)
	if err != nil {
		return fmt.Errorf("clone repository %s: %w", repoURL, err)
	}

	if commit != "" {
		wt, err := repo.Worktree()
		if err != nil {
			return fmt.Errorf("open worktree: %w", err)
		}
		if err := wt.Checkout(&gogit.CheckoutOptions{Hash: plumbing.NewHash(commit)}); err != nil {
			return fmt.Errorf("checkout commit %s: %w", commit, err)
		}
	}
	return nil
}
