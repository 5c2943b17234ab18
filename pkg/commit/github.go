package commit

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v57/github"

	"conductor/pkg/logx"
)

// GitHubSink commits files through the GitHub Contents API.
type GitHubSink struct {
	client *github.Client
	owner  string
	repo   string
	branch string
	logger *logx.Logger
}

// NewGitHubSink creates a sink committing to owner/repo on branch.
func NewGitHubSink(token, owner, repo, branch string) (*GitHubSink, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("github owner and repo are required")
	}
	if branch == "" {
		branch = "main"
	}
	return &GitHubSink{
		client: github.NewClient(http.DefaultClient).WithAuthToken(token),
		owner:  owner,
		repo:   repo,
		branch: branch,
		logger: logx.NewLogger("commit"),
	}, nil
}

// Commit implements Sink. Existing files are updated in place; new files
// are created.
func (s *GitHubSink) Commit(ctx context.Context, path, content, message string) (Result, error) {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: []byte(content),
		Branch:  github.String(s.branch),
	}

	existing, _, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, path,
		&github.RepositoryContentGetOptions{Ref: s.branch})
	if err == nil && existing != nil {
		opts.SHA = existing.SHA
	}

	var resp *github.RepositoryContentResponse
	if opts.SHA != nil {
		resp, _, err = s.client.Repositories.UpdateFile(ctx, s.owner, s.repo, path, opts)
	} else {
		resp, _, err = s.client.Repositories.CreateFile(ctx, s.owner, s.repo, path, opts)
	}
	if err != nil {
		return Result{}, fmt.Errorf("github commit of %s failed: %w", path, err)
	}

	result := Result{
		SHA: resp.Commit.GetSHA(),
		URL: resp.Content.GetHTMLURL(),
	}
	s.logger.Info("committed %s to %s/%s@%s (%s)", path, s.owner, s.repo, s.branch, result.SHA)
	return result, nil
}
