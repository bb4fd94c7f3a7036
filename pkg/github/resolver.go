package github

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"

	"github.com/juniper-run/juniper/pkg/log"
)

// Resolver answers repository questions against the GitHub API.
type Resolver struct {
	client *github.Client
}

// NewResolver creates a resolver. An empty token means unauthenticated
// access, which is fine for public repositories within rate limits.
func NewResolver(ctx context.Context, token string) *Resolver {
	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
	}
	return &Resolver{client: github.NewClient(httpClient)}
}

// NewResolverWithTransport creates a resolver over a caller-supplied
// transport, used by tests to replay recorded API traffic.
func NewResolverWithTransport(transport http.RoundTripper) *Resolver {
	return &Resolver{client: github.NewClient(&http.Client{Transport: transport})}
}

// DefaultBranch returns the repository's default branch.
func (r *Resolver) DefaultBranch(ctx context.Context, repo Repo) (string, error) {
	repository, _, err := r.client.Repositories.Get(ctx, repo.Owner, repo.Name)
	if err != nil {
		return "", fmt.Errorf("look up %s: %w", repo, err)
	}
	branch := repository.GetDefaultBranch()
	if branch == "" {
		return "", fmt.Errorf("repository %s has no default branch", repo)
	}
	log.Debug("resolved default branch", "repo", repo.String(), "branch", branch)
	return branch, nil
}

// ResolveBranch returns branch unchanged when set; otherwise it asks
// GitHub for the default branch, falling back to "master" (the
// historical default of the provisioning route) when the API is
// unreachable.
func (r *Resolver) ResolveBranch(ctx context.Context, repo Repo, branch string) string {
	if branch != "" {
		return branch
	}
	resolved, err := r.DefaultBranch(ctx, repo)
	if err != nil {
		log.Warn("default branch lookup failed, assuming master", "repo", repo.String(), "error", err)
		return "master"
	}
	return resolved
}
