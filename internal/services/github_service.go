// Package services holds the issue-tracker client and the pure issue
// formatter used by the sync driver.
package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"feedbacksync/internal/config"
	"feedbacksync/internal/observability"
	contextutils "feedbacksync/internal/utils"

	"github.com/google/go-github/v66/github"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// GitHubHTTPTimeout is the timeout for GitHub API requests
const GitHubHTTPTimeout = 30 * time.Second

// GitHubService handles GitHub API integration (issues and gists)
type GitHubService struct {
	cfg    config.GitHubConfig
	client *github.Client
	logger *observability.Logger
}

// IssueResult represents the result of creating a GitHub issue
type IssueResult struct {
	URL    string `json:"url"`
	Number int    `json:"number"`
	NodeID string `json:"node_id"`
}

// GistResult represents the result of creating a gist
type GistResult struct {
	URL    string `json:"url"`
	RawURL string `json:"raw_url"`
}

// NewGitHubService creates a new GitHub service instance. When cfg.BaseURL is
// set (tests, GitHub Enterprise) it overrides the public API endpoint; it must
// parse as a URL and gets a trailing slash appended if missing.
func NewGitHubService(cfg config.GitHubConfig, logger *observability.Logger) (*GitHubService, error) {
	if logger == nil {
		panic("NewGitHubService: logger is nil")
	}

	httpClient := &http.Client{
		Timeout: GitHubHTTPTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanOptions(trace.WithSpanKind(trace.SpanKindClient)),
		),
	}

	client := github.NewClient(httpClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}

	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, contextutils.WrapErrorf(err, "invalid GitHub base URL %q", cfg.BaseURL)
		}
		if !strings.HasSuffix(base.Path, "/") {
			base.Path += "/"
		}
		client.BaseURL = base
		client.UploadURL = base
	}

	return &GitHubService{
		cfg:    cfg,
		client: client,
		logger: logger,
	}, nil
}

// CreateIssue creates a new issue in the configured repository
func (s *GitHubService) CreateIssue(ctx context.Context, title, body string, labels []string) (result *IssueResult, err error) {
	ctx, span := observability.TraceTrackerFunction(ctx, "create_issue",
		attribute.String("github.owner", s.cfg.Owner),
		attribute.String("github.repo", s.cfg.Repo),
		attribute.String("github.title", title),
	)
	defer observability.FinishSpan(span, &err)

	if s.cfg.Token == "" {
		err = contextutils.NewAppError(
			contextutils.ErrorCodeServiceUnavailable,
			contextutils.SeverityError,
			"GitHub token is not configured",
			"",
		)
		return nil, err
	}

	req := &github.IssueRequest{
		Title: github.String(title),
	}
	if body != "" {
		req.Body = github.String(body)
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}

	startTime := time.Now()
	issue, resp, err := s.client.Issues.Create(ctx, s.cfg.Owner, s.cfg.Repo, req)
	duration := time.Since(startTime)

	if err != nil {
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		s.logger.Error(ctx, "GitHub issue creation failed", err, map[string]interface{}{
			"status_code": statusCode,
			"duration":    duration.String(),
		})
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
		return nil, contextutils.WrapErrorf(contextutils.ErrIssueTracker,
			"GitHub issue creation failed (status %d): %w", statusCode, err)
	}

	result = &IssueResult{
		URL:    issue.GetHTMLURL(),
		Number: issue.GetNumber(),
		NodeID: issue.GetNodeID(),
	}

	s.logger.Info(ctx, "GitHub issue created successfully", map[string]interface{}{
		"issue_url":    result.URL,
		"issue_number": result.Number,
		"duration":     duration.String(),
	})

	span.SetAttributes(
		observability.AttributeIssueNumber(result.Number),
		attribute.String("github.issue_url", result.URL),
	)

	return result, nil
}

// CreateGist uploads content as a secret gist and returns its page URL plus
// the raw-content URL for the uploaded file. The sync driver uses this to
// host screenshots that are too large to inline into an issue body.
func (s *GitHubService) CreateGist(ctx context.Context, filename, description, content string) (result *GistResult, err error) {
	ctx, span := observability.TraceTrackerFunction(ctx, "create_gist",
		attribute.String("github.gist_filename", filename),
	)
	defer observability.FinishSpan(span, &err)

	if s.cfg.Token == "" {
		err = contextutils.NewAppError(
			contextutils.ErrorCodeServiceUnavailable,
			contextutils.SeverityError,
			"GitHub token is not configured",
			"",
		)
		return nil, err
	}

	gist := &github.Gist{
		Description: github.String(description),
		Public:      github.Bool(false),
		Files: map[github.GistFilename]github.GistFile{
			github.GistFilename(filename): {Content: github.String(content)},
		},
	}

	startTime := time.Now()
	created, resp, err := s.client.Gists.Create(ctx, gist)
	duration := time.Since(startTime)

	if err != nil {
		statusCode := 0
		if resp != nil {
			statusCode = resp.StatusCode
		}
		s.logger.Error(ctx, "GitHub gist creation failed", err, map[string]interface{}{
			"status_code": statusCode,
			"duration":    duration.String(),
		})
		span.SetAttributes(attribute.Int("http.status_code", statusCode))
		return nil, contextutils.WrapErrorf(contextutils.ErrIssueTracker,
			"GitHub gist creation failed (status %d): %w", statusCode, err)
	}

	result = &GistResult{URL: created.GetHTMLURL()}
	if file, ok := created.Files[github.GistFilename(filename)]; ok {
		result.RawURL = file.GetRawURL()
	}
	if result.RawURL == "" {
		// The API always echoes the file map back; a missing raw URL means a
		// malformed response, fall back to the gist page itself.
		result.RawURL = result.URL
	}

	s.logger.Info(ctx, "GitHub gist created successfully", map[string]interface{}{
		"gist_url": result.URL,
		"duration": duration.String(),
	})

	span.SetAttributes(attribute.String("github.gist_url", result.URL))

	return result, nil
}

// RepoSlug returns the owner/repo pair as a single display string.
func (s *GitHubService) RepoSlug() string {
	return fmt.Sprintf("%s/%s", s.cfg.Owner, s.cfg.Repo)
}
