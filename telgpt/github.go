package telgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/tidwall/gjson"
)

// GitHub opens issues on the configured repository
type GitHub struct {
	unsupportedOperations
	client *http.Client
	config *GitHubConfig
	logger *slog.Logger
}

func newGitHub(config *GitHubConfig, httpClient *http.Client, logger *slog.Logger) *GitHub {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GitHub{
		unsupportedOperations: unsupportedOperations{provider: ProviderGitHub},
		client:                httpClient,
		config:                config,
		logger:                logger.With(loggerNameKey, "github"),
	}
}

func (*GitHub) Name() string {
	return ProviderGitHub
}

// CreateIssue opens an issue titled "<title> by <author>" and returns
// its URL
func (g *GitHub) CreateIssue(
	ctx context.Context,
	author string,
	title string,
	body string,
) ProviderResult[string] {
	logger := contextLoggerOr(ctx, g.logger)
	payload, err := json.Marshal(
		map[string]string{
			"title": fmt.Sprintf("%s by %s", title, author),
			"body":  body,
		},
	)
	if err != nil {
		return unknownFailure[string](err)
	}

	endpoint := fmt.Sprintf(
		"%s/repos/%s/issues",
		strings.TrimRight(g.config.APIURL, "/"),
		g.config.Repository,
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return unknownFailure[string](err)
	}
	req.Header.Set("Authorization", "token "+g.config.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := g.client.Do(req)
	if err != nil {
		logger.ErrorContext(ctx, "github request failed", tint.Err(err))
		return unknownFailure[string](err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return unknownFailure[string](err)
	}

	if resp.StatusCode != http.StatusCreated {
		logger.ErrorContext(
			ctx,
			"github api error",
			"status", resp.StatusCode,
			"body", string(data),
		)
		return failure[string](
			fmt.Sprintf("%d", resp.StatusCode),
			"GitHub API error: "+string(data),
		)
	}

	issueURL := gjson.GetBytes(data, "html_url").String()
	logger.InfoContext(ctx, "created issue", "url", issueURL, "repository", g.config.Repository)
	return resultOf(issueURL)
}
