package compat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// UpdateStatus is the result of comparing the running client against the latest release.
type UpdateStatus struct {
	Current  string
	Latest   string
	Outdated bool
}

// Message returns the operator facing summary of the check.
func (s UpdateStatus) Message() string {
	if !s.Outdated {
		return "Finished update check. shippy is up-to-date!"
	}
	return fmt.Sprintf(`Warning: shippy is out-of-date.
 * Current version: 	%s
 * New version: 	%s

We recommend updating shippy to the latest release.`, s.Current, s.Latest)
}

// UpdateChecker looks up the latest shippy release.
type UpdateChecker struct {
	client *retryablehttp.Client
	url    string
	logger log.Logger
}

// NewUpdateChecker creates an UpdateChecker for a releases endpoint answering with
// `{"name": ..., "tag_name": ...}`, such as GitHub's latest release API.
func NewUpdateChecker(releaseURL string, logger log.Logger) *UpdateChecker {
	client := retryhttp.NewClient(logger)
	client.RetryMax = 1
	return &UpdateChecker{client: client, url: releaseURL, logger: logger}
}

// Check compares currentVersion against the latest release.
func (c *UpdateChecker) Check(ctx context.Context, currentVersion string) (UpdateStatus, error) {
	current, err := Parse(currentVersion)
	if err != nil {
		return UpdateStatus{}, fmt.Errorf("parse shippy version: %w", err)
	}

	latestName, err := c.latestRelease(ctx)
	if err != nil {
		return UpdateStatus{}, err
	}
	latest, err := Parse(latestName)
	if err != nil {
		return UpdateStatus{}, fmt.Errorf("parse latest release %q: %w", latestName, err)
	}

	return UpdateStatus{
		Current:  current.String(),
		Latest:   latest.String(),
		Outdated: current.LessThan(*latest),
	}, nil
}

func (c *UpdateChecker) latestRelease(ctx context.Context) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch latest release: %w", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch latest release: HTTP %d", resp.StatusCode)
	}

	var release struct {
		Name    string `json:"name"`
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", fmt.Errorf("decode latest release: %w", err)
	}
	if release.Name != "" {
		return release.Name, nil
	}
	if release.TagName != "" {
		return release.TagName, nil
	}
	return "", fmt.Errorf("latest release has no name")
}
