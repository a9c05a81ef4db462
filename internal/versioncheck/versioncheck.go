// Package versioncheck compares the running version against a remote
// minimum-version document.
package versioncheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"tasknest/internal/utils"
)

// Info is the remote version-control document.
type Info struct {
	MinVersion    string `json:"minVersion"`
	LatestVersion string `json:"latestVersion,omitempty"`
	UpdateMessage string `json:"updateMessage,omitempty"`
	DownloadURL   string `json:"downloadUrl,omitempty"`
}

// Checker fetches the version document and compares versions.
type Checker struct {
	url     string
	current string
	client  *Client
}

// Option configures a Checker.
type Option func(*Checker)

// WithClient replaces the HTTP client.
func WithClient(c *Client) Option {
	return func(ch *Checker) {
		ch.client = c
	}
}

// New creates a checker for the running version current.
func New(url, current string, opts ...Option) *Checker {
	c := &Checker{url: url, current: current}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = NewClient(ClientConfig{})
	}
	return c
}

// Current returns the running version.
func (c *Checker) Current() string {
	return c.current
}

// Fetch downloads and decodes the version document.
func (c *Checker) Fetch(ctx context.Context) (*Info, error) {
	if c.url == "" {
		return nil, fmt.Errorf("no version check url configured")
	}

	resp, err := c.client.Get(ctx, c.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch version info: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("version info request returned %s", resp.Status)
	}

	var info Info
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&info); err != nil {
		return nil, fmt.Errorf("invalid version info: %w", err)
	}
	if info.MinVersion == "" {
		return nil, fmt.Errorf("version info has no minVersion")
	}
	return &info, nil
}

// Check returns an update-required error when the running version is below
// the remote minimum. Network and decoding failures are logged and
// reported as nil so they never block the application.
func (c *Checker) Check(ctx context.Context) (*Info, error) {
	info, err := c.Fetch(ctx)
	if err != nil {
		utils.Debugf("version check skipped: %v", err)
		return nil, nil
	}
	return info, c.Evaluate(info)
}

// Evaluate returns an update-required error when the running version is
// below info's minimum.
func (c *Checker) Evaluate(info *Info) error {
	if CompareVersions(c.current, info.MinVersion) < 0 {
		return utils.ErrUpdateRequired(c.current, info.MinVersion, info.DownloadURL)
	}
	return nil
}

// CompareVersions compares the first three numeric parts of two dotted
// versions and returns -1, 0 or 1. Missing or non-numeric parts count
// as zero; a leading "v" is ignored.
func CompareVersions(v1, v2 string) int {
	p1, p2 := versionParts(v1), versionParts(v2)
	for i := 0; i < 3; i++ {
		switch {
		case p1[i] > p2[i]:
			return 1
		case p1[i] < p2[i]:
			return -1
		}
	}
	return 0
}

func versionParts(v string) [3]int {
	var parts [3]int
	fields := strings.Split(strings.TrimPrefix(strings.TrimSpace(v), "v"), ".")
	for i := 0; i < len(fields) && i < 3; i++ {
		n, err := strconv.Atoi(fields[i])
		if err == nil {
			parts[i] = n
		}
	}
	return parts
}
