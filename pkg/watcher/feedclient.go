package watcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrNotFound marks a package that the feed does not know about.
var ErrNotFound = errors.New("package not found")

// StatusError is a non-200, non-404 feed response. It counts toward the
// circuit breaker.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed returned HTTP %d", e.Code)
}

// PackageInfo identifies one package version known to the feed.
type PackageInfo struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

type searchResponse struct {
	Data []PackageInfo `json:"data"`
}

type registrationIndex struct {
	Items []struct {
		Items []struct {
			CatalogEntry PackageInfo `json:"catalogEntry"`
		} `json:"items"`
	} `json:"items"`
}

// FeedClient speaks the minimal package-feed protocol subset: search,
// registration index, and flat-container download. Credentials are supplied
// once at construction and never logged.
type FeedClient struct {
	base     string
	username string
	password string
	client   *http.Client
}

// NewFeedClient creates a feed client for the given base URL.
func NewFeedClient(base, username, password string) *FeedClient {
	return &FeedClient{
		base:     strings.TrimRight(base, "/"),
		username: username,
		password: password,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Search queries the feed for packages matching the term.
func (c *FeedClient) Search(ctx context.Context, term string, take int) ([]PackageInfo, error) {
	u := fmt.Sprintf("%s/query?q=%s&take=%d", c.base, url.QueryEscape(term), take)
	var resp searchResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// LatestVersion retrieves a package's latest version from the registration
// index. Returns ErrNotFound when the feed has no such package.
func (c *FeedClient) LatestVersion(ctx context.Context, id string) (string, error) {
	u := fmt.Sprintf("%s/registration/%s/index.json", c.base, strings.ToLower(id))
	var index registrationIndex
	if err := c.getJSON(ctx, u, &index); err != nil {
		return "", err
	}

	latest := ""
	for _, page := range index.Items {
		for _, item := range page.Items {
			if item.CatalogEntry.Version != "" {
				latest = item.CatalogEntry.Version
			}
		}
	}
	if latest == "" {
		return "", ErrNotFound
	}
	return latest, nil
}

// Download fetches a package archive into
// <destRoot>/<id>/<version>/<id>.<version>.zip and returns the local path.
func (c *FeedClient) Download(ctx context.Context, id, version, destRoot string) (string, error) {
	idL, verL := strings.ToLower(id), strings.ToLower(version)
	u := fmt.Sprintf("%s/flatcontainer/%s/%s/%s.%s.zip", c.base, idL, verL, idL, verL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp.StatusCode); err != nil {
		return "", err
	}

	dir := filepath.Join(destRoot, id, version)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, fmt.Sprintf("%s.%s.zip", id, version))

	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}

func (c *FeedClient) getJSON(ctx context.Context, u string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp.StatusCode); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *FeedClient) auth(req *http.Request) {
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
}

func checkStatus(code int) error {
	switch {
	case code == http.StatusOK:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	default:
		return &StatusError{Code: code}
	}
}
