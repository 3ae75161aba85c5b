// Package mediaserver talks to the external real-time media server: its stats
// surface, its HTTP control plane and its configuration file.
package mediaserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"restream/dto"
	"strings"
	"time"
)

var ErrNoStats = errors.New("no stats endpoint returned a usable document")

type Client interface {
	// FetchStats tries each stats path in order and returns the first JSON
	// object that decodes, along with the path that produced it.
	FetchStats(ctx context.Context) (map[string]interface{}, string, error)
	RegisterRule(ctx context.Context, rule dto.RepublishRule) error
	Reload(ctx context.Context) error
}

type Options struct {
	BaseURL    string
	StatsPaths []string
	ReloadPath string
	RulesPath  string
	Timeout    time.Duration
}

type client struct {
	http *http.Client
	opts Options
}

func NewClient(opts Options) Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if len(opts.StatsPaths) == 0 {
		opts.StatsPaths = []string{"/stats", "/stats.json", "/status", "/info"}
	}
	return &client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: opts.Timeout,
			},
		},
		opts: opts,
	}
}

func (c *client) url(path string) string {
	return strings.TrimRight(c.opts.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func (c *client) FetchStats(ctx context.Context) (map[string]interface{}, string, error) {
	var errs []error
	for _, path := range c.opts.StatsPaths {
		doc, err := c.fetchJSON(ctx, path)
		if err == nil {
			return doc, path, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", path, err))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, "", errors.Join(append([]error{ErrNoStats}, errs...)...)
}

func (c *client) fetchJSON(ctx context.Context, path string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var doc map[string]interface{}
	dec := json.NewDecoder(io.LimitReader(resp.Body, 8<<20))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	if doc == nil {
		return nil, errors.New("empty stats document")
	}
	return doc, nil
}

func (c *client) RegisterRule(ctx context.Context, rule dto.RepublishRule) error {
	body, err := json.Marshal(rule)
	if err != nil {
		return err
	}
	return c.post(ctx, c.opts.RulesPath, body)
}

func (c *client) Reload(ctx context.Context) error {
	return c.post(ctx, c.opts.ReloadPath, nil)
}

func (c *client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: unexpected status %d", http.MethodPost, path, resp.StatusCode)
	}
	return nil
}
