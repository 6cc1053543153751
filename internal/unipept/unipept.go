package unipept

// Package unipept resolves taxon ids to full lineages through the Unipept
// taxonomy API.

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"peptaxa/internal/remote"
	"peptaxa/internal/taxonomy"
)

// DefaultBaseURL is the public Unipept API.
const DefaultBaseURL = "https://api.unipept.ugent.be/api/v1"

// DecodeError is returned when a response is not the expected JSON. It
// carries the raw body for diagnosis.
type DecodeError struct {
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("unipept: decode response: %v (body: %s)", e.Err, e.Body)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Client calls the taxonomy endpoint.
type Client struct {
	BaseURL   string
	Requester *remote.Requester
	// Cache is optional.
	Cache *Cache

	h      *taxonomy.Hierarchy
	logger *log.Logger
}

// NewClient returns a client for baseURL, DefaultBaseURL when empty.
func NewClient(h *taxonomy.Hierarchy, baseURL string, logger *log.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Requester: remote.NewRequester(logger),
		h:         h,
		logger:    logger,
	}
}

// FetchBatch resolves one batch of taxon ids. Ids the service does not know
// are absent from the result.
func (c *Client) FetchBatch(ctx context.Context, ids []int) ([]taxonomy.Taxon, error) {
	var rows []row
	missing := ids
	if c.Cache != nil {
		var cached []row
		cached, missing = c.Cache.lookup(ids)
		rows = append(rows, cached...)
		if c.logger != nil && len(cached) > 0 {
			c.logger.Debug("taxonomy cache hits", "hits", len(cached), "misses", len(missing))
		}
	}
	if len(missing) > 0 {
		fetched, err := c.fetch(ctx, missing)
		if err != nil {
			return nil, err
		}
		if c.Cache != nil {
			if err := c.Cache.store(fetched); err != nil && c.logger != nil {
				c.logger.Warn("failed to save taxonomy cache", "err", err)
			}
		}
		rows = append(rows, fetched...)
	}

	out := make([]taxonomy.Taxon, 0, len(rows))
	for _, r := range rows {
		t, err := r.taxon(c.h)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, ids []int) ([]row, error) {
	form := url.Values{}
	for _, id := range ids {
		form.Add("input[]", strconv.Itoa(id))
	}
	form.Set("extra", "true")
	form.Set("names", "true")
	payload := form.Encode()
	endpoint := c.BaseURL + "/taxonomy.json"

	body, err := c.Requester.Do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("unipept taxonomy: %w", err)
	}
	return decodeRows(body)
}

// row is one taxonomy record as returned by the service. Ancestor fields
// are {rank}_id / {rank}_name, null when the lineage lacks the rank.
type row map[string]json.RawMessage

func decodeRows(body []byte) ([]row, error) {
	var rows []row
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&rows); err != nil {
		return nil, &DecodeError{Body: string(body), Err: err}
	}
	for _, r := range rows {
		if _, err := r.int("taxon_id"); err != nil {
			return nil, &DecodeError{Body: string(body), Err: err}
		}
	}
	return rows, nil
}

func (r row) int(key string) (int, error) {
	raw, ok := r[key]
	if !ok {
		return 0, fmt.Errorf("missing %s", key)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	v, err := strconv.Atoi(n.String())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

// str returns the string at key; null and absent read as empty.
func (r row) str(key string) (string, error) {
	raw, ok := r[key]
	if !ok || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return s, nil
}

func (r row) taxon(h *taxonomy.Hierarchy) (taxonomy.Taxon, error) {
	id, err := r.int("taxon_id")
	if err != nil {
		return taxonomy.Taxon{}, err
	}
	name, err := r.str("taxon_name")
	if err != nil {
		return taxonomy.Taxon{}, err
	}
	rank, err := r.str("taxon_rank")
	if err != nil {
		return taxonomy.Taxon{}, err
	}
	t := taxonomy.NewTaxon(h, id, name, rank)
	for _, rk := range h.Ranks() {
		prefix := h.Name(rk)
		ancName, err := r.str(prefix + "_name")
		if err != nil {
			return taxonomy.Taxon{}, err
		}
		if ancName == "" {
			continue
		}
		ancID, err := r.int(prefix + "_id")
		if err != nil {
			return taxonomy.Taxon{}, fmt.Errorf("taxon %d: %w", id, err)
		}
		t = t.WithAncestor(rk, taxonomy.Ref{ID: ancID, Name: ancName})
	}
	return t, nil
}
