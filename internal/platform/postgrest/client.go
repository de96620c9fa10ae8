// Package postgrest is a small client for the PostgREST table API exposed by
// hosted Postgres providers (Supabase). It covers exactly the primitives the
// registry needs: filtered select, insert, update, delete and upsert.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds every request when no timeout is configured.
const DefaultTimeout = 15 * time.Second

// Observer receives the outcome of every request, e.g. for metrics.
type Observer interface {
	ObserveStoreCall(op string, d time.Duration, err error)
}

// APIError is the error body PostgREST returns for a failed request.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("postgrest: status %d", e.Status)
	if e.Code != "" {
		msg += " code " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Details != "" {
		msg += " (" + e.Details + ")"
	}
	return msg
}

// ErrMissingFilter guards update and delete against touching every row.
var ErrMissingFilter = errors.New("postgrest: update and delete require a filter")

type Client struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	observer Observer
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// New creates a client for the project at projectURL. The REST prefix
// "/rest/v1" is appended unless projectURL already ends with it.
func New(projectURL, apiKey string, opts ...Option) *Client {
	base := strings.TrimRight(projectURL, "/")
	if !strings.HasSuffix(base, "/rest/v1") {
		base += "/rest/v1"
	}
	c := &Client{
		baseURL: base,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the REST endpoint root.
func (c *Client) BaseURL() string { return c.baseURL }

// From starts a query against table.
func (c *Client) From(table string) *Query {
	return &Query{client: c, table: table, params: url.Values{}}
}

// Ping checks that the API root answers.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, "ping", http.MethodGet, c.baseURL+"/", nil, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, op, method, rawURL string, body interface{}, headers map[string]string) (resp *http.Response, err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveStoreCall(op, time.Since(start), err)
		}
	}()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err = c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, op, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp, nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if len(data) > 0 {
		if json.Unmarshal(data, apiErr) != nil {
			apiErr.Message = strings.TrimSpace(string(data))
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// Query is a single-table request under construction. It is not safe for
// concurrent use and should not be reused after execution.
type Query struct {
	client  *Client
	table   string
	params  url.Values
	filters int
}

// Select restricts the returned columns (default "*").
func (q *Query) Select(columns string) *Query {
	q.params.Set("select", columns)
	return q
}

// Eq adds a column = value filter.
func (q *Query) Eq(column, value string) *Query {
	return q.filter(column, "eq."+value)
}

// Neq adds a column <> value filter.
func (q *Query) Neq(column, value string) *Query {
	return q.filter(column, "neq."+value)
}

// In adds a set-membership filter. An empty set is rejected at execution.
func (q *Query) In(column string, values []string) *Query {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quote(v)
	}
	return q.filter(column, "in.("+strings.Join(quoted, ",")+")")
}

// Order sorts by column.
func (q *Query) Order(column string, ascending bool) *Query {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.params.Add("order", column+"."+dir)
	return q
}

func (q *Query) Limit(n int) *Query {
	q.params.Set("limit", strconv.Itoa(n))
	return q
}

func (q *Query) filter(column, expr string) *Query {
	q.params.Add(column, expr)
	q.filters++
	return q
}

func (q *Query) url() string {
	u := q.client.baseURL + "/" + url.PathEscape(q.table)
	if enc := q.params.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

func (q *Query) op(action string) string {
	return q.table + "." + action
}

func (q *Query) emptyIn() bool {
	for _, exprs := range q.params {
		for _, e := range exprs {
			if e == "in.()" {
				return true
			}
		}
	}
	return false
}

// Execute runs a select and decodes the JSON array into dest.
func (q *Query) Execute(ctx context.Context, dest interface{}) error {
	if q.emptyIn() {
		return fmt.Errorf("postgrest: empty in() filter on %s", q.table)
	}
	if q.params.Get("select") == "" {
		q.params.Set("select", "*")
	}
	resp, err := q.client.do(ctx, q.op("select"), http.MethodGet, q.url(), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s rows: %w", q.table, err)
	}
	return nil
}

// Insert posts one row and, when dest is non-nil, decodes the stored
// representation (an array with one element) into it.
func (q *Query) Insert(ctx context.Context, row interface{}, dest interface{}) error {
	prefer := "return=minimal"
	if dest != nil {
		prefer = "return=representation"
	}
	resp, err := q.client.do(ctx, q.op("insert"), http.MethodPost, q.url(), row, map[string]string{"Prefer": prefer})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode %s insert: %w", q.table, err)
	}
	return nil
}

// Upsert inserts row or merges it into the existing row with the same
// primary key.
func (q *Query) Upsert(ctx context.Context, row interface{}) error {
	resp, err := q.client.do(ctx, q.op("upsert"), http.MethodPost, q.url(), row, map[string]string{
		"Prefer": "resolution=merge-duplicates,return=minimal",
	})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Update patches the rows matched by the query filters. Matching zero rows
// is not an error.
func (q *Query) Update(ctx context.Context, patch interface{}) error {
	if q.filters == 0 {
		return ErrMissingFilter
	}
	resp, err := q.client.do(ctx, q.op("update"), http.MethodPatch, q.url(), patch, map[string]string{"Prefer": "return=minimal"})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Delete removes the rows matched by the query filters. Matching zero rows
// is not an error.
func (q *Query) Delete(ctx context.Context) error {
	if q.filters == 0 {
		return ErrMissingFilter
	}
	resp, err := q.client.do(ctx, q.op("delete"), http.MethodDelete, q.url(), nil, map[string]string{"Prefer": "return=minimal"})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// quote wraps a filter value in double quotes so reserved characters
// (commas, parentheses) survive inside in.(...) lists.
func quote(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `"`, `\"`)
	return `"` + v + `"`
}
