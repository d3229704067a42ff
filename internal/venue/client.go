package venue

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

// ErrNotFound marks a lookup whose subject does not exist remotely, most
// commonly a profile alias with no profile behind it.
var ErrNotFound = errors.New("not found")

// HTTPError carries a non-2xx remote response.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client is the remote API collaborator consumed by the sync engine and the
// identity resolver. Implementations must be safe for sequential reuse; the
// engine never calls concurrently.
type Client interface {
	// ListNotes fetches a single page of a note collection.
	ListNotes(ctx context.Context, q NoteQuery) ([]Note, error)
	// ListAllNotes exhausts the collection slice selected by q, paginating
	// internally. Offset and Limit on q are ignored.
	ListAllNotes(ctx context.Context, q NoteQuery) ([]Note, error)
	// ListGroups fetches every group whose ID starts with prefix.
	ListGroups(ctx context.Context, prefix string) ([]Group, error)
	// ListGroupedEdges fetches an edge collection grouped by head.
	ListGroupedEdges(ctx context.Context, invitation string) ([]EdgeGroup, error)
	// GetProfile looks a profile up by any alias. Returns ErrNotFound when
	// no profile claims the alias.
	GetProfile(ctx context.Context, alias string) (Profile, error)
	// ListNoteEdits fetches the edit history of one note.
	ListNoteEdits(ctx context.Context, noteID string) ([]Edit, error)
}

// HTTPClient talks to the remote platform over its JSON REST surface with
// bounded retry on transient failures.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	pageSize   int
}

// NewHTTPClient builds a client for baseURL. A nil httpClient gets a default
// with a 30s timeout; token may be empty for anonymous access.
func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  200 * time.Millisecond,
		maxDelay:   5 * time.Second,
		pageSize:   1000,
	}
}

func (c *HTTPClient) ListNotes(ctx context.Context, q NoteQuery) ([]Note, error) {
	values := url.Values{}
	if q.Invitation != "" {
		values.Set("invitation", q.Invitation)
	}
	if q.Forum != "" {
		values.Set("forum", q.Forum)
	}
	if q.ContentAuthorID != "" {
		values.Set("content.authorids", q.ContentAuthorID)
	}
	if q.MinTCDate > 0 {
		values.Set("mintcdate", strconv.FormatInt(q.MinTCDate, 10))
	}
	if q.Sort != "" {
		values.Set("sort", q.Sort)
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Trash {
		values.Set("trash", "true")
	}
	if q.Details != "" {
		values.Set("details", q.Details)
	}
	var out struct {
		Notes []Note `json:"notes"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/notes?"+values.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Notes, nil
}

func (c *HTTPClient) ListAllNotes(ctx context.Context, q NoteQuery) ([]Note, error) {
	var all []Note
	q.Offset = 0
	q.Limit = c.pageSize
	for {
		page, err := c.ListNotes(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < q.Limit {
			return all, nil
		}
		q.Offset += q.Limit
	}
}

func (c *HTTPClient) ListGroups(ctx context.Context, prefix string) ([]Group, error) {
	values := url.Values{}
	values.Set("prefix", prefix)
	var out struct {
		Groups []Group `json:"groups"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/groups?"+values.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

func (c *HTTPClient) ListGroupedEdges(ctx context.Context, invitation string) ([]EdgeGroup, error) {
	values := url.Values{}
	values.Set("invitation", invitation)
	values.Set("groupby", "head")
	values.Set("select", "tail")
	var out struct {
		GroupedEdges []struct {
			ID struct {
				Head string `json:"head"`
			} `json:"id"`
			Values []struct {
				Tail string `json:"tail"`
			} `json:"values"`
		} `json:"groupedEdges"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/edges?"+values.Encode(), nil, &out); err != nil {
		return nil, err
	}
	groups := make([]EdgeGroup, 0, len(out.GroupedEdges))
	for _, raw := range out.GroupedEdges {
		tails := make([]string, 0, len(raw.Values))
		for _, v := range raw.Values {
			tails = append(tails, v.Tail)
		}
		groups = append(groups, EdgeGroup{Head: raw.ID.Head, Tails: tails})
	}
	return groups, nil
}

func (c *HTTPClient) GetProfile(ctx context.Context, alias string) (Profile, error) {
	values := url.Values{}
	if strings.Contains(alias, "@") {
		values.Set("email", alias)
	} else {
		values.Set("id", alias)
	}
	var out struct {
		Profiles []Profile `json:"profiles"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/profiles/search?"+values.Encode(), nil, &out); err != nil {
		return Profile{}, err
	}
	if len(out.Profiles) == 0 {
		return Profile{}, fmt.Errorf("profile %s: %w", alias, ErrNotFound)
	}
	return out.Profiles[0], nil
}

func (c *HTTPClient) ListNoteEdits(ctx context.Context, noteID string) ([]Edit, error) {
	values := url.Values{}
	values.Set("note.id", noteID)
	var out struct {
		Edits []Edit `json:"edits"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/notes/edits?"+values.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Edits, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Name    string `json:"name"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Name,
			Message:    errPayload.Message,
		}
	}
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
