// Package api is the request/response side of the backend: stream tokens,
// bulk thread fetch and file uploads.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/johndosdos/carechat/internal/model"
)

// Error represents a non-2xx response from the API.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" && e.Message != "" {
		return fmt.Sprintf("api error: %s (%d): %s", e.Code, e.Status, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ThreadPage is one page of the bulk thread fetch.
type ThreadPage struct {
	Threads  []model.Thread `json:"threads"`
	NextPage *int           `json:"next_page"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type messagesResponse struct {
	Messages []model.Message `json:"messages"`
}

// Client talks to the backend REST API on behalf of a signed-in session.
type Client struct {
	baseURL      string
	sessionToken string
	httpClient   *http.Client
}

// NewClient constructs an API client. sessionToken is the credential issued
// by the identity provider for the current session.
func NewClient(baseURL, sessionToken string) (*Client, error) {
	normalized, err := NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		baseURL:      normalized,
		sessionToken: sessionToken,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}, nil
}

// NormalizeBaseURL trims a base URL and ensures it has a scheme.
func NormalizeBaseURL(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", fmt.Errorf("api url cannot be empty")
	}
	parsed, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("invalid api url: %w", err)
	}
	if parsed.Scheme == "" {
		return "", fmt.Errorf("api url must include scheme (https://)")
	}
	return strings.TrimRight(value, "/"), nil
}

// StreamToken fetches a fresh token for authenticating the stream connection.
func (c *Client) StreamToken(ctx context.Context) (string, error) {
	var resp tokenResponse
	if err := c.doJSON(ctx, http.MethodGet, "/api/session/token", nil, nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("api returned an empty stream token")
	}
	return resp.Token, nil
}

// ThreadsPage fetches a single page of the current user's threads.
func (c *Client) ThreadsPage(ctx context.Context, page int) (ThreadPage, error) {
	var resp ThreadPage
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	if err := c.doJSON(ctx, http.MethodGet, "/api/threads", query, nil, &resp); err != nil {
		return ThreadPage{}, err
	}
	return resp, nil
}

// Threads walks every page of the thread list. A failure on any page discards
// the pages already read.
func (c *Client) Threads(ctx context.Context) ([]model.Thread, error) {
	var all []model.Thread
	page := 1
	for {
		resp, err := c.ThreadsPage(ctx, page)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch threads page %d: %w", page, err)
		}
		all = append(all, resp.Threads...)
		if resp.NextPage == nil || *resp.NextPage <= page {
			return all, nil
		}
		page = *resp.NextPage
	}
}

// Messages fetches the full message sequence of a thread.
func (c *Client) Messages(ctx context.Context, threadID string) ([]model.Message, error) {
	var resp messagesResponse
	path := "/api/threads/" + url.PathEscape(threadID) + "/messages"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Upload sends a file to the upload endpoint and returns its descriptor.
func (c *Client) Upload(ctx context.Context, name, contentType string, r io.Reader) (model.Attachment, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return model.Attachment{}, err
	}
	if _, err := io.Copy(part, r); err != nil {
		return model.Attachment{}, fmt.Errorf("failed to buffer upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return model.Attachment{}, err
	}

	var resp model.Attachment
	if err := c.do(ctx, http.MethodPost, "/api/uploads", nil, &body, mw.FormDataContentType(), &resp); err != nil {
		return model.Attachment{}, err
	}
	if resp.IsZero() {
		return model.Attachment{}, fmt.Errorf("api returned an empty upload descriptor")
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, reqBody any, respBody any) error {
	var body io.Reader
	contentType := ""
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.do(ctx, method, path, query, body, contentType, respBody)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, respBody any) error {
	endpoint, err := c.buildURL(path, query)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.sessionToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &Error{Status: resp.StatusCode}
		var payload errorPayload
		if err := json.Unmarshal(respData, &payload); err == nil {
			apiErr.Code = payload.Error
			apiErr.Message = payload.Message
		} else {
			apiErr.Message = strings.TrimSpace(string(respData))
		}
		return apiErr
	}

	if respBody == nil || len(respData) == 0 {
		return nil
	}
	return json.Unmarshal(respData, respBody)
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	// Join rather than resolve so a base path such as /v1 is kept.
	endpoint := base.JoinPath(ref.EscapedPath())
	endpoint.RawQuery = ref.RawQuery
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}
	return endpoint.String(), nil
}
