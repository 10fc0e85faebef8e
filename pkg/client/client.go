// Package client talks to the webcamrec REST api.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type Client struct {
	http *resty.Client
}

// APIError is a non 2xx answer of the server.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server answered %d: %s", e.Status, strings.TrimSpace(e.Body))
}

func New(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimSuffix(baseURL, "/")).
			SetTimeout(90 * time.Second).
			SetHeader("Accept", "application/json"),
	}
}

func (c *Client) SetToken(token string) *Client {
	if token != "" {
		c.http.SetAuthToken(token)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	req := c.http.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return &APIError{Status: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

// Login exchanges credentials for a bearer token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, user, pass string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, resty.MethodPost, "/login", map[string]string{"user": user, "pass": pass}, &out); err != nil {
		return "", err
	}
	c.SetToken(out.Token)
	return out.Token, nil
}

func (c *Client) Status(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	return out, c.do(ctx, resty.MethodGet, "/record/status", nil, &out)
}

func (c *Client) Stats(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	return out, c.do(ctx, resty.MethodGet, "/record/stats", nil, &out)
}

func (c *Client) Start(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	return out, c.do(ctx, resty.MethodPost, "/record/start", nil, &out)
}

func (c *Client) Stop(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	return out, c.do(ctx, resty.MethodPost, "/record/stop", nil, &out)
}

func (c *Client) SetRecording(ctx context.Context, on bool) (map[string]any, error) {
	out := map[string]any{}
	path := "/record/off"
	if on {
		path = "/record/on"
	}
	return out, c.do(ctx, resty.MethodPost, path, nil, &out)
}

func (c *Client) Segments(ctx context.Context) ([]map[string]any, error) {
	var out []map[string]any
	return out, c.do(ctx, resty.MethodGet, "/segments", nil, &out)
}

func (c *Client) Storage(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	return out, c.do(ctx, resty.MethodGet, "/storage", nil, &out)
}
