package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"secure_drop/internal/model"

	"github.com/gorilla/websocket"
)

var ErrNotFound = errors.New("not found")

type (
	// APIError is a non-2xx answer that is not part of the normal outcome
	// set of the endpoint.
	APIError struct {
		StatusCode int
		Message    string
	}

	Client struct {
		host string
		http *http.Client
	}
)

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// NewClient talks to the local API at host (host:port, no scheme).
func NewClient(host string) *Client {
	return &Client{
		host: host,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) url(scheme, path string) string {
	u := url.URL{
		Scheme: scheme,
		Host:   c.host,
		Path:   path,
	}
	return u.String()
}

func (c *Client) EnsureKeys(ctx context.Context, id string) (*model.KeyResponse, error) {
	var out model.KeyResponse
	if _, err := c.do(ctx, http.MethodPut, "/keys/"+id, nil, &out, http.StatusOK, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Send(ctx context.Context, id, text string, ttlMinutes *float64) (*model.SendResponse, error) {
	var out model.SendResponse
	req := &model.SendRequest{Text: text, TTLMinutes: ttlMinutes}
	if _, err := c.do(ctx, http.MethodPost, "/messages/"+id, req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

// Receive returns the outcome for any of delivered, not_found or expired.
func (c *Client) Receive(ctx context.Context, id string) (*model.ReceiveResponse, error) {
	var out model.ReceiveResponse
	if _, err := c.do(ctx, http.MethodPost, "/messages/"+id+"/receive", nil, &out,
		http.StatusOK, http.StatusNotFound, http.StatusGone); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Inspect(ctx context.Context, id string) (*model.SlotView, error) {
	var out model.SlotView
	if _, err := c.do(ctx, http.MethodGet, "/messages/"+id, nil, &out,
		http.StatusOK, http.StatusNotFound, http.StatusGone); err != nil {
		return nil, err
	}
	return &out, nil
}

// Watch streams countdown frames for id to fn until the slot stops being
// pending, ctx is cancelled or the connection drops.
func (c *Client) Watch(ctx context.Context, id string, fn func(*model.SlotView)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url("ws", "/messages/"+id+"/watch"), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	for {
		var view model.SlotView
		if err := conn.ReadJSON(&view); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		fn(&view)
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, okCodes ...int) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url("http", path), body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	defer io.Copy(io.Discard, resp.Body)

	for _, code := range okCodes {
		if resp.StatusCode == code {
			if out == nil {
				return code, nil
			}
			return code, json.NewDecoder(resp.Body).Decode(out)
		}
	}

	var apiErr model.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Error == "" {
		apiErr.Error = http.StatusText(resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: apiErr.Error}
}
