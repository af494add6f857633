// Package telegram implements the notification sink against the
// Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/automail/automail/internal/sink"
)

// DefaultBaseURL is the production Bot API endpoint.
const DefaultBaseURL = "https://api.telegram.org"

// Client is a thin HTTP client for the Telegram Bot API. It reports
// HTTP 429 responses as sink.RateLimitError with the server-provided
// retry_after; retry policy is the caller's concern.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a Telegram Bot API client. baseURL is normally
// DefaultBaseURL; tests point it at a local server.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// apiResponse is the envelope every Bot API method returns.
type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// SendText delivers a payload via the sendMessage method with HTML
// parse mode.
func (c *Client) SendText(ctx context.Context, chatRef, payload string) error {
	body, err := json.Marshal(map[string]string{
		"chat_id":    chatRef,
		"text":       payload,
		"parse_mode": "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshaling sendMessage body: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.methodURL("sendMessage"),
		bytes.NewReader(body),
	)
	if err != nil {
		return fmt.Errorf("creating sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, "sendMessage")
}

// SendFile delivers a named file via the sendDocument method as a
// multipart upload.
func (c *Client) SendFile(
	ctx context.Context,
	chatRef, name string,
	data []byte,
	caption string,
) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("chat_id", chatRef); err != nil {
		return fmt.Errorf("writing chat_id field: %w", err)
	}
	if caption != "" {
		if err := w.WriteField("caption", caption); err != nil {
			return fmt.Errorf("writing caption field: %w", err)
		}
		if err := w.WriteField("parse_mode", "HTML"); err != nil {
			return fmt.Errorf("writing parse_mode field: %w", err)
		}
	}

	part, err := w.CreateFormFile("document", name)
	if err != nil {
		return fmt.Errorf("creating document part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("writing document payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.methodURL("sendDocument"), &buf,
	)
	if err != nil {
		return fmt.Errorf("creating sendDocument request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.do(req, "sendDocument")
}

// do executes a prepared request and translates the Bot API response
// envelope into an error.
func (c *Client) do(req *http.Request, method string) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing %s: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s response: %w", method, err)
	}

	var api apiResponse
	if err := json.Unmarshal(respBody, &api); err != nil {
		return fmt.Errorf(
			"decoding %s response (HTTP %d): %w",
			method, resp.StatusCode, err,
		)
	}

	if resp.StatusCode == http.StatusTooManyRequests || api.ErrorCode == 429 {
		var retryAfter time.Duration
		if api.Parameters != nil {
			retryAfter = time.Duration(api.Parameters.RetryAfter) * time.Second
		}
		return &sink.RateLimitError{RetryAfter: retryAfter}
	}

	if !api.OK {
		return fmt.Errorf(
			"%s failed (HTTP %d): %s",
			method, resp.StatusCode, api.Description,
		)
	}

	return nil
}

// methodURL builds the full URL for a Bot API method call.
func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}
