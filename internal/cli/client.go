package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/edupinhata/naval-gunbound-war/internal/relay"
)

var ErrUnknownToken = errors.New("unknown token")

// Client talks to a relayd over its HTTP endpoints.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

// Token registers the caller and returns its token. created is false when
// the server already knew it.
func (c *Client) Token(ctx context.Context) (tok string, created bool, err error) {
	resp, err := c.do(ctx, http.MethodPost, "/token", nil)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", false, fmt.Errorf("read token: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusCreated:
		return string(b), true, nil
	case http.StatusOK:
		return string(b), false, nil
	default:
		return "", false, statusError(resp.StatusCode, b)
	}
}

// Listen opens a stream for tok and calls fn with every message, unframed,
// until the server ends the stream or ctx is done.
func (c *Client) Listen(ctx context.Context, tok string, fn func(msg []byte)) error {
	resp, err := c.do(ctx, http.MethodGet, "/stream?token="+url.QueryEscape(tok), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrUnknownToken
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return statusError(resp.StatusCode, b)
	}

	br := bufio.NewReader(resp.Body)
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 && line[len(line)-1] == '\n' {
			fn(relay.Unframe(line))
		}
		if err != nil {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

func (c *Client) Send(ctx context.Context, msg []byte) (relay.Report, error) {
	var rep relay.Report
	resp, err := c.do(ctx, http.MethodPost, "/broadcast", bytes.NewReader(msg))
	if err != nil {
		return rep, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return rep, statusError(resp.StatusCode, b)
	}
	if err := json.NewDecoder(resp.Body).Decode(&rep); err != nil {
		return rep, fmt.Errorf("decode report: %w", err)
	}
	return rep, nil
}

func (c *Client) Delete(ctx context.Context, tok string) error {
	resp, err := c.do(ctx, http.MethodPost, "/delete", strings.NewReader(tok))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrUnknownToken
	default:
		return statusError(resp.StatusCode, b)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

func statusError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(code)
	}
	return fmt.Errorf("server returned %d: %s", code, msg)
}
