package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const (
	httpBodyLimit  = 1 << 20
	httpQuoteLimit = 4000
)

// HTTPTool fetches web pages for the agent under a per-run call budget.
type HTTPTool struct {
	client   *http.Client
	maxCalls int
}

func NewHTTPTool(client *http.Client, maxCalls int) *HTTPTool {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTool{client: client, maxCalls: maxCalls}
}

func (t *HTTPTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        toolHTTPRequest,
		Description: fmt.Sprintf("Fetch a web page with GET. Limited to %d calls per request; the body is truncated.", t.maxCalls),
		Schema: objectSchema([]string{"url"}, map[string]any{
			"url":    prop("string", "Absolute http or https URL."),
			"method": prop("string", "GET (default) or HEAD."),
		}),
	}
}

type httpInput struct {
	URL    string `json:"url"`
	Method string `json:"method"`
}

func (t *HTTPTool) Call(ctx context.Context, run *Run, input json.RawMessage) (string, error) {
	var in httpInput
	if err := decodeInput(input, &in); err != nil {
		return "", err
	}
	method := strings.ToUpper(strings.TrimSpace(in.Method))
	if method == "" {
		method = http.MethodGet
	}
	if method != http.MethodGet && method != http.MethodHead {
		return "", fmt.Errorf("method %s not allowed", method)
	}
	u, err := url.Parse(in.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errors.New("url must be an absolute http or https URL")
	}
	if t.maxCalls > 0 && run.httpCalls >= t.maxCalls {
		return "", fmt.Errorf("http_request budget of %d calls exhausted", t.maxCalls)
	}
	run.httpCalls++

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "itinerary-planner/1.0")
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", u.Host, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpBodyLimit))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "status: %d\n", resp.StatusCode)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		fmt.Fprintf(&b, "content-type: %s\n", ct)
	}
	if t.maxCalls > 0 {
		fmt.Fprintf(&b, "calls left: %d\n", t.maxCalls-run.httpCalls)
	}
	b.WriteString("\n")
	b.WriteString(clip(string(body), httpQuoteLimit))
	return b.String(), nil
}
