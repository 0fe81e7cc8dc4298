// Package recognition queries an Echoprint-compatible identification service.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
)

const (
	DefaultEndpoint  = "http://api.mooma.sh/v1/song/identify"
	DefaultCodeParam = "code"

	// maxBodySize bounds how much of a response is read
	maxBodySize = 1 << 20
)

var (
	// ErrTransport covers request failures and non-2xx responses
	ErrTransport = errors.New("recognition transport error")

	// ErrParse covers bodies that are not JSON or lack the expected structure
	ErrParse = errors.New("recognition response parse error")
)

// Match holds the fields of the best candidate. artist_name and title are
// always present.
type Match map[string]string

// Artist returns the artist_name field
func (m Match) Artist() string { return m["artist_name"] }

// Title returns the title field
func (m Match) Title() string { return m["title"] }

// Result is the outcome of a successful lookup. Found is false when the
// service has no candidate for the code.
type Result struct {
	Match Match
	Found bool
}

// Options configures a Client
type Options struct {
	Endpoint   string
	APIKey     string
	CodeParam  string
	Params     map[string]string
	HTTPClient *http.Client
}

// Client performs one GET per code; it never retries
type Client struct {
	endpoint   *url.URL
	apiKey     string
	codeParam  string
	params     map[string]string
	httpClient *http.Client
}

// New validates opts and returns a Client
func New(opts Options) (*Client, error) {
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid recognition endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("recognition endpoint must be http or https: %s", endpoint)
	}

	codeParam := opts.CodeParam
	if codeParam == "" {
		codeParam = DefaultCodeParam
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		endpoint:   u,
		apiKey:     opts.APIKey,
		codeParam:  codeParam,
		params:     opts.Params,
		httpClient: httpClient,
	}, nil
}

// requestURL appends the api key, extra params and the code to the endpoint
func (c *Client) requestURL(code string) string {
	u := *c.endpoint
	q := u.Query()
	for k, v := range c.params {
		q.Set(k, v)
	}
	if c.apiKey != "" {
		q.Set("api_key", c.apiKey)
	}
	q.Set(c.codeParam, code)
	u.RawQuery = q.Encode()
	return u.String()
}

// Identify looks up code. Errors wrap ErrTransport or ErrParse.
func (c *Client) Identify(ctx context.Context, code string) (Result, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(code), nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: building request: %v", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Result{}, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}

	slog.Debug("Results fetched", "status", resp.StatusCode, "bytes", len(body), "duration_ms", time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("%w: unexpected status %s", ErrTransport, resp.Status)
	}

	return ParseResponse(body)
}

// ParseResponse decodes a {"response":{"songs":[...]}} body.
//
// A missing "response" object is an error while a missing or empty "songs"
// list is a normal no-match.
func ParseResponse(body []byte) (Result, error) {
	if !gjson.ValidBytes(body) {
		return Result{}, fmt.Errorf("%w: body is not valid JSON", ErrParse)
	}

	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Result{}, fmt.Errorf("%w: top level is not an object", ErrParse)
	}

	response := root.Get("response")
	if !response.Exists() {
		return Result{}, fmt.Errorf("%w: missing \"response\"", ErrParse)
	}
	if !response.IsObject() {
		return Result{}, fmt.Errorf("%w: \"response\" is not an object", ErrParse)
	}

	logStatus(response.Get("status"))

	songs := response.Get("songs")
	if !songs.Exists() {
		return Result{}, nil
	}
	if !songs.IsArray() {
		return Result{}, fmt.Errorf("%w: \"songs\" is not an array", ErrParse)
	}

	candidates := songs.Array()
	if len(candidates) == 0 {
		return Result{}, nil
	}

	first := candidates[0]
	if !first.IsObject() {
		return Result{}, fmt.Errorf("%w: songs[0] is not an object", ErrParse)
	}

	match := Match{}
	first.ForEach(func(key, value gjson.Result) bool {
		switch value.Type {
		case gjson.String, gjson.Number, gjson.True, gjson.False:
			match[key.String()] = value.String()
		}
		return true
	})

	for _, field := range []string{"artist_name", "title"} {
		if v := first.Get(field); !v.Exists() || v.Type != gjson.String {
			return Result{}, fmt.Errorf("%w: songs[0] has no string %q", ErrParse, field)
		}
	}

	return Result{Match: match, Found: true}, nil
}

func logStatus(status gjson.Result) {
	if !status.Exists() {
		return
	}
	code := status.Get("code")
	attrs := []any{"message", status.Get("message").String()}
	if code.Exists() {
		attrs = append(attrs, "code", code.Int(), "name", MessageForCode(int(code.Int())))
	}
	slog.Debug("Recognition status", attrs...)
}

var codeNames = []string{
	"NOT_ENOUGH_CODE",
	"CANNOT_DECODE",
	"SINGLE_BAD_MATCH",
	"SINGLE_GOOD_MATCH",
	"NO_RESULTS",
	"MULTIPLE_GOOD_MATCH_HISTOGRAM_INCREASED",
	"MULTIPLE_GOOD_MATCH_HISTOGRAM_DECREASED",
	"MULTIPLE_BAD_HISTOGRAM_MATCH",
	"MULTIPLE_GOOD_MATCH",
}

// MessageForCode names an Echoprint server response code
func MessageForCode(code int) string {
	if code < 0 || code >= len(codeNames) {
		return "UNKNOWN"
	}
	return codeNames[code]
}
