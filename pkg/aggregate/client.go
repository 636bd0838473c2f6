// Package aggregate talks to an ODK Aggregate server's OpenRosa and briefcase
// endpoints on behalf of ODK clients.
package aggregate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/synaptica-ai/specimen-tracking/pkg/common/config"
	"github.com/synaptica-ai/specimen-tracking/pkg/gateway/httpclient"
)

const maxBody = 32 << 20

// Response is an upstream reply passed back to the caller unchanged.
type Response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

type Client struct {
	baseURL  string
	http     *http.Client
	attempts int
}

func NewClient(baseURL string, client *http.Client, attempts int) *Client {
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     client,
		attempts: attempts,
	}
}

func FromConfig(cfg *config.Config) *Client {
	return NewClient(cfg.AggregateURL, httpclient.New(cfg.AggregateTimeout), cfg.AggregateRetries)
}

func (c *Client) FormList(ctx context.Context) (*Response, error) {
	return c.get(ctx, "/formList", nil)
}

// SubmissionList pages through a form's submission ids. numEntries <= 0 uses
// the server default.
func (c *Client) SubmissionList(ctx context.Context, formID string, numEntries int) (*Response, error) {
	q := url.Values{"formId": {formID}}
	if numEntries > 0 {
		q.Set("numEntries", strconv.Itoa(numEntries))
	}
	return c.get(ctx, "/view/submissionList", q)
}

// DownloadSubmission fetches one submission. topElement defaults to formID.
func (c *Client) DownloadSubmission(ctx context.Context, formID, topElement, submissionID string) (*Response, error) {
	if topElement == "" {
		topElement = formID
	}
	key := fmt.Sprintf("%s[@version=null and uiVersion=null]/%s[@key=%s]", formID, topElement, submissionID)
	return c.get(ctx, "/view/downloadSubmission", url.Values{"formId": {key}})
}

func (c *Client) get(ctx context.Context, path string, q url.Values) (*Response, error) {
	target := c.baseURL + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	resp, err := httpclient.Get(ctx, c.http, target, c.attempts, http.Header{
		"X-Openrosa-Version": {"1.0"},
	})
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("reading aggregate %s: %w", path, err)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/xml"
	}
	return &Response{StatusCode: resp.StatusCode, ContentType: contentType, Body: body}, nil
}
