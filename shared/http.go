package shared

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"
)

// OpenAIBaseURL is the default endpoint of the OpenAI REST API.
var OpenAIBaseURL = url.URL{
	Scheme: "https",
	Host:   "api.openai.com",
	Path:   "/v1",
}

// AnthropicBaseURL is the default endpoint of the Anthropic REST API.
var AnthropicBaseURL = url.URL{
	Scheme: "https",
	Host:   "api.anthropic.com",
}

// ParseBaseURL parses raw, falling back to def when raw is blank.
func ParseBaseURL(raw string, def url.URL) (*url.URL, error) {
	if raw == "" {
		return &def, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parsing base URL: %q is not absolute", raw)
	}
	return u, nil
}

// HTTPResponse is the part of a fasthttp response that outlives the request.
type HTTPResponse struct {
	Status int
	Body   []byte
}

// Do performs req on client and returns once it completes or ctx is done.
// req is copied, so the caller may release it as soon as Do returns. A
// positive timeout bounds the request on top of any ctx deadline.
func Do(ctx context.Context, client *fasthttp.Client, req *fasthttp.Request, timeout time.Duration) (HTTPResponse, error) {
	r := fasthttp.AcquireRequest()
	req.CopyTo(r)

	deadline, hasDeadline := ctx.Deadline()
	if timeout > 0 {
		if d := time.Now().Add(timeout); !hasDeadline || d.Before(deadline) {
			deadline, hasDeadline = d, true
		}
	}

	type result struct {
		resp HTTPResponse
		err  error
	}
	resC := make(chan result, 1)
	go func() {
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(r)
		defer fasthttp.ReleaseResponse(resp)

		var err error
		if hasDeadline {
			err = client.DoDeadline(r, resp, deadline)
		} else {
			err = client.Do(r, resp)
		}
		if err != nil {
			resC <- result{err: err}
			return
		}
		resC <- result{resp: HTTPResponse{
			Status: resp.StatusCode(),
			Body:   bytes.Clone(resp.Body()),
		}}
	}()

	select {
	case <-ctx.Done():
		return HTTPResponse{}, ctx.Err()
	case res := <-resC:
		if res.err != nil {
			return HTTPResponse{}, fmt.Errorf("performing HTTP request: %w", res.err)
		}
		return res.resp, nil
	}
}

// CheckStatus returns ErrUnexpectedStatus, with the body attached, unless
// resp carries want.
func CheckStatus(resp HTTPResponse, want int) error {
	if resp.Status == want {
		return nil
	}
	return fmt.Errorf("%w: %d, body: %s", ErrUnexpectedStatus, resp.Status, string(resp.Body))
}

// NewHTTPClient returns the fasthttp client shared by the REST collaborators.
func NewHTTPClient() *fasthttp.Client {
	return &fasthttp.Client{
		Name:                "voice-relay/" + Version,
		MaxIdleConnDuration: 30 * time.Second,
		ReadTimeout:         2 * time.Minute,
		WriteTimeout:        30 * time.Second,
	}
}
