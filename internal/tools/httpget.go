package tools

import (
	"context"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const (
	httpGetUserAgent = "machina-autonomic/1.0"
	httpGetMaxChars  = 50000
)

// HTTPGetRequest is the input schema for HTTP.GET.v1.
type HTTPGetRequest struct {
	URL string `json:"url" jsonschema:"required"`
}

// HTTPGetHandler fetches a URL via fasthttp (spec.md §6 domain stack:
// "the HTTP.GET.v1 built-in handler").
type HTTPGetHandler struct{}

func (HTTPGetHandler) ActionID() string { return "HTTP.GET.v1" }
func (HTTPGetHandler) Request() any     { return &HTTPGetRequest{} }

func (HTTPGetHandler) Execute(ctx context.Context, args map[string]any) *Result {
	url := argString(args, "url")
	if url == "" {
		return ErrorResult("HTTP.GET.v1", ErrInvalidInput, "url is required")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return ErrorResult("HTTP.GET.v1", ErrInvalidInput, "url must be http(s)")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("User-Agent", httpGetUserAgent)

	deadline, ok := ctx.Deadline()
	timeout := 30 * time.Second
	if ok {
		if d := time.Until(deadline); d > 0 {
			timeout = d
		}
	}

	if err := fasthttp.DoTimeout(req, resp, timeout); err != nil {
		if err == fasthttp.ErrTimeout {
			return ErrorResult("HTTP.GET.v1", ErrTimeout, "request timed out")
		}
		return ErrorResult("HTTP.GET.v1", ErrTool, err.Error())
	}

	if resp.StatusCode() >= 400 {
		return ErrorResult("HTTP.GET.v1", ErrTool, resp.String())
	}

	body := string(resp.Body())
	if len(body) > httpGetMaxChars {
		body = body[:httpGetMaxChars] + "\n...[truncated]"
	}
	if strings.TrimSpace(body) == "" {
		return ErrorResult("HTTP.GET.v1", ErrEmptyOutput, "empty response body")
	}
	return NewResult(body)
}
