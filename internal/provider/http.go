package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"
)

const defaultTimeout = 15 * time.Second

// HTTPClient talks to the offerings endpoint over fasthttp. A shared rate
// limiter keeps concurrent sweeps from hammering the upstream, which tends
// to trip its anti-bot layer.
type HTTPClient struct {
	baseURL string
	timeout time.Duration
	cli     *fasthttp.Client
	limiter *rate.Limiter
}

type HTTPConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RatePerSec int
}

func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, fmt.Errorf("provider: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("provider: invalid base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 2
	}
	return &HTTPClient{
		baseURL: base,
		timeout: timeout,
		cli: &fasthttp.Client{
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

func (c *HTTPClient) Fetch(ctx context.Context, course, credential string) ([]Section, error) {
	const op = "fetch"

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindTransient, Op: op, Err: err}
	}

	q := url.Values{}
	q.Set("course", course)
	q.Set("id_no", credential)
	uri := c.baseURL + "?" + q.Encode()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Accept", "application/json")

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.cli.DoDeadline(req, resp, deadline); err != nil {
		return nil, &Error{Kind: KindTransient, Op: op, Err: err}
	}

	switch code := resp.StatusCode(); {
	case code == fasthttp.StatusOK:
	case code == fasthttp.StatusServiceUnavailable:
		return nil, &Error{Kind: KindBlocked, Op: op, Err: fmt.Errorf("upstream returned %d", code)}
	case code == fasthttp.StatusNotFound:
		return nil, &Error{Kind: KindNotFound, Op: op, Err: fmt.Errorf("course %q not offered", course)}
	default:
		return nil, &Error{Kind: KindTransient, Op: op, Err: fmt.Errorf("unexpected status %d", code)}
	}

	body := append([]byte(nil), resp.Body()...)
	return decodeSections(course, body)
}

// decodeSections parses and validates one offerings payload.
func decodeSections(course string, body []byte) ([]Section, error) {
	const op = "decode"

	var secs []Section
	if err := json.Unmarshal(body, &secs); err != nil {
		return nil, &Error{Kind: KindMalformed, Op: op, Err: err}
	}
	seen := make(map[int]struct{}, len(secs))
	for _, s := range secs {
		if s.ClassNbr <= 0 {
			return nil, &Error{Kind: KindMalformed, Op: op, Err: fmt.Errorf("course %s: non-positive class number %d", course, s.ClassNbr)}
		}
		if _, dup := seen[s.ClassNbr]; dup {
			return nil, &Error{Kind: KindMalformed, Op: op, Err: fmt.Errorf("course %s: duplicate class number %d", course, s.ClassNbr)}
		}
		seen[s.ClassNbr] = struct{}{}
		if s.Enrolled < 0 || s.EnrlCap < 0 {
			return nil, &Error{Kind: KindMalformed, Op: op, Err: fmt.Errorf("course %s: negative counts in class %d", course, s.ClassNbr)}
		}
	}
	return secs, nil
}
