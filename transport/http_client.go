package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
)

// Client executes requests.
type Client interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// HTTPClient is the net/http Client with transient-error retries.
type HTTPClient struct {
	client  *http.Client
	retryer Retryer
	logger  log.Logger
}

// NewHTTPClient wraps client (nil means a client with a 10s timeout).
func NewHTTPClient(client *http.Client, retryer Retryer, logger log.Logger) *HTTPClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &HTTPClient{client: client, retryer: retryer, logger: logger}
}

// Execute sends req, retrying transient failures per the retryer.
func (c *HTTPClient) Execute(ctx context.Context, req *Request) (*Response, error) {
	var resp *Response
	err := c.retryer.Do(ctx, c.logger, req.String(), func() error {
		var err error
		resp, err = c.do(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *HTTPClient) do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: build %s", req)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "transport: read %s", req)
	}
	return &Response{
		Status:  httpResp.StatusCode,
		Header:  httpResp.Header,
		Body:    data,
		Request: req,
	}, nil
}
