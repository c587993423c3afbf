// Package network is the authenticated HTTP client for the shipper server API.
package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// APIPrefix is prepended to every endpoint path.
const APIPrefix = "/api/v1"

// Config holds configuration for the shipper API client.
type Config struct {
	// ServerURL is the scheme and host of the shipper server, without the API prefix.
	ServerURL string

	// Token is sent in the Authorization header of every request.
	Token string

	// UserAgent is sent with every request.
	// Default: "shippy"
	UserAgent string

	// ReadRetryMax is the number of retries for GET requests on connection errors and 5xx responses.
	// State-changing requests are never retried by the client.
	// Default: 3
	ReadRetryMax int

	// RetryWaitMin and RetryWaitMax bound the backoff between GET retries.
	// Default: 1s and 30s
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// HTTPClient is the underlying HTTP client. If nil, the retryablehttp pooled client is used.
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration for the given server.
func DefaultConfig(serverURL, token string) Config {
	return Config{
		ServerURL:    serverURL,
		Token:        token,
		UserAgent:    "shippy",
		ReadRetryMax: 3,
		RetryWaitMin: time.Second,
		RetryWaitMax: 30 * time.Second,
	}
}

// Client issues authenticated requests against a shipper server.
type Client struct {
	config      Config
	baseURL     string
	readClient  *retryablehttp.Client
	writeClient *retryablehttp.Client
	logger      log.Logger
}

// NewClient creates a Client.
func NewClient(config Config, logger log.Logger) *Client {
	if config.UserAgent == "" {
		config.UserAgent = "shippy"
	}

	readClient := retryhttp.NewClient(logger)
	readClient.RetryMax = config.ReadRetryMax
	if config.RetryWaitMin > 0 {
		readClient.RetryWaitMin = config.RetryWaitMin
	}
	if config.RetryWaitMax > 0 {
		readClient.RetryWaitMax = config.RetryWaitMax
	}
	readClient.CheckRetry = createReadRetryFunction(logger)
	readClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	writeClient := retryhttp.NewClient(logger)
	writeClient.RetryMax = 0
	writeClient.CheckRetry = noRetry
	writeClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	var readHTTP, writeHTTP http.Client
	if config.HTTPClient != nil {
		readHTTP = *config.HTTPClient
		writeHTTP = *config.HTTPClient
	} else {
		readHTTP = *readClient.HTTPClient
		writeHTTP = *writeClient.HTTPClient
	}
	// A redirect would silently turn a PUT or POST into a GET; surface it instead.
	writeHTTP.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	readClient.HTTPClient = &readHTTP
	writeClient.HTTPClient = &writeHTTP

	return &Client{
		config:      config,
		baseURL:     strings.TrimRight(config.ServerURL, "/") + APIPrefix,
		readClient:  readClient,
		writeClient: writeClient,
		logger:      logger,
	}
}

// ServerURL returns the server URL the client talks to.
func (c *Client) ServerURL() string {
	return c.config.ServerURL
}

// IsURLSecure reports whether the server URL uses HTTPS.
func (c *Client) IsURLSecure() bool {
	return strings.HasPrefix(strings.ToLower(c.config.ServerURL), "https://")
}

// WithServerURL returns a copy of the client pointed at another server.
func (c *Client) WithServerURL(serverURL string) *Client {
	config := c.config
	config.ServerURL = serverURL
	return NewClient(config, c.logger)
}

// WithToken returns a copy of the client that authenticates with token.
func (c *Client) WithToken(token string) *Client {
	config := c.config
	config.Token = token
	return NewClient(config, c.logger)
}

// Get issues a GET request. Connection errors and 5xx responses are retried.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, c.readClient, http.MethodGet, path, nil, nil)
}

// Post issues a POST request with the given body. It is never retried or redirected.
func (c *Client) Post(ctx context.Context, path string, body []byte, headers map[string]string) (*Response, error) {
	return c.do(ctx, c.writeClient, http.MethodPost, path, body, headers)
}

// Put issues a PUT request with the given body. It is never retried or redirected.
func (c *Client) Put(ctx context.Context, path string, body []byte, headers map[string]string) (*Response, error) {
	return c.do(ctx, c.writeClient, http.MethodPut, path, body, headers)
}

func (c *Client) do(ctx context.Context, client *retryablehttp.Client, method, path string, body []byte, headers map[string]string) (*Response, error) {
	url := c.baseURL + path

	var reqBody interface{}
	if body != nil {
		reqBody = body
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.headers() {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if body != nil {
		req.ContentLength = int64(len(body))
	}

	c.dumpRequest(req)

	resp, err := client.Do(req)
	if err != nil {
		if resp != nil {
			resp.Body.Close() //nolint:errcheck
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s cancelled: %w", method, url, ctx.Err())
		}
		return nil, &TransportError{Method: method, URL: url, Err: err}
	}
	defer func(body io.ReadCloser) {
		err := body.Close()
		if err != nil {
			c.logger.Printf(err.Error())
		}
	}(resp.Body)

	c.dumpResponse(resp)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: method, URL: url, Err: fmt.Errorf("read response body: %w", err)}
	}

	return &Response{
		Method:     method,
		URL:        url,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       respBody,
	}, nil
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"User-Agent":    c.config.UserAgent,
		"Authorization": fmt.Sprintf("Token %s", c.config.Token),
	}
}

func (c *Client) dumpRequest(req *retryablehttp.Request) {
	// Chunk bodies are megabytes of binary data; only headers are dumped.
	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		c.logger.Warnf("error while dumping request: %s", err)
		return
	}
	c.logger.Debugf("Request dump: %s", c.redact(string(dump)))
}

func (c *Client) dumpResponse(resp *http.Response) {
	dump, err := httputil.DumpResponse(resp, true)
	if err != nil {
		c.logger.Warnf("error while dumping response: %s", err)
		return
	}
	c.logger.Debugf("Response dump: %s", string(dump))
}

func (c *Client) redact(s string) string {
	if c.config.Token == "" {
		return s
	}
	return strings.ReplaceAll(s, c.config.Token, "[REDACTED]")
}

func createReadRetryFunction(logger log.Logger) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		// Rate limits carry their wait in the body; the caller waits them out.
		if err == nil && resp != nil && resp.StatusCode == http.StatusTooManyRequests {
			return false, nil
		}
		retry, checkErr := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; requestErr=%+v", retry, checkErr, err)
		return retry, checkErr
	}
}

func noRetry(ctx context.Context, _ *http.Response, _ error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, nil
}
