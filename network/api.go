package network

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
)

const (
	loginPath           = "/maintainers/login/"
	tokenCheckPath      = "/maintainers/token_check/"
	systemInfoPath      = "/system/info"
	filenamePatternPath = "/maintainers/upload_filename_regex_pattern"
	chunkedUploadPath   = "/maintainers/chunked_upload/"
	disableBuildPath    = "/maintainers/build/enabled_status_modify/"
)

// Login errors, mirroring the error codes the server sends back.
var (
	ErrBlankCredentials   = errors.New("username or password must not be blank")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmptyToken         = errors.New("server returned an empty token")
	ErrInsecureURL        = errors.New("server uses HTTPS, but was supplied HTTP URL")
	ErrGatewayUnavailable = errors.New("the gateway server is currently unavailable")
	ErrServerUnavailable  = errors.New("the server is temporarily unavailable")
	ErrSystemInfo         = errors.New("failed to retrieve server version information")
	ErrDisableBuild       = errors.New("there was a problem disabling the build")
)

// SystemInfo is the response of the system info endpoint.
type SystemInfo struct {
	Version                  string `json:"version"`
	ShippyCompatVersion      string `json:"shippy_compat_version"`
	ShippyUploadChecksumType string `json:"shippy_upload_checksum_type"`
}

// ChunkedUpload is an in-progress upload session on the server.
type ChunkedUpload struct {
	ID        ID     `json:"id"`
	Filename  string `json:"filename"`
	Offset    int64  `json:"offset"`
	CreatedAt string `json:"created_at"`
}

// ChunkRequest describes one chunk PUT.
type ChunkRequest struct {
	// SessionID is empty for the first chunk of a new session.
	SessionID   ID
	Filename    string
	ContentType string
	Offset      int64
	Total       int64
	Data        []byte
}

// LoginResult is the outcome of a successful login. ServerURL differs from the
// client's URL when the server redirected an HTTP URL to HTTPS; callers should
// persist the corrected value.
type LoginResult struct {
	Token     string
	ServerURL string
}

// URLCorrected reports whether the server URL was upgraded during login.
func (r LoginResult) URLCorrected(original string) bool {
	return r.ServerURL != original
}

// ContentRange formats the Content-Range header value for a chunk of length bytes at offset.
func ContentRange(offset, length, total int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, total)
}

// ChunkPath returns the chunk PUT path for a session, or the session-creation path if id is empty.
func ChunkPath(id ID) string {
	if id == "" {
		return chunkedUploadPath
	}
	return fmt.Sprintf("%s%s/", chunkedUploadPath, url.PathEscape(id.String()))
}

// SystemInfo fetches server version information and the required checksum type.
func (c *Client) SystemInfo(ctx context.Context) (SystemInfo, error) {
	resp, err := c.Get(ctx, systemInfoPath)
	if err != nil {
		return SystemInfo{}, fmt.Errorf("%w: %s", ErrSystemInfo, err)
	}
	if resp.StatusCode != http.StatusOK {
		return SystemInfo{}, fmt.Errorf("%w: HTTP %d", ErrSystemInfo, resp.StatusCode)
	}

	var info SystemInfo
	if err := resp.Decode(&info); err != nil {
		return SystemInfo{}, fmt.Errorf("%w: %s", ErrSystemInfo, err)
	}
	return info, nil
}

// ListChunkedUploads requests the in-progress sessions of the authenticated maintainer.
// The caller interprets the response.
func (c *Client) ListChunkedUploads(ctx context.Context) (*Response, error) {
	return c.Get(ctx, chunkedUploadPath)
}

// PutChunk sends one chunk as multipart form data. The caller interprets the response.
func (c *Client) PutChunk(ctx context.Context, chunk ChunkRequest) (*Response, error) {
	body, contentType, err := chunkBody(chunk)
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"Content-Type":  contentType,
		"Content-Range": ContentRange(chunk.Offset, int64(len(chunk.Data)), chunk.Total),
	}
	return c.Put(ctx, ChunkPath(chunk.SessionID), body, headers)
}

// FinalizeUpload submits the whole-file digest for a session, keyed by the algorithm name.
// The caller interprets the response.
func (c *Client) FinalizeUpload(ctx context.Context, id ID, algorithm, digest string) (*Response, error) {
	form := url.Values{}
	form.Set(algorithm, digest)
	return c.postForm(ctx, ChunkPath(id), form)
}

// DisableBuild disables a build right after it was uploaded.
func (c *Client) DisableBuild(ctx context.Context, buildID ID) error {
	form := url.Values{}
	form.Set("build_id", buildID.String())
	form.Set("enable", "false")

	resp, err := c.postForm(ctx, disableBuildPath, form)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrDisableBuild, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: HTTP %d", ErrDisableBuild, resp.StatusCode)
	}
	return nil
}

// TokenCheck returns the username the token belongs to. valid is false if the server rejected the token.
func (c *Client) TokenCheck(ctx context.Context) (username string, valid bool, err error) {
	resp, err := c.Get(ctx, tokenCheckPath)
	if err != nil {
		return "", false, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", false, nil
	}

	var body struct {
		Username string `json:"username"`
	}
	if err := resp.Decode(&body); err != nil {
		return "", true, err
	}
	return body.Username, true, nil
}

// FilenamePattern returns the server's regex for acceptable upload filenames, or "" if the
// server does not publish one.
func (c *Client) FilenamePattern(ctx context.Context) (string, error) {
	resp, err := c.Get(ctx, filenamePatternPath)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", nil
	}

	var body struct {
		Pattern string `json:"pattern"`
	}
	if err := resp.Decode(&body); err != nil {
		return "", err
	}
	return body.Pattern, nil
}

// Login exchanges credentials for a token. When an HTTP URL is redirected to HTTPS the
// login is retried once against the HTTPS server and the corrected URL is returned.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	result, location, err := c.login(ctx, username, password)
	if err == nil || !errors.Is(err, ErrInsecureURL) || location == "" {
		return result, err
	}

	corrected := serverURLFromLocation(location)
	if corrected == "" {
		return LoginResult{}, err
	}

	c.logger.Warnf("Server redirected to %s, retrying login over HTTPS", corrected)
	result, _, err = c.WithServerURL(corrected).login(ctx, username, password)
	return result, err
}

func (c *Client) login(ctx context.Context, username, password string) (LoginResult, string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	resp, err := c.postForm(ctx, loginPath, form)
	if err != nil {
		return LoginResult{}, "", err
	}

	var body struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	_ = resp.Decode(&body)

	switch {
	case resp.StatusCode == http.StatusOK:
		if body.Token == "" {
			return LoginResult{}, "", ErrEmptyToken
		}
		return LoginResult{Token: body.Token, ServerURL: c.config.ServerURL}, "", nil
	case isRedirect(resp.StatusCode) && !c.IsURLSecure():
		return LoginResult{}, resp.Header.Get("Location"), ErrInsecureURL
	case resp.StatusCode == http.StatusBadRequest && body.Error == "blank_username_or_password":
		return LoginResult{}, "", ErrBlankCredentials
	case resp.StatusCode == http.StatusNotFound && body.Error == "invalid_credential":
		return LoginResult{}, "", ErrInvalidCredentials
	case resp.StatusCode == http.StatusBadGateway:
		return LoginResult{}, "", ErrGatewayUnavailable
	case resp.StatusCode == http.StatusServiceUnavailable:
		return LoginResult{}, "", ErrServerUnavailable
	default:
		return LoginResult{}, "", NewUnhandledResponseError(resp)
	}
}

func (c *Client) postForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	headers := map[string]string{"Content-Type": "application/x-www-form-urlencoded"}
	return c.Post(ctx, path, []byte(form.Encode()), headers)
}

func chunkBody(chunk ChunkRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("filename", chunk.Filename); err != nil {
		return nil, "", fmt.Errorf("write filename field: %w", err)
	}

	contentType := chunk.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(chunk.Filename)))
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(chunk.Data); err != nil {
		return nil, "", fmt.Errorf("write file part: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// serverURLFromLocation derives the HTTPS server URL from the Location of a redirected login.
func serverURLFromLocation(location string) string {
	u, err := url.Parse(location)
	if err != nil || !strings.EqualFold(u.Scheme, "https") || u.Host == "" {
		return ""
	}

	path := strings.TrimSuffix(u.Path, APIPrefix+loginPath)
	if path == u.Path {
		path = ""
	}
	return strings.TrimRight(fmt.Sprintf("https://%s%s", u.Host, path), "/")
}
