package upload

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/shipper/shippy/checksum"
	"github.com/shipper/shippy/network"
	"github.com/shipper/shippy/ratelimit"
)

// DigestFunc computes the hex digest of a file. ok is false if the algorithm is unsupported.
type DigestFunc func(path string, algorithm checksum.Algorithm) (digest string, ok bool, err error)

// Session uploads one target. A Session is single use: Run may be called once.
type Session struct {
	target   Target
	api      API
	limiter  Waiter
	observer Observer
	config   Config
	logger   log.Logger
	digest   DigestFunc

	phase State
	state SessionState
	stats Stats
}

// NewSession creates a Session. observer may be nil.
func NewSession(target Target, api API, limiter Waiter, observer Observer, config Config, logger log.Logger) *Session {
	if observer == nil {
		observer = NopObserver{}
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}

	return &Session{
		target:   target,
		api:      api,
		limiter:  limiter,
		observer: observer,
		config:   config,
		logger:   logger,
		digest:   checksum.Digest,
		phase:    StateDiscovering,
	}
}

// WithDigestFunc replaces the digest computation. Used by tests.
func (s *Session) WithDigestFunc(fn DigestFunc) *Session {
	s.digest = fn
	return s
}

// State returns the current phase.
func (s *Session) State() State {
	return s.phase
}

// Progress returns the session's remote state as known to the client.
func (s *Session) Progress() SessionState {
	return s.state
}

// Stats returns the chunk statistics of this session.
func (s *Session) Stats() *Stats {
	return &s.stats
}

// Run drives the session from Discovering to Completed or Failed. Errors are always *Error.
func (s *Session) Run(ctx context.Context) (network.ID, error) {
	if s.phase != StateDiscovering {
		return "", fmt.Errorf("upload session already %s", s.phase)
	}

	if err := s.discover(ctx); err != nil {
		return "", s.fail(err)
	}
	s.observer.Started(s.target, s.state)

	s.transition(StateTransferring)
	if err := s.transfer(ctx); err != nil {
		return "", s.fail(err)
	}

	s.transition(StateFinalizing)
	s.observer.Finalizing()
	buildID, err := s.finalize(ctx)
	if err != nil {
		return "", s.fail(err)
	}

	s.transition(StateCompleted)
	return buildID, nil
}

func (s *Session) transition(to State) {
	s.logger.Debugf("Upload of %s: %s -> %s", s.target.Filename, s.phase, to)
	s.phase = to
}

func (s *Session) fail(err *Error) error {
	err.Phase = s.phase
	s.transition(StateFailed)
	return err
}

func (s *Session) discover(ctx context.Context) *Error {
	resp, uploadErr := s.request(ctx, func() (*network.Response, error) {
		return s.api.ListChunkedUploads(ctx)
	})
	if uploadErr != nil {
		return uploadErr
	}

	switch resp.StatusClass() {
	case 2:
	case 4:
		return rejected(resp)
	case 5:
		return &Error{
			Kind:       KindTransientNetwork,
			Message:    msgInternalError,
			URL:        resp.URL,
			StatusCode: resp.StatusCode,
			Body:       resp.Content(),
		}
	default:
		return unhandled(resp)
	}

	var sessions []network.ChunkedUpload
	if err := resp.Decode(&sessions); err != nil {
		return unhandled(resp)
	}

	var match *network.ChunkedUpload
	for i := range sessions {
		if sessions[i].Filename == s.target.Filename {
			match = &sessions[i]
		}
	}
	if match == nil {
		s.logger.Debugf("No in-progress upload of %s on the server", s.target.Filename)
		return nil
	}

	if match.Offset < 0 || match.Offset > s.target.Size {
		return &Error{
			Kind:    KindValidationRejected,
			Message: fmt.Sprintf("the server's in-progress upload of %s is at offset %d, but the local file has only %d bytes", s.target.Filename, match.Offset, s.target.Size),
			URL:     resp.URL,
		}
	}

	s.logger.Infof("Resuming upload of %s started at %s (%s of %s already uploaded)",
		s.target.Filename, match.CreatedAt, units.HumanSize(float64(match.Offset)), units.HumanSize(float64(s.target.Size)))
	s.state = SessionState{
		SessionID:       match.ID,
		CommittedOffset: match.Offset,
		Resumed:         true,
	}
	return nil
}

// transfer owns the file handle; it is closed before finalizing.
func (s *Session) transfer(ctx context.Context) *Error {
	reader, err := openChunkReader(s.target.Path, s.target.Size, s.config.ChunkSize)
	if err != nil {
		return &Error{Kind: KindLocal, Err: err}
	}
	defer func() {
		if err := reader.Close(); err != nil {
			s.logger.Warnf("Failed to close %s: %s", s.target.Path, err)
		}
	}()

	remaining := s.target.Size - s.state.CommittedOffset
	totalChunks := int((remaining + s.config.ChunkSize - 1) / s.config.ChunkSize)

	for index := 0; ; index++ {
		data, err := reader.ReadAt(s.state.CommittedOffset)
		if err != nil {
			return &Error{Kind: KindLocal, Err: err}
		}
		if len(data) == 0 {
			return nil
		}

		s.logger.Debugf("Uploading chunk %d/%d [finished=%d] [avg=%v]",
			index+1, totalChunks, s.stats.FinishedCount(), s.stats.Average().Round(time.Millisecond))

		if err := s.sendChunk(ctx, data); err != nil {
			return err
		}
	}
}

func (s *Session) sendChunk(ctx context.Context, data []byte) *Error {
	chunk := network.ChunkRequest{
		SessionID:   s.state.SessionID,
		Filename:    s.target.Filename,
		ContentType: s.target.ContentType,
		Offset:      s.state.CommittedOffset,
		Total:       s.target.Size,
		Data:        data,
	}

	start := time.Now()
	resp, uploadErr := s.request(ctx, func() (*network.Response, error) {
		return s.api.PutChunk(ctx, chunk)
	})
	if uploadErr != nil {
		return uploadErr
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusClass() == 3:
		return redirected(resp)
	case resp.StatusClass() == 4:
		return rejected(resp)
	default:
		return &Error{
			Kind:       KindTransientNetwork,
			Message:    msgUnknownUploadError,
			URL:        resp.URL,
			StatusCode: resp.StatusCode,
			Body:       resp.Content(),
		}
	}

	var body struct {
		ID     network.ID `json:"id"`
		Offset *int64     `json:"offset"`
	}
	if err := resp.Decode(&body); err != nil || body.ID == "" {
		return unhandled(resp)
	}

	size := int64(len(data))
	s.state.SessionID = body.ID
	s.state.CommittedOffset += size
	s.stats.Update(size, time.Since(start))

	if body.Offset != nil && *body.Offset != s.state.CommittedOffset {
		s.logger.Debugf("Server reported offset %d after chunk, expected %d", *body.Offset, s.state.CommittedOffset)
	}

	s.observer.Progress(s.state.CommittedOffset, s.target.Size)
	return nil
}

func (s *Session) finalize(ctx context.Context) (network.ID, *Error) {
	digest, ok, err := s.digest(s.target.Path, s.target.Algorithm)
	if err != nil {
		return "", &Error{Kind: KindLocal, Err: err}
	}
	if !ok {
		return "", &Error{
			Kind:    KindUnsupportedChecksum,
			Message: fmt.Sprintf("the server requires %q checksums, which shippy does not support", s.target.Algorithm),
		}
	}
	s.logger.Debugf("%s digest of %s: %s", s.target.Algorithm, s.target.Filename, digest)

	resp, uploadErr := s.request(ctx, func() (*network.Response, error) {
		return s.api.FinalizeUpload(ctx, s.state.SessionID, string(s.target.Algorithm), digest)
	})
	if uploadErr != nil {
		return "", uploadErr
	}

	switch resp.StatusClass() {
	case 2:
		if resp.StatusCode != http.StatusOK {
			return "", unhandled(resp)
		}
		var body struct {
			BuildID network.ID `json:"build_id"`
		}
		if err := resp.Decode(&body); err != nil || body.BuildID == "" {
			return "", &Error{
				Kind:       KindServerFault,
				Message:    msgUnknownResponse,
				URL:        resp.URL,
				StatusCode: resp.StatusCode,
				Body:       resp.Content(),
				Err:        err,
			}
		}
		return body.BuildID, nil
	case 3:
		return "", redirected(resp)
	case 4:
		return "", rejected(resp)
	case 5:
		return "", &Error{
			Kind:       KindServerFault,
			Message:    msgInternalError,
			URL:        resp.URL,
			StatusCode: resp.StatusCode,
			Body:       resp.Content(),
		}
	default:
		return "", unhandled(resp)
	}
}

// request sends a request, waiting out and resending on every 429.
func (s *Session) request(ctx context.Context, send func() (*network.Response, error)) (*network.Response, *Error) {
	for {
		resp, err := send()
		if err != nil {
			return nil, requestError(ctx, err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}

		seconds, err := retryAfter(resp)
		if err != nil {
			return nil, unhandled(resp)
		}

		s.stats.RateLimited()
		if err := s.limiter.Wait(ctx, seconds, s.observer); err != nil {
			return nil, &Error{Kind: KindCanceled, Message: "upload canceled while rate limited", Err: err}
		}
	}
}

func retryAfter(resp *network.Response) (int, error) {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := resp.Decode(&body); err == nil && body.Detail != "" {
		if seconds, err := ratelimit.ParseWait(body.Detail); err == nil {
			return seconds, nil
		}
	}

	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
			return seconds, nil
		}
	}

	return 0, errors.New("rate limited without a wait duration")
}

func requestError(ctx context.Context, err error) *Error {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCanceled, Message: "upload canceled", Err: err}
	}

	var transportErr *network.TransportError
	if errors.As(err, &transportErr) {
		return &Error{Kind: KindTransientNetwork, Message: msgUnknownUploadError, URL: transportErr.URL, Err: err}
	}
	return &Error{Kind: KindLocal, Err: err}
}

func rejected(resp *network.Response) *Error {
	message, ok := resp.Message()
	if !ok {
		message = msgUnknownResponse
	}
	return &Error{
		Kind:       KindValidationRejected,
		Message:    message,
		URL:        resp.URL,
		StatusCode: resp.StatusCode,
		Body:       resp.Content(),
	}
}

// redirected reports a write the server answered with a redirect, usually an http URL for an
// https server. Rerunning with the same URL would hit the same redirect.
func redirected(resp *network.Response) *Error {
	message := "the server redirected the upload; check the scheme of the server URL"
	if location := resp.Header.Get("Location"); location != "" {
		message = fmt.Sprintf("the server redirected the upload to %s; check the scheme of the server URL", location)
	}
	return &Error{
		Kind:       KindValidationRejected,
		Message:    message,
		URL:        resp.URL,
		StatusCode: resp.StatusCode,
		Body:       resp.Content(),
	}
}

func unhandled(resp *network.Response) *Error {
	return &Error{
		Kind:       KindUnhandledResponse,
		URL:        resp.URL,
		StatusCode: resp.StatusCode,
		Body:       resp.Content(),
		Err:        network.NewUnhandledResponseError(resp),
	}
}
