// Package upload drives a resumable chunked upload of one build file against a shipper server.
package upload

import (
	"context"
	"time"

	"github.com/shipper/shippy/checksum"
	"github.com/shipper/shippy/network"
	"github.com/shipper/shippy/ratelimit"
)

// State is the phase of an upload session.
type State int

const (
	StateDiscovering State = iota
	StateTransferring
	StateFinalizing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDiscovering:
		return "discovering"
	case StateTransferring:
		return "transferring"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Target is the local build file being uploaded. It does not change during a session.
type Target struct {
	Path string
	// Filename is the name the server sees and matches in-progress sessions against.
	Filename string
	Size     int64
	// Algorithm is the digest algorithm exactly as the server declared it.
	Algorithm   checksum.Algorithm
	ContentType string
}

// SessionState is the mutable progress of one session. The server's offset is authoritative.
type SessionState struct {
	SessionID       network.ID
	CommittedOffset int64
	Resumed         bool
}

// Result describes a completed upload.
type Result struct {
	BuildID  network.ID
	Filename string
	// Bytes is the number of bytes sent by this run. A resumed upload sends fewer than the file size.
	Bytes          int64
	Size           int64
	Chunks         int
	RateLimitWaits int
	Resumed        bool
	Disabled       bool
	Duration       time.Duration
}

// API is the subset of the shipper API an upload needs. *network.Client implements it.
type API interface {
	SystemInfo(ctx context.Context) (network.SystemInfo, error)
	ListChunkedUploads(ctx context.Context) (*network.Response, error)
	PutChunk(ctx context.Context, chunk network.ChunkRequest) (*network.Response, error)
	FinalizeUpload(ctx context.Context, id network.ID, algorithm, digest string) (*network.Response, error)
	DisableBuild(ctx context.Context, buildID network.ID) error
}

// Waiter waits out a rate limit. *ratelimit.Limiter implements it.
type Waiter interface {
	Wait(ctx context.Context, seconds int, observer ratelimit.Observer) error
}

// Observer receives progress notifications. Every method is called from the goroutine running the session.
type Observer interface {
	// Started is called once the remote session state is known.
	Started(target Target, state SessionState)
	// Progress is called after every accepted chunk.
	Progress(committed, total int64)
	// Waiting reports the remaining seconds of a rate limit wait.
	Waiting(remaining int)
	// Finalizing is called before the digest is computed.
	Finalizing()
}

// NopObserver ignores every notification. Embed it to implement only some methods.
type NopObserver struct{}

func (NopObserver) Started(Target, SessionState) {}
func (NopObserver) Progress(int64, int64)       {}
func (NopObserver) Waiting(int)                 {}
func (NopObserver) Finalizing()                 {}
