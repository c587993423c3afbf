package upload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/gabriel-vasile/mimetype"
	"github.com/shipper/shippy/checksum"
	"github.com/shipper/shippy/network"
)

// Orchestrator runs one upload session per file.
type Orchestrator struct {
	api      API
	limiter  Waiter
	observer Observer
	config   Config
	logger   log.Logger
}

// NewOrchestrator creates an Orchestrator. observer may be nil.
func NewOrchestrator(api API, limiter Waiter, observer Observer, config Config, logger log.Logger) *Orchestrator {
	return &Orchestrator{
		api:      api,
		limiter:  limiter,
		observer: observer,
		config:   config,
		logger:   logger,
	}
}

// Upload uploads the file at path, resuming a previous attempt the server still knows about.
// A failure is always an *Error. Failures are returned, not logged.
func (o *Orchestrator) Upload(ctx context.Context, path string) (Result, error) {
	start := time.Now()

	if err := o.config.Validate(); err != nil {
		return Result{}, &Error{Kind: KindLocal, Err: err}
	}

	target, uploadErr := o.target(ctx, path)
	if uploadErr != nil {
		return Result{}, uploadErr
	}

	o.logger.Infof("Uploading %s (%s)", target.Filename, units.HumanSize(float64(target.Size)))

	session := NewSession(target, o.api, o.limiter, o.observer, o.config, o.logger)
	buildID, err := session.Run(ctx)
	if err != nil {
		return Result{}, err
	}

	state := session.Progress()
	stats := session.Stats()
	result := Result{
		BuildID:        buildID,
		Filename:       target.Filename,
		Bytes:          stats.Bytes(),
		Size:           target.Size,
		Chunks:         stats.FinishedCount(),
		RateLimitWaits: stats.RateLimitWaits(),
		Resumed:        state.Resumed,
		Duration:       time.Since(start),
	}
	o.logger.Donef("Uploaded %s as build %s in %s (%s/s)", target.Filename, buildID,
		result.Duration.Round(time.Millisecond), units.HumanSize(stats.Throughput()))

	if o.config.DisableAfterUpload {
		if err := o.api.DisableBuild(ctx, buildID); err != nil {
			o.logger.Warnf("Build %s was uploaded but could not be disabled: %s", buildID, err)
		} else {
			o.logger.Printf("Build %s has been disabled", buildID)
			result.Disabled = true
		}
	}

	return result, nil
}

func (o *Orchestrator) target(ctx context.Context, path string) (Target, *Error) {
	info, err := os.Stat(path)
	if err != nil {
		return Target{}, &Error{Kind: KindLocal, Err: fmt.Errorf("stat build: %w", err)}
	}
	if info.IsDir() {
		return Target{}, &Error{Kind: KindLocal, Err: fmt.Errorf("%s is a directory", path)}
	}

	algorithm := o.config.Algorithm
	if algorithm == "" {
		systemInfo, err := o.api.SystemInfo(ctx)
		if err != nil {
			return Target{}, systemInfoError(ctx, err)
		}
		algorithm = checksum.Algorithm(systemInfo.ShippyUploadChecksumType)
	}
	if !checksum.Supported(algorithm) {
		return Target{}, &Error{
			Kind:    KindUnsupportedChecksum,
			Message: fmt.Sprintf("the server requires %q checksums, which shippy does not support", algorithm),
		}
	}

	return Target{
		Path:        path,
		Filename:    filepath.Base(path),
		Size:        info.Size(),
		Algorithm:   algorithm,
		ContentType: o.contentType(path),
	}, nil
}

func (o *Orchestrator) contentType(path string) string {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		o.logger.Debugf("Failed to detect content type of %s: %s", path, err)
		return "application/octet-stream"
	}
	return mtype.String()
}

func systemInfoError(ctx context.Context, err error) *Error {
	if ctx.Err() != nil {
		return &Error{Kind: KindCanceled, Message: "upload canceled", Err: err}
	}

	var transportErr *network.TransportError
	if errors.As(err, &transportErr) {
		return &Error{Kind: KindTransientNetwork, URL: transportErr.URL, Err: err}
	}
	return &Error{Kind: KindServerFault, Err: err}
}
