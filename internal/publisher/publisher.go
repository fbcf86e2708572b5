// Package publisher turns a local file into a stable public URL: it asks the
// upload broker for a write grant, PUTs the bytes to object storage and
// returns the broker's public URL.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"atpark/internal/domain"
	"atpark/internal/metrics"
)

const maxBrokerResponse = 1 << 20

// File is a local image ready to publish. Open may be called more than once.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// Result is the canonical reference to an uploaded object.
type Result struct {
	URL string
	Key string
}

// ProgressFunc receives whole percentages, never decreasing, 0 through 100.
type ProgressFunc func(percent int)

// Publisher uploads images through the broker handshake.
type Publisher interface {
	Upload(ctx context.Context, file File, progress ProgressFunc) (Result, error)
	// GenerateThumbnail re-publishes the original until real resizing exists,
	// so callers must accept a thumbnail equal to the image.
	GenerateThumbnail(ctx context.Context, file File, progress ProgressFunc) (Result, error)
}

type Config struct {
	BrokerURL            string
	GrantTimeout         time.Duration
	UploadFloor          time.Duration
	UploadBytesPerSecond int64
	HTTPClient           *http.Client
	Logger               *logrus.Logger
	Metrics              *metrics.Publisher
}

type publisher struct {
	cfg Config
}

func New(cfg Config) Publisher {
	if cfg.GrantTimeout <= 0 {
		cfg.GrantTimeout = 15 * time.Second
	}
	if cfg.UploadFloor <= 0 {
		cfg.UploadFloor = 30 * time.Second
	}
	if cfg.UploadBytesPerSecond <= 0 {
		cfg.UploadBytesPerSecond = 256 * 1024
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &publisher{cfg: cfg}
}

// grant is the broker's answer. UploadURL is single-use and is dropped as
// soon as the PUT finishes.
type grant struct {
	UploadURL string `json:"uploadUrl"`
	PublicURL string `json:"publicUrl"`
	Key       string `json:"key"`
}

type grantEnvelope struct {
	Success bool   `json:"success"`
	Data    *grant `json:"data"`
	Error   string `json:"error"`
}

func (p *publisher) Upload(ctx context.Context, file File, progress ProgressFunc) (Result, error) {
	if strings.TrimSpace(file.Name) == "" {
		return Result{}, domain.NewValidationError("File name is required")
	}
	if strings.TrimSpace(file.ContentType) == "" {
		return Result{}, domain.NewValidationError("File content type is required")
	}
	if file.Open == nil {
		return Result{}, domain.NewValidationError("File contents are required")
	}
	logger := p.cfg.Logger.WithFields(logrus.Fields{"file": file.Name, "size": file.Size})

	g, err := p.requestGrant(ctx, file.Name, file.ContentType)
	if err != nil {
		p.recordFailure(domain.HopBroker, err)
		logger.Warnf("upload grant failed: %v", err)
		return Result{}, err
	}
	logger = logger.WithField("key", g.Key)

	if err := p.put(ctx, g.UploadURL, file, progress); err != nil {
		p.recordFailure(domain.HopUpload, err)
		logger.Warnf("object upload failed: %v", err)
		return Result{}, err
	}

	logger.Info("image published")
	return Result{URL: g.PublicURL, Key: g.Key}, nil
}

func (p *publisher) GenerateThumbnail(ctx context.Context, file File, progress ProgressFunc) (Result, error) {
	return p.Upload(ctx, file, progress)
}

func (p *publisher) requestGrant(ctx context.Context, filename, contentType string) (grant, error) {
	start := time.Now()
	defer func() { p.cfg.Metrics.ObserveHop(string(domain.HopBroker), time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.GrantTimeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"filename": filename, "contentType": contentType})
	if err != nil {
		return grant{}, fmt.Errorf("encode grant request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BrokerURL, bytes.NewReader(payload))
	if err != nil {
		return grant{}, domain.NewValidationError(fmt.Sprintf("Invalid upload broker URL: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return grant{}, transportError(domain.HopBroker, err,
			"Request timed out. The upload broker may be unavailable.",
			"Network error: failed to connect to the upload broker. Check that the broker URL is correct and reachable.")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBrokerResponse))
	if err != nil {
		return grant{}, transportError(domain.HopBroker, err,
			"Request timed out while reading the upload broker response.",
			"Network error: the upload broker connection dropped mid-response.")
	}

	var env grantEnvelope
	parseErr := json.Unmarshal(body, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("Upload broker error: %s", resp.Status)
		if parseErr == nil && env.Error != "" {
			msg += ": " + env.Error
		}
		return grant{}, domain.NewProtocolError(domain.HopBroker, msg, nil)
	}
	if parseErr != nil {
		return grant{}, domain.NewProtocolError(domain.HopBroker, "Failed to parse response from the upload broker", parseErr)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "Failed to get upload URL"
		}
		return grant{}, domain.NewProtocolError(domain.HopBroker, msg, nil)
	}
	if env.Data == nil || env.Data.UploadURL == "" || env.Data.PublicURL == "" {
		return grant{}, domain.NewProtocolError(domain.HopBroker, "Upload broker returned an incomplete grant", nil)
	}
	return *env.Data, nil
}

func (p *publisher) put(ctx context.Context, uploadURL string, file File, progress ProgressFunc) error {
	start := time.Now()
	defer func() { p.cfg.Metrics.ObserveHop(string(domain.HopUpload), time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, p.uploadDeadline(file.Size))
	defer cancel()

	body, err := file.Open()
	if err != nil {
		return domain.NewValidationError(fmt.Sprintf("Could not read %s: %v", file.Name, err))
	}
	defer body.Close()

	reporter := newProgressReporter(file.Size, progress)
	defer reporter.close()
	reporter.start()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, io.TeeReader(body, reporter))
	if err != nil {
		return domain.NewProtocolError(domain.HopUpload, "Upload broker returned an invalid upload URL", err)
	}
	if file.Size > 0 {
		req.ContentLength = file.Size
	}
	// Storage does not check this against the grant; the publisher keeps them equal.
	req.Header.Set("Content-Type", file.ContentType)

	resp, err := p.cfg.HTTPClient.Do(req)
	if err != nil {
		return transportError(domain.HopUpload, err,
			"Upload timed out. Try again on a faster connection or with a smaller image.",
			"Network error: failed to upload the image to storage.")
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBrokerResponse))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.NewProtocolError(domain.HopUpload, fmt.Sprintf("Failed to upload image to storage: %s", resp.Status), nil)
	}

	p.cfg.Metrics.AddBytes(reporter.transferred())
	reporter.finish()
	return nil
}

// uploadDeadline scales with payload size but never drops below the floor.
func (p *publisher) uploadDeadline(size int64) time.Duration {
	scaled := time.Duration(size/p.cfg.UploadBytesPerSecond) * time.Second
	if scaled < p.cfg.UploadFloor {
		return p.cfg.UploadFloor
	}
	return scaled
}

func (p *publisher) recordFailure(hop domain.Hop, err error) {
	p.cfg.Metrics.RecordFailure(string(hop), string(domain.KindOf(err)))
}

func transportError(hop domain.Hop, err error, timeoutMsg, networkMsg string) error {
	if errors.Is(err, context.Canceled) {
		return domain.NewNetworkError(hop, false, "Request cancelled", err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return domain.NewNetworkError(hop, true, timeoutMsg, err)
	}
	return domain.NewNetworkError(hop, false, networkMsg, err)
}
