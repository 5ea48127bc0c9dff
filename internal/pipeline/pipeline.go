package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chunkship/chunkship/internal/chunk"
	"github.com/chunkship/chunkship/internal/config"
	"github.com/chunkship/chunkship/internal/metrics"
	"github.com/chunkship/chunkship/internal/retry"
	"github.com/chunkship/chunkship/internal/uploader"
)

// Disposition is one chunk's final fate within a run.
type Disposition struct {
	Chunk     chunk.Chunk
	Delivered bool
	Attempts  int
	Err       error // final failure for undelivered chunks
}

// Summary reports one run's outcome.
type Summary struct {
	Source       string
	RunDir       string
	Chunks       int
	Rows         int
	Delivered    int
	Failed       int
	Duration     time.Duration
	Dispositions []Disposition
}

// Pipeline wires the chunk writer, upload client, and retry policy
// for one configuration. A single Pipeline may process several source
// files in sequence, one run at a time.
type Pipeline struct {
	cfg    *config.Config
	client *uploader.Client
	policy retry.Policy
	now    func() time.Time
}

// New resolves credentials and builds the upload client. A credential
// sourcing problem surfaces here, before any network call.
func New(cfg *config.Config) (*Pipeline, error) {
	user, pass, err := cfg.Auth.Credentials()
	if err != nil {
		return nil, err
	}
	client := uploader.New(uploader.Options{
		BaseURL:            cfg.BaseURL,
		ConnectionUUID:     cfg.ConnectionUUID,
		ProfileUUID:        cfg.ProfileUUID,
		Username:           user,
		Password:           pass,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
	})
	return &Pipeline{
		cfg:    cfg,
		client: client,
		policy: retry.Policy{
			Attempts: cfg.Retry.Attempts,
			Base:     cfg.Retry.BaseWait,
			Cap:      cfg.Retry.MaxWait,
		},
		now: time.Now,
	}, nil
}

// Run chunks source and uploads every chunk in sequence order. The
// returned Summary lists each chunk's disposition. A non-nil error
// means the run itself broke off; chunks that merely exhausted their
// retry budget are counted in the Summary instead.
func (p *Pipeline) Run(ctx context.Context, source string) (*Summary, error) {
	start := p.now()
	rec := metrics.NewRecorder(filepath.Base(source))

	if err := p.client.Authenticate(ctx); err != nil {
		return nil, err
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open source: %w", err)
	}
	defer f.Close()

	w, err := chunk.NewWriter(source, p.cfg.MaxChunkBytes, start)
	if err != nil {
		return nil, err
	}
	slog.Info("pipeline: run started",
		"source", source,
		"run_dir", w.Dir(),
		"max_chunk_bytes", p.cfg.MaxChunkBytes,
	)

	sum := &Summary{Source: source, RunDir: w.Dir()}
	err = w.Split(f, p.cfg.HeaderLine, func(c chunk.Chunk) error {
		return p.handleChunk(ctx, w, c, rec, sum)
	})
	if err != nil {
		return nil, err
	}

	sum.Duration = p.now().Sub(start)
	slog.Info("pipeline: run complete",
		"source", source,
		"chunks", sum.Chunks,
		"delivered", sum.Delivered,
		"failed", sum.Failed,
		"duration", sum.Duration,
	)
	if p.cfg.MetricsFile != "" {
		if err := rec.WriteFile(p.cfg.MetricsFile); err != nil {
			slog.Warn("pipeline: metrics export failed",
				"file", p.cfg.MetricsFile, "err", err)
		}
	}
	return sum, nil
}

// handleChunk uploads one sealed chunk under the retry budget and
// relocates it on success. It returns an error only for cancellation
// or filesystem trouble; an exhausted retry budget is recorded and the
// run moves on to the next chunk.
func (p *Pipeline) handleChunk(ctx context.Context, w *chunk.Writer, c chunk.Chunk, rec *metrics.Recorder, sum *Summary) error {
	sum.Chunks++
	sum.Rows += c.Rows
	rec.ChunkWritten(c.Rows, c.Bytes)
	slog.Info("pipeline: chunk written", "chunk", c.Name(), "rows", c.Rows, "bytes", c.Bytes)

	attempts := 0
	err := retry.Do(ctx, p.policy, retryableUpload, func(ctx context.Context) error {
		attempts++
		rec.UploadAttempt()
		if attempts > 1 {
			rec.UploadRetry()
		}
		err := p.client.Upload(ctx, c.Path)
		if errors.Is(err, uploader.ErrAuthExpired) {
			rec.AuthRefresh()
		}
		if err != nil {
			slog.Warn("pipeline: upload attempt failed",
				"chunk", c.Name(), "attempt", attempts, "err", err)
		}
		return err
	})

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sum.Failed++
		rec.ChunkFailed()
		sum.Dispositions = append(sum.Dispositions, Disposition{Chunk: c, Attempts: attempts, Err: err})
		slog.Error("pipeline: chunk permanently failed",
			"chunk", c.Name(), "attempts", attempts, "err", err)
		return nil
	}

	dst, err := w.MarkDelivered(c)
	if err != nil {
		// The gateway already accepted this chunk. Losing the local
		// delivery record is worse than a failed upload, so stop the
		// run rather than continue with inconsistent bookkeeping.
		return err
	}
	sum.Delivered++
	rec.ChunkDelivered(c.Bytes)
	sum.Dispositions = append(sum.Dispositions, Disposition{Chunk: c, Delivered: true, Attempts: attempts})
	slog.Info("pipeline: chunk delivered", "chunk", c.Name(), "attempts", attempts, "path", dst)
	return nil
}

// retryableUpload selects the outcomes worth waiting on: gateway
// rejections, transport hiccups, and expired tokens (the client has
// already installed a fresh one). Anything else, such as an unreadable
// chunk file, fails the chunk without burning the backoff waits.
func retryableUpload(err error) bool {
	var ue *uploader.UploadError
	var ae *uploader.AuthError
	return errors.Is(err, uploader.ErrAuthExpired) || errors.As(err, &ue) || errors.As(err, &ae)
}
