package logging

import (
	"io"
	"log/slog"
	"os"
)

// Options configure Setup.
type Options struct {
	Level    slog.Level
	File     string // empty disables the file sink
	MaxBytes int64  // rotation threshold for the file sink
	Backups  int    // compressed rotations to keep
}

// Setup builds the JSON handler and installs it as the default slog
// logger. The returned closer owns the file sink; it is a no-op when
// records go to stdout only.
func Setup(opts Options) (io.Closer, error) {
	var w io.Writer = os.Stdout
	closer := io.Closer(nopCloser{})
	if opts.File != "" {
		rw, err := NewRotatingWriter(opts.File, opts.MaxBytes, opts.Backups)
		if err != nil {
			return nil, err
		}
		w = io.MultiWriter(os.Stdout, rw)
		closer = rw
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: opts.Level}))
	slog.SetDefault(logger)
	return closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
