package metrics

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Recorder tracks one run's counters. The pipeline is single-threaded,
// so fields are plain integers with no locking.
type Recorder struct {
	source string
	start  time.Time
	now    func() time.Time // injectable for tests

	chunksWritten   int64
	rowsWritten     int64
	bytesWritten    int64
	uploadAttempts  int64
	uploadRetries   int64
	authRefreshes   int64
	chunksDelivered int64
	bytesDelivered  int64
	chunksFailed    int64
}

// NewRecorder starts a Recorder for one run. source becomes the value
// of the "source" label on every metric, so runs over different files
// stay distinguishable.
func NewRecorder(source string) *Recorder {
	return &Recorder{source: source, start: time.Now(), now: time.Now}
}

// ChunkWritten records one sealed chunk of rows data rows and size
// bytes on disk.
func (r *Recorder) ChunkWritten(rows int, size int64) {
	r.chunksWritten++
	r.rowsWritten += int64(rows)
	r.bytesWritten += size
}

// UploadAttempt records one upload call, first try or retry alike.
func (r *Recorder) UploadAttempt() { r.uploadAttempts++ }

// UploadRetry records an upload attempt beyond a chunk's first.
func (r *Recorder) UploadRetry() { r.uploadRetries++ }

// AuthRefresh records a session token replacement forced by a 401.
func (r *Recorder) AuthRefresh() { r.authRefreshes++ }

// ChunkDelivered records a chunk accepted by the gateway and relocated.
func (r *Recorder) ChunkDelivered(size int64) {
	r.chunksDelivered++
	r.bytesDelivered += size
}

// ChunkFailed records a chunk abandoned after the retry budget.
func (r *Recorder) ChunkFailed() { r.chunksFailed++ }

// Render writes every metric family to w in text exposition format.
func (r *Recorder) Render(w io.Writer) error {
	now := r.now()
	families := []*dto.MetricFamily{
		r.counter("chunkship_chunks_written_total",
			"Chunk files materialized from the source.", float64(r.chunksWritten)),
		r.counter("chunkship_rows_written_total",
			"Data rows written across all chunks, headers excluded.", float64(r.rowsWritten)),
		r.counter("chunkship_chunk_bytes_written_total",
			"Bytes of chunk files materialized.", float64(r.bytesWritten)),
		r.counter("chunkship_upload_attempts_total",
			"Upload calls issued, retries included.", float64(r.uploadAttempts)),
		r.counter("chunkship_upload_retries_total",
			"Upload attempts beyond each chunk's first.", float64(r.uploadRetries)),
		r.counter("chunkship_auth_refreshes_total",
			"Session token refreshes triggered by expired-token responses.", float64(r.authRefreshes)),
		r.counter("chunkship_chunks_delivered_total",
			"Chunks accepted by the gateway and moved to the delivered area.", float64(r.chunksDelivered)),
		r.counter("chunkship_chunk_bytes_delivered_total",
			"Bytes of chunk files delivered.", float64(r.bytesDelivered)),
		r.counter("chunkship_chunks_failed_total",
			"Chunks abandoned after exhausting the retry budget.", float64(r.chunksFailed)),
		r.gauge("chunkship_run_duration_seconds",
			"Wall-clock duration of the run.", now.Sub(r.start).Seconds()),
		r.gauge("chunkship_last_run_completion_timestamp_seconds",
			"Unix time the run finished.", float64(now.Unix())),
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("metrics: encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteFile atomically replaces path with the current counters, going
// through a temp file in the same directory so a scraping collector
// never sees a partial exposition.
func (r *Recorder) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := r.Render(&buf); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("metrics: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("metrics: replace %s: %w", path, err)
	}
	return nil
}

func (r *Recorder) counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{
			Label:   r.labels(),
			Counter: &dto.Counter{Value: proto.Float64(v)},
		}},
	}
}

func (r *Recorder) gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{
			Label: r.labels(),
			Gauge: &dto.Gauge{Value: proto.Float64(v)},
		}},
	}
}

func (r *Recorder) labels() []*dto.LabelPair {
	return []*dto.LabelPair{{
		Name:  proto.String("source"),
		Value: proto.String(r.source),
	}}
}
