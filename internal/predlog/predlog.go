// Package predlog is the append-only JSON-lines prediction log and the
// aggregate statistics derived from it.
package predlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// DefaultPath is where predictions are logged unless configured otherwise.
const DefaultPath = "logs/predictions.jsonl"

// maxLineBytes bounds a single log line during scans.
const maxLineBytes = 1 << 20

// Record is one successful prediction.
type Record struct {
	Timestamp       string  `json:"timestamp"`
	Prediction      int     `json:"prediction"`
	Label           string  `json:"prediction_label,omitempty"`
	Confidence      float64 `json:"confidence"`
	InferenceTimeMs float64 `json:"inference_time_ms"`
}

// NewRecord stamps a record with the current UTC time.
func NewRecord(prediction int, label string, confidence, inferenceMs float64) Record {
	return Record{
		Timestamp:       time.Now().UTC().Format(time.RFC3339Nano),
		Prediction:      prediction,
		Label:           label,
		Confidence:      confidence,
		InferenceTimeMs: inferenceMs,
	}
}

// Logger appends records to a file. Appends are serialised and each line is
// written with a single Write call, so concurrent appends never interleave.
type Logger struct {
	mu   sync.Mutex
	path string
}

// NewLogger returns a Logger for path. The file and its directory are created lazily.
func NewLogger(path string) *Logger {
	if path == "" {
		path = DefaultPath
	}
	return &Logger{path: path}
}

// Path returns the log file location.
func (l *Logger) Path() string {
	return l.path
}

// Append writes rec as one JSON line.
func (l *Logger) Append(rec Record) error {
	line, err := sonic.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open prediction log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("write prediction log: %w", err)
	}
	return f.Close()
}

// Read returns every well-formed record in the log.
func (l *Logger) Read() ([]Record, error) {
	return ReadRecords(l.path)
}

// Stats aggregates the log.
func (l *Logger) Stats() (Stats, error) {
	return ComputeStats(l.path)
}

// Stats is derived from the log on every call; nothing is stored.
type Stats struct {
	Total         int            `json:"total"`
	AvgConfidence float64        `json:"avg_confidence"`
	AvgLatencyMs  float64        `json:"avg_latency_ms"`
	P50LatencyMs  float64        `json:"p50_latency_ms"`
	P95LatencyMs  float64        `json:"p95_latency_ms"`
	P99LatencyMs  float64        `json:"p99_latency_ms"`
	Distribution  map[string]int `json:"distribution"`
}

// ZeroStats is the result for an absent or empty log.
func ZeroStats() Stats {
	return Stats{Distribution: map[string]int{}}
}

// ReadRecords scans path and returns its well-formed records. A missing file
// yields no records and no error. Malformed lines are skipped.
func ReadRecords(path string) ([]Record, error) {
	var out []Record
	err := scan(path, func(r Record) { out = append(out, r) })
	return out, err
}

// ComputeStats scans path and aggregates it. A missing or empty file yields
// ZeroStats and no error.
func ComputeStats(path string) (Stats, error) {
	st := ZeroStats()
	var confSum, latSum float64
	var latencies []float64

	err := scan(path, func(r Record) {
		st.Total++
		confSum += r.Confidence
		latSum += r.InferenceTimeMs
		latencies = append(latencies, r.InferenceTimeMs)
		key := r.Label
		if key == "" {
			key = strconv.Itoa(r.Prediction)
		}
		st.Distribution[key]++
	})
	if err != nil {
		return ZeroStats(), err
	}
	if st.Total == 0 {
		return st, nil
	}

	n := float64(st.Total)
	st.AvgConfidence = confSum / n
	st.AvgLatencyMs = latSum / n
	sort.Float64s(latencies)
	st.P50LatencyMs = percentile(latencies, 50)
	st.P95LatencyMs = percentile(latencies, 95)
	st.P99LatencyMs = percentile(latencies, 99)
	return st, nil
}

// line is the lenient decode target; pointer fields detect missing keys.
type line struct {
	Timestamp       string   `json:"timestamp"`
	Prediction      *int     `json:"prediction"`
	Label           string   `json:"prediction_label"`
	Confidence      *float64 `json:"confidence"`
	InferenceTimeMs *float64 `json:"inference_time_ms"`
}

func scan(path string, fn func(Record)) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open prediction log: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		raw, err := readLine(r)
		if len(raw) > 0 {
			var ln line
			if sonic.Unmarshal(raw, &ln) == nil && ln.Prediction != nil && ln.Confidence != nil && ln.InferenceTimeMs != nil {
				fn(Record{
					Timestamp:       ln.Timestamp,
					Prediction:      *ln.Prediction,
					Label:           ln.Label,
					Confidence:      *ln.Confidence,
					InferenceTimeMs: *ln.InferenceTimeMs,
				})
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read prediction log: %w", err)
		}
	}
}

// readLine returns the next line without its terminator. Lines longer than
// maxLineBytes are consumed and returned empty so the scan can continue.
func readLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	oversized := false
	for {
		chunk, isPrefix, err := r.ReadLine()
		if !oversized {
			buf = append(buf, chunk...)
			if len(buf) > maxLineBytes {
				buf, oversized = nil, true
			}
		}
		if err != nil || !isPrefix {
			return buf, err
		}
	}
}

// percentile uses linear interpolation between closest ranks on sorted data.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
