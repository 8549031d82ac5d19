package paper

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/Calim38/sniper/internal/execution"
)

// JSONLRecorder appends records as JSON lines for later analysis.
type JSONLRecorder struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLRecorder creates/opens the target file and returns a recorder.
func NewJSONLRecorder(path string) (*JSONLRecorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLRecorder{
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

// Append writes v as a single line and syncs it to disk.
func (r *JSONLRecorder) Append(v any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return os.ErrClosed
	}
	if err := r.enc.Encode(v); err != nil {
		return err
	}
	return r.file.Sync()
}

// Record writes a single fill. Errors are dropped so execution never blocks on the log.
func (r *JSONLRecorder) Record(fill execution.Fill) {
	_ = r.Append(fill)
}

// Close flushes and closes the file handle.
func (r *JSONLRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
