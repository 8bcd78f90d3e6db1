package resilience

import (
	"time"

	"github.com/sells-group/taxbill-cli/internal/model"
)

// DLQEntry represents a failed work item that can be retried in a later
// run once its source recovers.
type DLQEntry struct {
	ID           string         `json:"id"`
	RunID        string         `json:"run_id"`
	Item         model.WorkItem `json:"item"`
	Error        string         `json:"error"`
	ErrorKind    string         `json:"error_kind"`
	Attempts     int            `json:"attempts"`
	RetryCount   int            `json:"retry_count"`
	MaxRetries   int            `json:"max_retries"`
	CreatedAt    time.Time      `json:"created_at"`
	LastFailedAt time.Time      `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	ErrorKind string `json:"error_kind,omitempty"`
	SourceKey string `json:"source_key,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry returns true if this entry hasn't exceeded its max retry count.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}
