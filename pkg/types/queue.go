package types

// QueueStatus is the lifecycle state of one queued outbound message.
type QueueStatus string

const (
	QueuePending   QueueStatus = "pending"
	QueueSent      QueueStatus = "sent"
	QueueFailed    QueueStatus = "failed"
	QueueCancelled QueueStatus = "cancelled"
)

// DefaultMaxPending is the default cap on pending items per session queue.
const DefaultMaxPending = 100

// QueueItem is one outbound message belonging to a session's durable
// FIFO. The in-memory view is rebuilt by replaying enqueue/status log
// records in file order.
type QueueItem struct {
	QueueID       string         `json:"queueID"`
	SessionID     string         `json:"sessionID"`
	Content       string         `json:"content"`
	ResetSession  bool           `json:"resetSession"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Status        QueueStatus    `json:"status"`
	Position      int            `json:"position"`
	CreatedAt     float64        `json:"createdAt"`
	SentAt        *float64       `json:"sentAt,omitempty"`
	Error         *string        `json:"error,omitempty"`
}

// QueueLogRecord is the append-only JSONL shape for queue.jsonl, per the
// on-disk log format: either an "enqueue" or a "status" record.
type QueueLogRecord struct {
	RecordType string `json:"type"` // "enqueue" | "status"

	QueueID      string         `json:"queue_id"`
	Content      string         `json:"content,omitempty"`
	ResetSession bool           `json:"reset_session,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Position     *int           `json:"position,omitempty"`
	CreatedAt    float64        `json:"created_at,omitempty"`

	Status string   `json:"status,omitempty"`
	SentAt *float64 `json:"sent_at,omitempty"`
	Error  *string  `json:"error,omitempty"`
}
