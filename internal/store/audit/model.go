package audit

import (
	"time"

	"gorm.io/datatypes"
)

// Operation maps to the 'operations' table: one row per dispatched request.
type Operation struct {
	ID           string         `gorm:"column:id;primaryKey;type:TEXT" json:"id"`
	TraceID      string         `gorm:"column:trace_id;index" json:"trace_id"`
	Action       string         `gorm:"column:action;index" json:"action"`
	Ticket       string         `gorm:"column:ticket;index" json:"ticket,omitempty"`
	PositionID   string         `gorm:"column:position_id" json:"position_id,omitempty"`
	Status       string         `gorm:"column:status" json:"status"`
	ErrorKind    string         `gorm:"column:error_kind" json:"error_kind,omitempty"`
	ErrorMessage string         `gorm:"column:error_message" json:"error_message,omitempty"`
	Payload      datatypes.JSON `gorm:"column:payload;type:TEXT" json:"payload,omitempty"`
	DurationMS   int64          `gorm:"column:duration_ms" json:"duration_ms"`
	CreatedAt    time.Time      `gorm:"column:created_at;index" json:"created_at"`
}

func (Operation) TableName() string { return "operations" }
