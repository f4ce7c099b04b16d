package dispatch

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	// ErrIncompatibleBatch means a send job mixes document classes
	// from different batch groups.
	ErrIncompatibleBatch = errors.New("incompatible_batch")
	ErrInvalidConfig     = errors.New("invalid dispatch configuration")
)

// JobKind selects the handler a queued job runs through.
type JobKind string

const (
	// JobPassive delays freshly assembled documents so a same-day
	// correction can supersede them before anything leaves.
	JobPassive JobKind = "passive"
	JobSend    JobKind = "send"
	JobPoll    JobKind = "poll"
	JobReceipt JobKind = "receipt"
)

// SendJob is one unit of queued dispatch work.
type SendJob struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	CompanyID snowflake.ID `gorm:"column:company_id;not null;index"`
	Kind      JobKind      `gorm:"type:text;not null;index:idx_send_jobs_due,priority:1"`
	// DocumentIDs is the JSON-encoded batch this job covers.
	DocumentIDs datatypes.JSON `gorm:"column:document_ids;type:jsonb;not null"`
	BatchGroup  string         `gorm:"column:batch_group;type:text;not null"`

	ScheduledAt time.Time `gorm:"column:scheduled_at;not null;index:idx_send_jobs_due,priority:2"`
	Active      bool      `gorm:"not null;default:true;index:idx_send_jobs_due,priority:3"`

	TrackingID      string `gorm:"column:tracking_id;type:text"`
	AttentionNumber string `gorm:"column:attention_number;type:text"`

	Attempts       int        `gorm:"not null;default:0"`
	FirstAttemptAt *time.Time `gorm:"column:first_attempt_at"`
	LastError      string     `gorm:"column:last_error;type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (SendJob) TableName() string { return "send_jobs" }

func (j *SendJob) Documents() ([]snowflake.ID, error) {
	var ids []snowflake.ID
	if err := json.Unmarshal(j.DocumentIDs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (j *SendJob) SetDocuments(ids []snowflake.ID) error {
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	j.DocumentIDs = raw
	return nil
}

// DispatchEnvelope records one submitted batch. Sequence numbers inside
// the envelope are batch-local and unrelated to folios.
type DispatchEnvelope struct {
	ID            snowflake.ID `gorm:"primaryKey"`
	CompanyID     snowflake.ID `gorm:"column:company_id;not null;index"`
	BatchGroup    string       `gorm:"column:batch_group;type:text;not null"`
	TrackingID    string       `gorm:"column:tracking_id;type:text"`
	DocumentCount int          `gorm:"column:document_count;not null"`
	Payload       []byte       `gorm:"type:bytes;not null"`
	SubmittedAt   time.Time    `gorm:"column:submitted_at;not null"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (DispatchEnvelope) TableName() string { return "dispatch_envelopes" }
