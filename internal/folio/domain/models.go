package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CAFStatus is the lifecycle state of an authorization file.
type CAFStatus string

const (
	CAFStatusDraft CAFStatus = "draft"
	CAFStatusInUse CAFStatus = "in_use"
	CAFStatusSpent CAFStatus = "spent"
)

// CAF is one government-issued folio authorization range. The raw
// payload carries the cryptographic material the signer needs.
type CAF struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	SequenceID        snowflake.ID `gorm:"column:sequence_id;not null;index"`
	DocumentClassCode int          `gorm:"column:document_class_code;not null"`
	StartNumber       int64        `gorm:"column:start_number;not null"`
	FinalNumber       int64        `gorm:"column:final_number;not null"`
	IssuedDate        time.Time    `gorm:"column:issued_date;not null"`
	ExpirationDate    *time.Time   `gorm:"column:expiration_date"`
	RawPayload        []byte       `gorm:"column:raw_payload;type:bytes;not null"`
	Status            CAFStatus    `gorm:"type:text;not null;default:'draft'"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (CAF) TableName() string { return "folio_cafs" }

// Covers reports whether the folio falls inside the authorized range.
func (c CAF) Covers(folio int64) bool {
	return folio >= c.StartNumber && folio <= c.FinalNumber
}

// ExpiredAt reports whether the CAF validity window has passed.
func (c CAF) ExpiredAt(at time.Time) bool {
	return c.ExpirationDate != nil && at.After(*c.ExpirationDate)
}

// Remaining counts usable folios in this CAF at or beyond the given folio.
func (c CAF) Remaining(folio int64) int64 {
	switch {
	case folio > c.FinalNumber:
		return 0
	case folio >= c.StartNumber:
		return c.FinalNumber - folio + 1
	default:
		return c.FinalNumber - c.StartNumber + 1
	}
}

// Sequence is the monotonic counter bound to one document class.
type Sequence struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	CompanyID         snowflake.ID `gorm:"column:company_id;not null;uniqueIndex:idx_sequences_company_class,priority:1"`
	CompanyRUT        string       `gorm:"column:company_rut;type:text;not null"`
	DocumentClassCode int          `gorm:"column:document_class_code;not null;uniqueIndex:idx_sequences_company_class,priority:2"`
	NextNumber        int64        `gorm:"column:next_number;not null;default:1"`
	// MinimumLevel is the low-watermark of remaining folios below
	// which replenishment triggers.
	MinimumLevel      int64 `gorm:"column:minimum_level;not null;default:5"`
	AutoReplenish     bool  `gorm:"column:auto_replenish;not null;default:false"`
	ReplenishQuantity int64 `gorm:"column:replenish_quantity;not null;default:0"`

	CAFs []CAF `gorm:"foreignKey:SequenceID"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (Sequence) TableName() string { return "folio_sequences" }
