package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/andinasoft/dte/internal/tax/engine"
)

// State is the dispatch lifecycle of an assembled document.
type State string

const (
	StateNotSent           State = "not_sent"
	StateQueued            State = "queued"
	StateSent              State = "sent"
	StateAccepted          State = "accepted"
	StateRejected          State = "rejected"
	StatePartiallyAccepted State = "partially_accepted"
	StateCancelled         State = "cancelled"
)

// Terminal reports whether the authority will not move the document
// further.
func (s State) Terminal() bool {
	switch s {
	case StateAccepted, StateRejected, StatePartiallyAccepted, StateCancelled:
		return true
	}
	return false
}

// Party identifies one side of a transaction.
type Party struct {
	TaxID        string
	Name         string
	Activity     string
	ActivityCode int
	Address      string
	Commune      string
	City         string
}

// Line is one transaction line before tax computation.
type Line struct {
	Sequence        int
	ProductCode     string
	Name            string
	Description     string
	Quantity        decimal.Decimal
	Unit            string
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	TaxIDs          []snowflake.ID
	Exempt          bool
	// NoProduct marks informational lines that carry no amount.
	NoProduct bool
}

// ReferenceReason follows the authority's correction codes.
type ReferenceReason int

const (
	ReasonVoid      ReferenceReason = 1
	ReasonTextFix   ReferenceReason = 2
	ReasonAmountFix ReferenceReason = 3
)

// Reference points a document at another one it corrects or annotates.
type Reference struct {
	DocumentClassCode int
	Folio             int64
	Date              time.Time
	Reason            ReferenceReason
	Description       string
}

type AdjustmentKind string

const (
	AdjustmentDiscount  AdjustmentKind = "discount"
	AdjustmentSurcharge AdjustmentKind = "surcharge"
)

type AdjustmentValueType string

const (
	AdjustmentPercent AdjustmentValueType = "percent"
	AdjustmentAmount  AdjustmentValueType = "amount"
)

type AdjustmentScope string

const (
	ScopeTaxed  AdjustmentScope = "taxed"
	ScopeExempt AdjustmentScope = "exempt"
)

// GlobalAdjustment is a document-level discount or surcharge applied to
// the taxed or exempt subtotal.
type GlobalAdjustment struct {
	Kind        AdjustmentKind
	ValueType   AdjustmentValueType
	Value       decimal.Decimal
	Scope       AdjustmentScope
	Description string
}

// Transaction is the assembler input.
type Transaction struct {
	CompanyID         snowflake.ID
	DocumentClassCode int
	Issuer            Party
	Receiver          Party
	Currency          string
	// CurrencyRate converts transaction currency into the functional
	// currency; 1 when they match.
	CurrencyRate      decimal.Decimal
	CurrencyPrecision int
	Lines             []Line
	References        []Reference
	Adjustments       []GlobalAdjustment
	PaymentTerm       int
	IssueDate         time.Time
	DueDate           *time.Time
	// GrossPrices marks unit prices as tax-inclusive for the header
	// MntBruto flag.
	GrossPrices bool
}

// AssemblyOptions tunes one Assemble call.
type AssemblyOptions struct {
	Rounding engine.RoundingPolicy
	// SkipEnqueue leaves the document in NotSent with no passive job,
	// for previews and note drafting.
	SkipEnqueue bool
}

// AssembledDocument is the persisted outcome of Assemble.
type AssembledDocument struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	CompanyID         snowflake.ID `gorm:"column:company_id;not null;index"`
	DocumentClassCode int          `gorm:"column:document_class_code;not null;uniqueIndex:idx_documents_class_folio,priority:1"`
	Folio             int64        `gorm:"column:folio;not null;uniqueIndex:idx_documents_class_folio,priority:2"`
	IssueDate         time.Time    `gorm:"column:issue_date;not null"`
	ReceiverTaxID     string       `gorm:"column:receiver_tax_id;type:text"`

	Currency     string          `gorm:"type:text;not null"`
	NetAmount    decimal.Decimal `gorm:"column:net_amount;type:numeric(18,6);not null"`
	ExemptAmount decimal.Decimal `gorm:"column:exempt_amount;type:numeric(18,6);not null"`
	TaxAmount    decimal.Decimal `gorm:"column:tax_amount;type:numeric(18,6);not null"`
	RetainedTax  decimal.Decimal `gorm:"column:retained_tax;type:numeric(18,6);not null"`
	TotalAmount  decimal.Decimal `gorm:"column:total_amount;type:numeric(18,6);not null"`

	// Payload is the unsigned wire XML, kept for reassembly audits.
	Payload   []byte `gorm:"type:bytes;not null"`
	SignedXML []byte `gorm:"column:signed_xml;type:bytes"`
	// Stamp is the authenticity seal (TED) returned by the signer.
	Stamp string `gorm:"type:text"`
	// Source snapshots the input transaction so notes can be derived
	// later without the caller resupplying it.
	Source datatypes.JSON `gorm:"type:jsonb"`

	State      State  `gorm:"type:text;not null;default:'not_sent'"`
	TrackingID string `gorm:"column:tracking_id;type:text"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (AssembledDocument) TableName() string { return "documents" }

// Class resolves the document's class definition.
func (d *AssembledDocument) Class() (DocumentClass, error) {
	return ClassByCode(d.DocumentClassCode)
}
