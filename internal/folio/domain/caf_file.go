package domain

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// cafEnvelope mirrors the authority's CAF XML layout. Only the DA block
// matters to the allocator; the signature material travels opaquely in
// RawPayload.
type cafEnvelope struct {
	XMLName xml.Name `xml:"AUTORIZACION"`
	CAF     struct {
		DA struct {
			IssuerRUT     string `xml:"RE"`
			IssuerName    string `xml:"RS"`
			DocumentClass int    `xml:"TD"`
			Range         struct {
				Start int64 `xml:"D"`
				End   int64 `xml:"H"`
			} `xml:"RNG"`
			IssuedDate string `xml:"FA"`
		} `xml:"DA"`
	} `xml:"CAF"`
}

// ParsedCAF is the decoded authorization data of a CAF file.
type ParsedCAF struct {
	IssuerRUT     string
	IssuerName    string
	DocumentClass int
	StartNumber   int64
	FinalNumber   int64
	IssuedDate    time.Time
}

// Document classes whose authorizations never expire (receipts and
// dispatch guides under current authority rules).
var nonExpiringClasses = map[int]bool{34: true, 39: true, 41: true, 52: true}

// cafValidity is the authority's validity window for expiring classes.
const cafValidityMonths = 6

// ParseCAFFile decodes the raw authorization XML.
func ParseCAFFile(raw []byte) (ParsedCAF, error) {
	var env cafEnvelope
	if err := xml.Unmarshal(raw, &env); err != nil {
		return ParsedCAF{}, fmt.Errorf("%w: %v", ErrInvalidCAF, err)
	}
	da := env.CAF.DA
	if da.Range.Start <= 0 || da.Range.End < da.Range.Start {
		return ParsedCAF{}, fmt.Errorf("%w: range [%d,%d]", ErrInvalidCAF, da.Range.Start, da.Range.End)
	}
	issued, err := time.Parse("2006-01-02", strings.TrimSpace(da.IssuedDate))
	if err != nil {
		return ParsedCAF{}, fmt.Errorf("%w: issued date %q", ErrInvalidCAF, da.IssuedDate)
	}
	return ParsedCAF{
		IssuerRUT:     strings.TrimSpace(da.IssuerRUT),
		IssuerName:    strings.TrimSpace(da.IssuerName),
		DocumentClass: da.DocumentClass,
		StartNumber:   da.Range.Start,
		FinalNumber:   da.Range.End,
		IssuedDate:    issued,
	}, nil
}

// Expiration derives the validity deadline for the parsed CAF, nil for
// classes whose authorizations do not expire.
func (p ParsedCAF) Expiration() *time.Time {
	if nonExpiringClasses[p.DocumentClass] {
		return nil
	}
	exp := p.IssuedDate.AddDate(0, cafValidityMonths, 0)
	return &exp
}
