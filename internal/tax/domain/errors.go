package domain

import "errors"

var (
	ErrInvalidTaxMix     = errors.New("invalid_tax_mix")
	ErrInvalidAmountType = errors.New("invalid_amount_type")
	ErrInvalidRate       = errors.New("invalid_rate")
	ErrInvalidPrecision  = errors.New("invalid_precision")
	ErrNotFound          = errors.New("not_found")
	ErrInvalidCode       = errors.New("invalid_code")
)
