package domain

import "fmt"

// Kind names a document class independent of its authority code.
type Kind string

const (
	KindInvoice          Kind = "invoice"
	KindExemptInvoice    Kind = "exempt_invoice"
	KindPurchaseInvoice  Kind = "purchase_invoice"
	KindDebitNote        Kind = "debit_note"
	KindCreditNote       Kind = "credit_note"
	KindReceipt          Kind = "receipt"
	KindExemptReceipt    Kind = "exempt_receipt"
	KindDispatchGuide    Kind = "dispatch_guide"
	KindExportInvoice    Kind = "export_invoice"
	KindExportDebitNote  Kind = "export_debit_note"
	KindExportCreditNote Kind = "export_credit_note"
)

// BatchGroup partitions classes that must never share a dispatch
// envelope. Receipts travel through a separate authority channel.
type BatchGroup string

const (
	BatchGroupStandard BatchGroup = "standard"
	BatchGroupReceipt  BatchGroup = "receipt"
	BatchGroupExport   BatchGroup = "export"
)

// DocumentClass carries everything assembly and dispatch need to know
// about one authority document type. Resolved once at assembly start
// and threaded through, never re-derived from the code mid-flow.
type DocumentClass struct {
	Kind                    Kind
	Code                    int
	Name                    string
	IsNote                  bool
	IsCreditNote            bool
	IsReceipt               bool
	IsExempt                bool
	IsExport                bool
	AllowsAnonymousReceiver bool
	RequiresReference       bool
	BatchGroup              BatchGroup
	CAFExpires              bool
}

var classes = []DocumentClass{
	{Kind: KindInvoice, Code: 33, Name: "Factura Electrónica",
		BatchGroup: BatchGroupStandard, CAFExpires: true},
	{Kind: KindExemptInvoice, Code: 34, Name: "Factura No Afecta o Exenta Electrónica",
		IsExempt: true, BatchGroup: BatchGroupStandard, CAFExpires: false},
	{Kind: KindReceipt, Code: 39, Name: "Boleta Electrónica",
		IsReceipt: true, AllowsAnonymousReceiver: true,
		BatchGroup: BatchGroupReceipt, CAFExpires: false},
	{Kind: KindExemptReceipt, Code: 41, Name: "Boleta No Afecta o Exenta Electrónica",
		IsReceipt: true, IsExempt: true, AllowsAnonymousReceiver: true,
		BatchGroup: BatchGroupReceipt, CAFExpires: false},
	{Kind: KindPurchaseInvoice, Code: 46, Name: "Factura de Compra Electrónica",
		BatchGroup: BatchGroupStandard, CAFExpires: true},
	{Kind: KindDispatchGuide, Code: 52, Name: "Guía de Despacho Electrónica",
		BatchGroup: BatchGroupStandard, CAFExpires: false},
	{Kind: KindDebitNote, Code: 56, Name: "Nota de Débito Electrónica",
		IsNote: true, RequiresReference: true,
		BatchGroup: BatchGroupStandard, CAFExpires: true},
	{Kind: KindCreditNote, Code: 61, Name: "Nota de Crédito Electrónica",
		IsNote: true, IsCreditNote: true, RequiresReference: true,
		BatchGroup: BatchGroupStandard, CAFExpires: true},
	{Kind: KindExportInvoice, Code: 110, Name: "Factura de Exportación Electrónica",
		IsExempt: true, IsExport: true,
		BatchGroup: BatchGroupExport, CAFExpires: true},
	{Kind: KindExportDebitNote, Code: 111, Name: "Nota de Débito de Exportación Electrónica",
		IsNote: true, IsExempt: true, IsExport: true, RequiresReference: true,
		BatchGroup: BatchGroupExport, CAFExpires: true},
	{Kind: KindExportCreditNote, Code: 112, Name: "Nota de Crédito de Exportación Electrónica",
		IsNote: true, IsCreditNote: true, IsExempt: true, IsExport: true, RequiresReference: true,
		BatchGroup: BatchGroupExport, CAFExpires: true},
}

var classByCode = func() map[int]DocumentClass {
	m := make(map[int]DocumentClass, len(classes))
	for _, c := range classes {
		m[c.Code] = c
	}
	return m
}()

// ClassByCode resolves a document class from its authority code.
func ClassByCode(code int) (DocumentClass, error) {
	c, ok := classByCode[code]
	if !ok {
		return DocumentClass{}, fmt.Errorf("%w: %d", ErrUnknownDocumentClass, code)
	}
	return c, nil
}

// Classes returns the full class table.
func Classes() []DocumentClass {
	out := make([]DocumentClass, len(classes))
	copy(out, classes)
	return out
}
