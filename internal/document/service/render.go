package service

import (
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	docdomain "github.com/andinasoft/dte/internal/document/domain"
)

const functionalCurrency = "CLP"

const dateLayout = "2006-01-02"

// renderPayload builds the wire document. Lines arrive already ordered
// by their explicit sequence; NroLinDet is explicit so a re-render from
// the same input is byte identical.
func renderPayload(class docdomain.DocumentClass, tx docdomain.Transaction, tot totals, folio int64) docdomain.Payload {
	prec := int32(tx.CurrencyPrecision)

	idDoc := docdomain.WireIdDoc{
		TipoDTE: class.Code,
		Folio:   folio,
		FchEmis: tx.IssueDate.Format(dateLayout),
		FmaPago: tx.PaymentTerm,
	}
	if tx.GrossPrices {
		idDoc.MntBruto = 1
	} else if !class.IsExempt {
		idDoc.IndMntNeto = 2
	}
	if tx.DueDate != nil {
		idDoc.FchVenc = tx.DueDate.Format(dateLayout)
	}

	header := docdomain.WireHeader{
		IdDoc: idDoc,
		Emisor: docdomain.WireIssuer{
			RUTEmisor:    tx.Issuer.TaxID,
			RznSoc:       tx.Issuer.Name,
			GiroEmis:     tx.Issuer.Activity,
			Acteco:       tx.Issuer.ActivityCode,
			DirOrigen:    tx.Issuer.Address,
			CmnaOrigen:   tx.Issuer.Commune,
			CiudadOrigen: tx.Issuer.City,
		},
		Receptor: receiverFor(class, tx),
		Totales:  wireTotals(class, tot, prec),
	}
	if tx.Currency != "" && tx.Currency != functionalCurrency {
		header.OtraMoneda = otherCurrency(tx, tot, prec)
	}

	doc := docdomain.WireDocument{
		ID:     fmt.Sprintf("F%dT%d", folio, class.Code),
		Header: header,
	}
	for i, line := range tx.Lines {
		doc.Detail = append(doc.Detail, wireDetail(i, line, tot.LineAmounts[i], prec))
	}
	for i, adj := range tx.Adjustments {
		doc.Adjustments = append(doc.Adjustments, wireAdjustment(i, adj, prec))
	}
	for i, ref := range tx.References {
		doc.References = append(doc.References, docdomain.WireReference{
			NroLinRef: i + 1,
			TpoDocRef: strconv.Itoa(ref.DocumentClassCode),
			FolioRef:  strconv.FormatInt(ref.Folio, 10),
			FchRef:    ref.Date.Format(dateLayout),
			CodRef:    int(ref.Reason),
			RazonRef:  ref.Description,
		})
	}

	return docdomain.Payload{Version: "1.0", Document: doc}
}

func receiverFor(class docdomain.DocumentClass, tx docdomain.Transaction) docdomain.WireReceiver {
	recv := docdomain.WireReceiver{
		RUTRecep:    tx.Receiver.TaxID,
		RznSocRecep: tx.Receiver.Name,
		GiroRecep:   tx.Receiver.Activity,
		DirRecep:    tx.Receiver.Address,
		CmnaRecep:   tx.Receiver.Commune,
		CiudadRecep: tx.Receiver.City,
	}
	// Anonymous receipt consumers get the authority's generic RUT.
	if recv.RUTRecep == "" && class.AllowsAnonymousReceiver {
		recv.RUTRecep = "66666666-6"
	}
	return recv
}

func wireTotals(class docdomain.DocumentClass, tot totals, prec int32) docdomain.WireTotals {
	out := docdomain.WireTotals{
		MntTotal: formatAmount(tot.Total, prec),
	}
	if tot.Net.IsPositive() || (!class.IsExempt && !tot.Net.IsNegative()) {
		out.MntNeto = formatAmount(tot.Net, prec)
	}
	if tot.Exempt.IsPositive() {
		out.MntExe = formatAmount(tot.Exempt, prec)
	}
	if !tot.VAT.IsZero() {
		out.IVA = formatAmount(tot.VAT, prec)
		out.TasaIVA = formatRate(tot.VATRate)
	}
	for _, o := range tot.Other {
		out.ImptoReten = append(out.ImptoReten, docdomain.WireTax{
			TipoImp:  o.Code,
			TasaImp:  formatRate(o.Rate),
			MontoImp: formatAmount(o.Amount, prec),
		})
	}
	return out
}

func otherCurrency(tx docdomain.Transaction, tot totals, prec int32) *docdomain.WireOtherCurrency {
	rate := tx.CurrencyRate
	conv := func(d decimal.Decimal) string {
		return formatAmount(d.Mul(rate).Round(prec), prec)
	}
	out := &docdomain.WireOtherCurrency{
		TpoMoneda:     functionalCurrency,
		TpoCambio:     rate.String(),
		MntTotOtrMnda: conv(tot.Total),
	}
	if tot.Net.IsPositive() {
		out.MntNetoOtrMnda = conv(tot.Net)
	}
	if tot.Exempt.IsPositive() {
		out.MntExeOtrMnda = conv(tot.Exempt)
	}
	if !tot.VAT.IsZero() {
		out.IVAOtrMnda = conv(tot.VAT)
	}
	return out
}

func wireDetail(index int, line docdomain.Line, amount decimal.Decimal, prec int32) docdomain.WireDetail {
	det := docdomain.WireDetail{
		NroLinDet: index + 1,
		CdgItem:   line.ProductCode,
		NmbItem:   line.Name,
		DscItem:   line.Description,
	}
	if line.Exempt {
		det.IndExe = 1
	}
	if line.NoProduct {
		// Informational row: unit quantity, no amount.
		det.QtyItem = "1"
		det.MontoItem = formatAmount(decimal.Zero, prec)
		return det
	}
	det.QtyItem = line.Quantity.String()
	det.UnmdItem = line.Unit
	det.PrcItem = line.UnitPrice.String()
	if line.DiscountPercent.IsPositive() {
		det.DescuentoPct = line.DiscountPercent.String()
	}
	det.MontoItem = formatAmount(amount, prec)
	return det
}

func wireAdjustment(index int, adj docdomain.GlobalAdjustment, prec int32) docdomain.WireAdjustment {
	out := docdomain.WireAdjustment{
		NroLinDR: index + 1,
		TpoMov:   "D",
		GlosaDR:  adj.Description,
		TpoValor: "$",
		ValorDR:  formatAmount(adj.Value, prec),
	}
	if adj.Kind == docdomain.AdjustmentSurcharge {
		out.TpoMov = "R"
	}
	if adj.ValueType == docdomain.AdjustmentPercent {
		out.TpoValor = "%"
		out.ValorDR = adj.Value.String()
	}
	if adj.Scope == docdomain.ScopeExempt {
		out.IndExeDR = 1
	}
	return out
}

func marshalPayload(p docdomain.Payload) ([]byte, error) {
	raw, err := xml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return raw, nil
}

func formatAmount(d decimal.Decimal, prec int32) string {
	return d.Round(prec).StringFixed(prec)
}

func formatRate(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.StringFixed(2)
}
