package dispatch

import (
	"encoding/xml"
	"fmt"
	"sort"
	"time"

	docdomain "github.com/andinasoft/dte/internal/document/domain"
)

// authorityRUT receives every standard envelope.
const authorityRUT = "60803000-K"

type envelopeWire struct {
	XMLName  xml.Name `xml:"EnvioDTE"`
	Version  string   `xml:"version,attr"`
	Caratula struct {
		RutEmisor    string           `xml:"RutEmisor"`
		RutReceptor  string           `xml:"RutReceptor"`
		TmstFirmaEnv string           `xml:"TmstFirmaEnv"`
		SubTotDTE    []envelopeSubTot `xml:"SubTotDTE"`
	} `xml:"SetDTE>Caratula"`
	Items []envelopeItem `xml:"SetDTE>DTE"`
}

type envelopeSubTot struct {
	TpoDTE int `xml:"TpoDTE"`
	NroDTE int `xml:"NroDTE"`
}

type envelopeItem struct {
	// Sequence is batch-local and unrelated to the document folio.
	Sequence int    `xml:"NroDTE,attr"`
	Inner    []byte `xml:",innerxml"`
}

// buildEnvelope wraps signed documents for submission. Items keep the
// claim order; batch-local sequence starts at 1.
func buildEnvelope(issuerRUT string, docs []docdomain.AssembledDocument, signedAt time.Time) ([]byte, error) {
	var env envelopeWire
	env.Version = "1.0"
	env.Caratula.RutEmisor = issuerRUT
	env.Caratula.RutReceptor = authorityRUT
	env.Caratula.TmstFirmaEnv = signedAt.Format("2006-01-02T15:04:05")

	counts := map[int]int{}
	for i, doc := range docs {
		env.Items = append(env.Items, envelopeItem{
			Sequence: i + 1,
			Inner:    doc.SignedXML,
		})
		counts[doc.DocumentClassCode]++
	}
	for code, n := range counts {
		env.Caratula.SubTotDTE = append(env.Caratula.SubTotDTE, envelopeSubTot{TpoDTE: code, NroDTE: n})
	}
	sort.Slice(env.Caratula.SubTotDTE, func(i, j int) bool {
		return env.Caratula.SubTotDTE[i].TpoDTE < env.Caratula.SubTotDTE[j].TpoDTE
	})

	raw, err := xml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return raw, nil
}
