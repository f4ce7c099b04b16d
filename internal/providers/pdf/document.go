package pdf

import (
	"bytes"
	"context"
	"io"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// DocumentData is everything the printed copy shows. Amounts arrive
// preformatted so the layout never touches money math.
type DocumentData struct {
	IssuerName    string
	IssuerRUT     string
	IssuerAddress string

	ClassName string
	Folio     string
	IssueDate string

	ReceiverName    string
	ReceiverRUT     string
	ReceiverAddress string

	Items []DocumentItem

	NetAmount    string
	ExemptAmount string
	TaxAmount    string
	TotalAmount  string

	// Stamp is the electronic seal encoded into the footer barcode.
	Stamp string
}

type DocumentItem struct {
	Name      string
	Quantity  string
	UnitPrice string
	Amount    string
}

var headerRed = &props.Color{Red: 200, Green: 30, Blue: 30}

type DocumentProvider struct{}

func New() Provider {
	return &DocumentProvider{}
}

func (p *DocumentProvider) RenderDocument(ctx context.Context, data DocumentData) (io.Reader, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	// Issuer block on the left, authorization box on the right.
	m.AddRow(30,
		col.New(7).Add(
			text.New(data.IssuerName, props.Text{Style: fontstyle.Bold, Size: 12}),
			text.New(data.IssuerAddress, props.Text{Top: 7, Size: 9}),
		),
		col.New(5).Add(
			text.New("R.U.T.: "+data.IssuerRUT, props.Text{Style: fontstyle.Bold, Size: 11, Align: align.Center, Color: headerRed}),
			text.New(data.ClassName, props.Text{Top: 7, Style: fontstyle.Bold, Size: 11, Align: align.Center, Color: headerRed}),
			text.New("N° "+data.Folio, props.Text{Top: 14, Style: fontstyle.Bold, Size: 11, Align: align.Center, Color: headerRed}),
		),
	)

	m.AddRow(8,
		text.NewCol(12, "Fecha de emisión: "+data.IssueDate, props.Text{Size: 9}),
	)

	m.AddRow(22,
		col.New(12).Add(
			text.New("Señor(es): "+data.ReceiverName, props.Text{Size: 9}),
			text.New("R.U.T.: "+data.ReceiverRUT, props.Text{Top: 5, Size: 9}),
			text.New("Dirección: "+data.ReceiverAddress, props.Text{Top: 10, Size: 9}),
		),
	)

	m.AddRow(8,
		text.NewCol(6, "Detalle", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, "Cantidad", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Precio", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
		text.NewCol(2, "Monto", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	for _, item := range data.Items {
		m.AddRow(7,
			text.NewCol(6, item.Name, props.Text{Size: 9}),
			text.NewCol(2, item.Quantity, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.UnitPrice, props.Text{Size: 9, Align: align.Right}),
			text.NewCol(2, item.Amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(7,
		col.New(8),
		text.NewCol(2, "Neto", props.Text{Size: 9}),
		text.NewCol(2, data.NetAmount, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(7,
		col.New(8),
		text.NewCol(2, "Exento", props.Text{Size: 9}),
		text.NewCol(2, data.ExemptAmount, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(7,
		col.New(8),
		text.NewCol(2, "IVA", props.Text{Size: 9}),
		text.NewCol(2, data.TaxAmount, props.Text{Size: 9, Align: align.Right}),
	)
	m.AddRow(7,
		col.New(8),
		text.NewCol(2, "Total", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(2, data.TotalAmount, props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)

	if data.Stamp != "" {
		m.AddRow(35,
			code.NewQrCol(4, data.Stamp, props.Rect{Percent: 90}),
			col.New(8).Add(
				text.New("Timbre Electrónico SII", props.Text{Top: 12, Size: 8}),
				text.New("Verifique documento: www.sii.cl", props.Text{Top: 17, Size: 8}),
			),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(doc.GetBytes()), nil
}
