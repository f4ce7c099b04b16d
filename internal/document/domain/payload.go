package domain

import "encoding/xml"

// Wire structs follow the authority's DTE schema field names. Amounts
// travel pre-rounded as strings so the XML never re-rounds.

type Payload struct {
	XMLName  xml.Name `xml:"DTE"`
	Version  string   `xml:"version,attr"`
	Document WireDocument
}

type WireDocument struct {
	XMLName     xml.Name `xml:"Documento"`
	ID          string   `xml:"ID,attr"`
	Header      WireHeader
	Detail      []WireDetail     `xml:"Detalle"`
	Adjustments []WireAdjustment `xml:"DscRcgGlobal,omitempty"`
	References  []WireReference  `xml:"Referencia,omitempty"`
}

type WireHeader struct {
	XMLName  xml.Name `xml:"Encabezado"`
	IdDoc    WireIdDoc
	Emisor   WireIssuer
	Receptor WireReceiver
	Totales  WireTotals
	// OtraMoneda appears only when the transaction currency differs
	// from the functional currency.
	OtraMoneda *WireOtherCurrency `xml:"OtraMoneda,omitempty"`
}

type WireIdDoc struct {
	XMLName    xml.Name `xml:"IdDoc"`
	TipoDTE    int      `xml:"TipoDTE"`
	Folio      int64    `xml:"Folio"`
	FchEmis    string   `xml:"FchEmis"`
	IndMntNeto int      `xml:"IndMntNeto,omitempty"`
	MntBruto   int      `xml:"MntBruto,omitempty"`
	FmaPago    int      `xml:"FmaPago,omitempty"`
	FchVenc    string   `xml:"FchVenc,omitempty"`
}

type WireIssuer struct {
	XMLName      xml.Name `xml:"Emisor"`
	RUTEmisor    string   `xml:"RUTEmisor"`
	RznSoc       string   `xml:"RznSoc"`
	GiroEmis     string   `xml:"GiroEmis,omitempty"`
	Acteco       int      `xml:"Acteco,omitempty"`
	DirOrigen    string   `xml:"DirOrigen,omitempty"`
	CmnaOrigen   string   `xml:"CmnaOrigen,omitempty"`
	CiudadOrigen string   `xml:"CiudadOrigen,omitempty"`
}

type WireReceiver struct {
	XMLName     xml.Name `xml:"Receptor"`
	RUTRecep    string   `xml:"RUTRecep"`
	RznSocRecep string   `xml:"RznSocRecep,omitempty"`
	GiroRecep   string   `xml:"GiroRecep,omitempty"`
	DirRecep    string   `xml:"DirRecep,omitempty"`
	CmnaRecep   string   `xml:"CmnaRecep,omitempty"`
	CiudadRecep string   `xml:"CiudadRecep,omitempty"`
}

type WireTotals struct {
	XMLName    xml.Name  `xml:"Totales"`
	MntNeto    string    `xml:"MntNeto,omitempty"`
	MntExe     string    `xml:"MntExe,omitempty"`
	TasaIVA    string    `xml:"TasaIVA,omitempty"`
	IVA        string    `xml:"IVA,omitempty"`
	ImptoReten []WireTax `xml:"ImptoReten,omitempty"`
	MntTotal   string    `xml:"MntTotal"`
}

type WireTax struct {
	TipoImp  int    `xml:"TipoImp"`
	TasaImp  string `xml:"TasaImp,omitempty"`
	MontoImp string `xml:"MontoImp"`
}

type WireOtherCurrency struct {
	TpoMoneda      string `xml:"TpoMoneda"`
	TpoCambio      string `xml:"TpoCambio"`
	MntNetoOtrMnda string `xml:"MntNetoOtrMnda,omitempty"`
	MntExeOtrMnda  string `xml:"MntExeOtrMnda,omitempty"`
	IVAOtrMnda     string `xml:"IVAOtrMnda,omitempty"`
	MntTotOtrMnda  string `xml:"MntTotOtrMnda"`
}

type WireDetail struct {
	NroLinDet    int    `xml:"NroLinDet"`
	IndExe       int    `xml:"IndExe,omitempty"`
	CdgItem      string `xml:"CdgItem>VlrCodigo,omitempty"`
	NmbItem      string `xml:"NmbItem"`
	DscItem      string `xml:"DscItem,omitempty"`
	QtyItem      string `xml:"QtyItem,omitempty"`
	UnmdItem     string `xml:"UnmdItem,omitempty"`
	PrcItem      string `xml:"PrcItem,omitempty"`
	DescuentoPct string `xml:"DescuentoPct,omitempty"`
	MontoItem    string `xml:"MontoItem"`
}

type WireAdjustment struct {
	NroLinDR int    `xml:"NroLinDR"`
	TpoMov   string `xml:"TpoMov"`
	GlosaDR  string `xml:"GlosaDR,omitempty"`
	TpoValor string `xml:"TpoValor"`
	ValorDR  string `xml:"ValorDR"`
	IndExeDR int    `xml:"IndExeDR,omitempty"`
}

type WireReference struct {
	NroLinRef int    `xml:"NroLinRef"`
	TpoDocRef string `xml:"TpoDocRef"`
	FolioRef  string `xml:"FolioRef"`
	FchRef    string `xml:"FchRef"`
	CodRef    int    `xml:"CodRef,omitempty"`
	RazonRef  string `xml:"RazonRef,omitempty"`
}
