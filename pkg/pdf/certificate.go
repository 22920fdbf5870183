// Package pdf renders printable artifacts for marketplace records.
package pdf

import (
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// CertificateData is everything printed on a purchase certificate.
type CertificateData struct {
	AttemptID      string
	AssetCode      string
	ProjectName    string
	VintageYear    int
	BuyerAddress   string
	TokenAmount    string
	PaymentAmount  string
	TransferTxHash string
	CompletedAt    time.Time
}

// RenderPurchaseCertificate writes an A4 certificate for a completed swap.
func RenderPurchaseCertificate(w io.Writer, data CertificateData) error {
	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetTitle("Carbon Credit Purchase Certificate", false)
	doc.AddPage()

	doc.SetFont("Helvetica", "B", 22)
	doc.CellFormat(0, 20, "Carbon Credit Purchase Certificate", "", 1, "C", false, 0, "")

	doc.SetFont("Helvetica", "", 11)
	doc.CellFormat(0, 8, fmt.Sprintf("Issued %s", data.CompletedAt.Format("2 January 2006")), "", 1, "C", false, 0, "")
	doc.Ln(8)

	row := func(label, value string) {
		doc.SetFont("Helvetica", "B", 11)
		doc.CellFormat(55, 9, label, "", 0, "L", false, 0, "")
		doc.SetFont("Helvetica", "", 11)
		doc.CellFormat(0, 9, value, "", 1, "L", false, 0, "")
	}

	row("Asset", data.AssetCode)
	if data.ProjectName != "" {
		row("Project", data.ProjectName)
	}
	if data.VintageYear > 0 {
		row("Vintage year", fmt.Sprintf("%d", data.VintageYear))
	}
	row("Credits purchased", data.TokenAmount)
	row("Amount paid (XLM)", data.PaymentAmount)
	row("Holder account", data.BuyerAddress)
	if data.TransferTxHash != "" {
		row("Transfer transaction", data.TransferTxHash)
	}
	row("Reference", data.AttemptID)

	doc.Ln(12)
	doc.SetFont("Helvetica", "I", 9)
	doc.MultiCell(0, 5,
		"This certificate records a delegated transfer of tokenized carbon credits settled on the Stellar network. "+
			"Ownership is represented on-ledger; the transaction hash above is the authoritative record.",
		"", "L", false)

	return doc.Output(w)
}
