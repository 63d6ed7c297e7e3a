package pdf

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

// Provider renders billing documents. Amount fields are preformatted display strings.
type Provider interface {
	GenerateInvoice(ctx context.Context, data InvoiceData) ([]byte, error)
	GenerateReceipt(ctx context.Context, data ReceiptData) ([]byte, error)
}

type InvoiceData struct {
	OrgName       string
	OrgAddress    string
	OrgEmail      string
	OrgGSTIN      string
	InvoiceNumber string
	IssueDate     string
	DueDate       string
	ServicePeriod string

	BillToName    string
	BillToAddress string
	BillToGSTIN   string

	TotalDue string

	Items    []InvoiceItem
	TaxLines []TaxLine

	Subtotal  string
	Total     string
	AmountDue string
}

type InvoiceItem struct {
	Description string
	Qty         int64
	UnitPrice   string
	Amount      string
}

// TaxLine is one GST component, e.g. "CGST 9%".
type TaxLine struct {
	Label  string
	Amount string
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}
