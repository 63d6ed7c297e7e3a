package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/billsync/internal/config"
	invoicedomain "github.com/smallbiznis/billsync/internal/invoice/domain"
	"github.com/smallbiznis/billsync/internal/invoice/format"
	"github.com/smallbiznis/billsync/internal/money"
	"github.com/smallbiznis/billsync/internal/providers/pdf"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
)

// PDFFilename turns "INV/2026-27/00001" into "inv-2026-27-00001.pdf".
func PDFFilename(invoiceNumber string) string {
	name := slug.Make(invoiceNumber)
	if name == "" {
		name = "invoice"
	}
	return name + ".pdf"
}

func buildInvoiceData(cfg config.BillingConfig, tenant *tenantdomain.Tenant, invoice *invoicedomain.Invoice) pdf.InvoiceData {
	currency := invoice.Currency
	address := invoice.BillingAddress.Data()
	gst := invoice.GSTDetails.Data()

	items := make([]pdf.InvoiceItem, 0, len(invoice.LineItems))
	for _, item := range invoice.LineItems {
		items = append(items, pdf.InvoiceItem{
			Description: item.Description,
			Qty:         item.Quantity,
			UnitPrice:   money.Format(item.UnitPrice, currency),
			Amount:      money.Format(item.Amount, currency),
		})
	}

	var taxLines []pdf.TaxLine
	switch gst.Type {
	case invoicedomain.GSTTypeIntraState:
		taxLines = []pdf.TaxLine{
			{Label: "CGST " + formatRate(gst.CGSTRateBps), Amount: money.Format(gst.CGST, currency)},
			{Label: "SGST " + formatRate(gst.SGSTRateBps), Amount: money.Format(gst.SGST, currency)},
		}
	case invoicedomain.GSTTypeInterState:
		taxLines = []pdf.TaxLine{
			{Label: "IGST " + formatRate(gst.IGSTRateBps), Amount: money.Format(gst.IGST, currency)},
		}
	}

	return pdf.InvoiceData{
		OrgName:       cfg.BusinessName,
		OrgAddress:    cfg.BusinessAddress,
		OrgEmail:      cfg.BusinessEmail,
		OrgGSTIN:      cfg.BusinessGSTIN,
		InvoiceNumber: invoice.InvoiceNumber,
		IssueDate:     formatDate(invoice.IssuedAt),
		DueDate:       formatDate(invoice.DueAt),
		ServicePeriod: formatPeriod(invoice.PeriodStart, invoice.PeriodEnd),
		BillToName:    tenant.Name,
		BillToAddress: formatAddress(address),
		BillToGSTIN:   address.GSTIN,
		TotalDue:      fmt.Sprintf("%s due %s", money.FormatWithCode(invoice.AmountDue, currency), formatDate(invoice.DueAt)),
		Items:         items,
		TaxLines:      taxLines,
		Subtotal:      money.Format(invoice.Subtotal, currency),
		Total:         money.Format(invoice.Total, currency),
		AmountDue:     money.Format(invoice.AmountDue, currency),
	}
}

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.In(format.IST).Format("02 Jan 2006")
}

func formatPeriod(start, end *time.Time) string {
	if start == nil && end == nil {
		return "-"
	}
	return formatDate(start) + " - " + formatDate(end)
}

// formatRate renders basis points as a percentage, e.g. 900 -> "9%", 1250 -> "12.5%".
func formatRate(bps int64) string {
	whole, frac := bps/100, bps%100
	if frac == 0 {
		return fmt.Sprintf("%d%%", whole)
	}
	return strings.TrimRight(fmt.Sprintf("%d.%02d", whole, frac), "0") + "%"
}

func formatAddress(a tenantdomain.BillingAddress) string {
	var parts []string
	for _, p := range []string{a.Line1, a.Line2, a.City, a.State, a.PostalCode, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}
