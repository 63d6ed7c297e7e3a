package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billsync/internal/clock"
	"github.com/smallbiznis/billsync/internal/config"
	invoicedomain "github.com/smallbiznis/billsync/internal/invoice/domain"
	invoiceformat "github.com/smallbiznis/billsync/internal/invoice/format"
	"github.com/smallbiznis/billsync/internal/money"
	obsmetrics "github.com/smallbiznis/billsync/internal/observability/metrics"
	"github.com/smallbiznis/billsync/internal/providers/pdf"
	tenantdomain "github.com/smallbiznis/billsync/internal/tenant/domain"
	"github.com/smallbiznis/billsync/pkg/db"
	"github.com/smallbiznis/billsync/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// numberAttempts bounds regenerate-and-retry when an insert hits the invoice_number unique index.
const numberAttempts = 2

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Billing    *config.BillingConfigHolder
	Repo       invoicedomain.Repository
	TenantSvc  tenantdomain.Service
	PDF        pdf.Provider
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	billing    *config.BillingConfigHolder
	repo       invoicedomain.Repository
	tenantsvc  tenantdomain.Service
	pdf        pdf.Provider
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("invoice.service"),
		genID: p.GenID,

		clock:      p.Clock,
		billing:    p.Billing,
		repo:       p.Repo,
		tenantsvc:  p.TenantSvc,
		pdf:        p.PDF,
		obsMetrics: p.ObsMetrics,
	}
}

// GenerateInvoiceNumber reserves the next number of the fiscal year containing now.
// The counter row stays locked until tx ends, which serializes concurrent issuers.
func (s *Service) GenerateInvoiceNumber(ctx context.Context, tx *gorm.DB, now time.Time) (string, error) {
	cfg := s.billing.Get()
	template := cfg.InvoiceNumberTemplate
	if template == "" {
		template = invoiceformat.DefaultInvoiceNumberTemplate
	}

	scope, err := invoiceformat.SequenceScope(template, cfg.InvoicePrefix, now)
	if err != nil {
		return "", err
	}

	seq, err := s.repo.LockSequence(ctx, tx, scope, now)
	if err != nil {
		return "", err
	}

	next := seq.LastValue
	latest, err := s.repo.LatestNumberInScope(ctx, tx, scope)
	if err != nil {
		return "", err
	}
	if existing, ok := invoiceformat.ParseSequence(latest, scope); ok && existing > next {
		next = existing
	}
	next++

	number, err := invoiceformat.FormatInvoiceNumber(template, cfg.InvoicePrefix, now, next)
	if err != nil {
		return "", err
	}
	if err := s.repo.UpdateSequence(ctx, tx, scope, next, now); err != nil {
		return "", err
	}
	return number, nil
}

func (s *Service) Issue(ctx context.Context, tx *gorm.DB, req invoicedomain.IssueRequest) (*invoicedomain.Invoice, error) {
	if req.TenantID == 0 {
		return nil, invoicedomain.ErrInvalidTenant
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, invoicedomain.ErrInvalidCurrency
	}
	if len(req.LineItems) == 0 {
		return nil, invoicedomain.ErrInvalidLineItem
	}
	subtotal, items, err := invoicedomain.SumLineItems(req.LineItems)
	if err != nil {
		return nil, err
	}

	cfg := s.billing.Get()
	now := s.clock.Now()
	address := req.BillingAddress.Normalize()

	gst := invoicedomain.GSTDetails{Type: invoicedomain.GSTTypeNone}
	if currency == "INR" {
		gst = invoicedomain.CalculateGst(subtotal, address.State, cfg.BusinessState, invoicedomain.GSTRates{
			CGST: money.BasisPoints(cfg.CGSTRateBps),
			SGST: money.BasisPoints(cfg.SGSTRateBps),
			IGST: money.BasisPoints(cfg.IGSTRateBps),
		}, address.GSTIN)
	}
	total := subtotal + gst.TotalGST
	dueAt := now.AddDate(0, 0, cfg.PaymentTermDays)

	invoice := &invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		TenantID:       req.TenantID,
		SubscriptionID: req.SubscriptionID,
		Status:         invoicedomain.InvoiceStatusIssued,
		Currency:       currency,
		Subtotal:       subtotal,
		TaxAmount:      gst.TotalGST,
		Total:          total,
		AmountDue:      total,
		GSTDetails:     datatypes.NewJSONType(gst),
		BillingAddress: datatypes.NewJSONType(address),
		LineItems:      datatypes.NewJSONSlice(items),
		PeriodStart:    req.PeriodStart,
		PeriodEnd:      req.PeriodEnd,
		IssuedAt:       &now,
		DueAt:          &dueAt,
		Metadata:       datatypes.JSONMap(req.Metadata),
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.insertNumbered(ctx, tx, invoice, now); err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordInvoiceIssued(ctx, currency)
	}
	s.log.Info("invoice issued",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.String("tenant_id", invoice.TenantID.String()),
		zap.Int64("subtotal", invoice.Subtotal),
		zap.Int64("tax_amount", invoice.TaxAmount),
		zap.Int64("total", invoice.Total),
		zap.String("gst_type", string(gst.Type)),
	)
	return invoice, nil
}

// insertNumbered assigns a number and inserts, regenerating once on a unique-index conflict.
// The savepoint keeps tx usable after the failed insert on postgres.
func (s *Service) insertNumbered(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, now time.Time) error {
	for attempt := 1; attempt <= numberAttempts; attempt++ {
		number, err := s.GenerateInvoiceNumber(ctx, tx, now)
		if err != nil {
			return err
		}
		invoice.InvoiceNumber = number

		savepoint := "invoice_number_" + strconv.Itoa(attempt)
		if err := tx.SavePoint(savepoint).Error; err != nil {
			return err
		}

		err = s.repo.Insert(ctx, tx, invoice)
		if err == nil {
			return nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return err
		}
		if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
			return rbErr
		}
		s.log.Warn("invoice number collision, regenerating",
			zap.String("invoice_number", number),
			zap.Int("attempt", attempt),
		)
	}
	return invoicedomain.ErrInvoiceNumberExhausted
}

func (s *Service) MarkAsPaid(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	changed, err := invoice.MarkPaid(s.clock.Now())
	if err != nil || !changed {
		return err
	}
	if err := s.repo.Update(ctx, tx, invoice); err != nil {
		return err
	}
	s.log.Info("invoice paid",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
		zap.Int64("amount_paid", invoice.AmountPaid),
	)
	return nil
}

func (s *Service) MarkAsCancelled(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice) error {
	changed, err := invoice.MarkCancelled(s.clock.Now())
	if err != nil || !changed {
		return err
	}
	if err := s.repo.Update(ctx, tx, invoice); err != nil {
		return err
	}
	s.log.Info("invoice cancelled",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("invoice_number", invoice.InvoiceNumber),
	)
	return nil
}

func (s *Service) AddLineItem(ctx context.Context, tx *gorm.DB, invoice *invoicedomain.Invoice, item invoicedomain.LineItem) error {
	if err := invoice.AddLineItem(item, s.clock.Now()); err != nil {
		return err
	}
	return s.repo.Update(ctx, tx, invoice)
}

func (s *Service) LockByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) LatestIssuedForSubscription(ctx context.Context, tx *gorm.DB, subscriptionID snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.repo.FindLatestIssuedForSubscription(ctx, tx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) GetForTenant(ctx context.Context, tenantID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, s.db, tenantID, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) ListForTenant(ctx context.Context, tenantID snowflake.ID, status invoicedomain.InvoiceStatus, page pagination.Pagination) (invoicedomain.ListResponse, error) {
	items, err := s.repo.List(ctx, s.db, invoicedomain.ListFilter{TenantID: tenantID, Status: status}, page)
	if err != nil {
		return invoicedomain.ListResponse{}, err
	}
	items, info := pagination.BuildCursorPageInfo(items, page.Limit(), func(i invoicedomain.Invoice) string {
		return i.ID.String()
	})
	return invoicedomain.ListResponse{Invoices: items, PageInfo: info}, nil
}

func (s *Service) RenderPDF(ctx context.Context, tenantID, id snowflake.ID) (invoicedomain.RenderedPDF, error) {
	invoice, err := s.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return invoicedomain.RenderedPDF{}, err
	}
	tenant, err := s.tenantsvc.GetByID(ctx, tenantID)
	if err != nil {
		return invoicedomain.RenderedPDF{}, err
	}

	data := buildInvoiceData(s.billing.Get(), tenant, invoice)

	var content []byte
	if invoice.Status == invoicedomain.InvoiceStatusPaid && invoice.PaidAt != nil {
		content, err = s.pdf.GenerateReceipt(ctx, pdf.ReceiptData{InvoiceData: data, DatePaid: formatDate(invoice.PaidAt)})
	} else {
		content, err = s.pdf.GenerateInvoice(ctx, data)
	}
	if err != nil {
		return invoicedomain.RenderedPDF{}, fmt.Errorf("render invoice %s: %w", invoice.InvoiceNumber, err)
	}

	return invoicedomain.RenderedPDF{
		Filename: PDFFilename(invoice.InvoiceNumber),
		Content:  content,
	}, nil
}
