// Package invoice は請求書の作成とメール送信を提供する。
package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/invoiceman/internal/mailer"
	"github.com/hitoshi/invoiceman/internal/model"
	"github.com/hitoshi/invoiceman/internal/repository"
	"github.com/hitoshi/invoiceman/internal/usage"
)

// DefaultCurrency は通貨が指定されない場合の既定値。
const DefaultCurrency = "ZAR"

// Guard はプランの上限判定付きで書き込みを実行する。
type Guard interface {
	CheckAndConsume(ctx context.Context, userID string, counter model.Counter, guarded usage.GuardedFunc) error
}

// Sanitizer は入力テキストを無害化する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// ClientFinder は請求先の検索。
type ClientFinder interface {
	FindByID(ctx context.Context, userID, id string) (*model.Client, error)
}

// CreateInput は請求書作成の入力。採番と金額計算は呼び出し側で行う。
type CreateInput struct {
	ClientID      string
	InvoiceNumber string
	Currency      string
	Total         int64
	IssueDate     time.Time
	DueDate       time.Time
	Notes         string
}

// Service は請求書のサービス層。
type Service struct {
	repo      repository.InvoiceRepository
	clients   ClientFinder
	guard     Guard
	mailer    mailer.Mailer
	sanitizer Sanitizer
	now       func() time.Time
	logger    *slog.Logger
}

// NewService はServiceを生成する。
func NewService(repo repository.InvoiceRepository, clients ClientFinder, guard Guard, m mailer.Mailer, sanitizer Sanitizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		clients:   clients,
		guard:     guard,
		mailer:    m,
		sanitizer: sanitizer,
		now:       time.Now,
		logger:    logger,
	}
}

// Create は請求書を下書きとして作成する。請求先はテナントが所有している必要がある。
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (*model.Invoice, error) {
	number := s.sanitizer.Sanitize(input.InvoiceNumber)
	if number == "" {
		return nil, model.NewInvalidRequestError("請求書番号は必須です")
	}
	if input.Total < 0 {
		return nil, model.NewInvalidRequestError("金額は0以上で指定してください")
	}
	if input.ClientID == "" {
		return nil, model.NewInvalidRequestError("請求先IDは必須です")
	}

	c, err := s.clients.FindByID(ctx, userID, input.ClientID)
	if err != nil {
		return nil, fmt.Errorf("請求先の取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewClientNotFoundError(input.ClientID)
	}

	now := s.now().UTC()
	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	issue := input.IssueDate
	if issue.IsZero() {
		issue = now
	}
	due := input.DueDate
	if due.IsZero() {
		due = issue.AddDate(0, 0, 30)
	}
	if due.Before(issue) {
		return nil, model.NewInvalidRequestError("支払期日は発行日以降で指定してください")
	}

	inv := &model.Invoice{
		ID:            uuid.New().String(),
		UserID:        userID,
		ClientID:      c.ID,
		InvoiceNumber: number,
		Status:        model.InvoiceStatusDraft,
		Currency:      currency,
		Total:         input.Total,
		IssueDate:     issue,
		DueDate:       due,
		Notes:         s.sanitizer.Sanitize(input.Notes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.guard.CheckAndConsume(ctx, userID, model.CounterInvoices, func(ctx context.Context) error {
		return s.repo.Create(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// Send は請求書をメールで送信し、送信済みにする。
// toが空の場合は請求先のメールアドレスへ送る。
func (s *Service) Send(ctx context.Context, userID, invoiceID, to string) (*model.Invoice, error) {
	inv, err := s.Get(ctx, userID, invoiceID)
	if err != nil {
		return nil, err
	}
	c, err := s.clients.FindByID(ctx, userID, inv.ClientID)
	if err != nil {
		return nil, fmt.Errorf("請求先の取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, model.NewClientNotFoundError(inv.ClientID)
	}

	if to == "" {
		to = c.Email
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return nil, model.NewInvalidRequestError("送信先メールアドレスの形式が不正です")
	}

	msg := mailer.Message{
		To:      to,
		Subject: fmt.Sprintf("Invoice %s", inv.InvoiceNumber),
		Body:    renderBody(inv, c),
	}
	err = s.guard.CheckAndConsume(ctx, userID, model.CounterEmails, func(ctx context.Context) error {
		return s.mailer.Send(ctx, msg)
	})
	if err != nil {
		return nil, err
	}

	sentAt := s.now().UTC()
	if err := s.repo.MarkSent(ctx, userID, inv.ID, sentAt); err != nil {
		return nil, fmt.Errorf("請求書の送信済み更新に失敗しました: %w", err)
	}
	inv.Status = model.InvoiceStatusSent
	inv.SentAt = &sentAt

	s.logger.Info("invoice sent",
		slog.String("user_id", userID),
		slog.String("invoice_id", inv.ID),
	)
	return inv, nil
}

// Get はテナントが所有する請求書を返す。
func (s *Service) Get(ctx context.Context, userID, id string) (*model.Invoice, error) {
	inv, err := s.repo.FindByID(ctx, userID, id)
	if err != nil {
		return nil, fmt.Errorf("請求書の取得に失敗しました: %w", err)
	}
	if inv == nil {
		return nil, model.NewInvoiceNotFoundError(id)
	}
	return inv, nil
}

// List はテナントの請求書一覧を返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Invoice, error) {
	invoices, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("請求書一覧の取得に失敗しました: %w", err)
	}
	return invoices, nil
}

// renderBody はメール本文のプレーンテキストを組み立てる。
func renderBody(inv *model.Invoice, c *model.Client) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\n", c.Name)
	fmt.Fprintf(&b, "Invoice: %s\n", inv.InvoiceNumber)
	fmt.Fprintf(&b, "Amount due: %s %s\n", inv.Currency, FormatAmount(inv.Total))
	fmt.Fprintf(&b, "Issue date: %s\n", inv.IssueDate.Format("2006-01-02"))
	fmt.Fprintf(&b, "Due date: %s\n", inv.DueDate.Format("2006-01-02"))
	if inv.Notes != "" {
		fmt.Fprintf(&b, "\n%s\n", inv.Notes)
	}
	return b.String()
}

// FormatAmount は最小単位の金額を小数点以下2桁の文字列にする。
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}
