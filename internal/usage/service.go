package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/invoiceman/internal/metrics"
	"github.com/hitoshi/invoiceman/internal/model"
)

// UserFinder はテナントのプラン区分を取得するためのインターフェース。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// GuardedFunc は上限判定を通過した場合にのみ実行される業務書き込み。
type GuardedFunc func(ctx context.Context) error

// Report はテナントの利用状況と作成可否をまとめたもの。
// 上限なしのLimitは-1で表す。
type Report struct {
	IsPro            bool       `json:"isPro"`
	CanCreateClient  bool       `json:"canCreateClient"`
	CanCreateInvoice bool       `json:"canCreateInvoice"`
	CanSendEmail     bool       `json:"canSendEmail"`
	ClientsUsed      int        `json:"clientsUsed"`
	InvoicesUsed     int        `json:"invoicesUsed"`
	EmailsUsed       int        `json:"emailsUsed"`
	ClientsLimit     int        `json:"clientsLimit"`
	InvoicesLimit    int        `json:"invoicesLimit"`
	EmailsLimit      int        `json:"emailsLimit"`
	ResetAt          *time.Time `json:"resetAt,omitempty"`
}

// Service はプランの上限判定と利用量の記録を行う。
type Service struct {
	users   UserFinder
	ledger  *Ledger
	metrics metrics.MetricsCollector
	logger  *slog.Logger
	now     func() time.Time
}

// NewService はServiceを生成する。
func NewService(users UserFinder, ledger *Ledger, collector metrics.MetricsCollector, logger *slog.Logger) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:   users,
		ledger:  ledger,
		metrics: collector,
		logger:  logger,
		now:     ledger.now,
	}
}

// CheckAndConsume は上限を判定し、許可された場合のみguardedを実行してからカウンターを加算する。
// 上限に達している場合はQUOTA_EXCEEDEDのAPIErrorを返し、guardedは実行しない。
// guarded成功後の加算失敗はログに記録するのみで、エラーとしては返さない。
func (s *Service) CheckAndConsume(ctx context.Context, userID string, counter model.Counter, guarded GuardedFunc) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	if _, err := s.ledger.ResetIfDue(ctx, userID); err != nil {
		return err
	}
	ledger, err := s.ledger.Get(ctx, userID)
	if err != nil {
		return err
	}

	limit := LimitFor(user.PlanTier, counter)
	allowed := limit.Allows(ledger.Count(counter))
	s.metrics.RecordQuotaDecision(string(counter), allowed)
	if !allowed {
		s.logger.Info("quota exceeded",
			slog.String("user_id", userID),
			slog.String("counter", string(counter)),
			slog.Int("limit", limit.Max),
		)
		return model.NewQuotaExceededError(counter, limit.Max)
	}

	if err := guarded(ctx); err != nil {
		return err
	}

	if err := s.ledger.Increment(ctx, userID, counter); err != nil {
		s.logger.Warn("failed to record usage after guarded write",
			slog.String("user_id", userID),
			slog.String("counter", string(counter)),
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// CheckUsageLimits はテナントの利用状況を返す。
// resetAtを過ぎた台帳は書き込みを行わずに0件として報告する。
func (s *Service) CheckUsageLimits(ctx context.Context, userID string) (*Report, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	ledger, err := s.ledger.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	report := &Report{IsPro: user.IsPro()}
	if ledger != nil {
		resetAt := ledger.ResetAt
		if now := s.now(); !now.Before(ledger.ResetAt) {
			resetAt = NextResetAt(now)
			ledger = nil
		}
		report.ResetAt = &resetAt
	}

	report.CanCreateClient = CanCreateClient(user.PlanTier, ledger)
	report.CanCreateInvoice = CanCreateInvoice(user.PlanTier, ledger)
	report.CanSendEmail = CanSendEmail(user.PlanTier, ledger)
	report.ClientsUsed = ledger.Count(model.CounterClients)
	report.InvoicesUsed = ledger.Count(model.CounterInvoices)
	report.EmailsUsed = ledger.Count(model.CounterEmails)
	report.ClientsLimit = reportedLimit(user.PlanTier, model.CounterClients)
	report.InvoicesLimit = reportedLimit(user.PlanTier, model.CounterInvoices)
	report.EmailsLimit = reportedLimit(user.PlanTier, model.CounterEmails)
	return report, nil
}

func reportedLimit(tier model.PlanTier, counter model.Counter) int {
	limit := LimitFor(tier, counter)
	if limit.Unlimited {
		return -1
	}
	return limit.Max
}
