// Package mailer は請求書メールの送信を提供する。
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// Message は送信するメール。本文はプレーンテキスト。
type Message struct {
	To      string
	Subject string
	Body    string
}

// Mailer はメール送信のインターフェース。
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SESAPI はSESクライアントのうちSendEmailのみを抽出したインターフェース。
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESMailer はAWS SESでメールを送信する。
type SESMailer struct {
	client SESAPI
	sender string
	logger *slog.Logger
}

// NewSESMailer はリージョンの既定の認証情報でSESMailerを生成する。
func NewSESMailer(ctx context.Context, region, sender string, logger *slog.Logger) (*SESMailer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return NewSESMailerWithClient(ses.NewFromConfig(cfg), sender, logger), nil
}

// NewSESMailerWithClient は任意のSESクライアントでSESMailerを生成する。
func NewSESMailerWithClient(client SESAPI, sender string, logger *slog.Logger) *SESMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SESMailer{client: client, sender: sender, logger: logger}
}

// Send はメールを送信する。
func (m *SESMailer) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}

	out, err := m.client.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: []string{msg.To}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
			},
		},
		Source: aws.String(m.sender),
	})
	if err != nil {
		return fmt.Errorf("failed to send email via ses: %w", err)
	}

	m.logger.Info("email sent",
		slog.String("to", msg.To),
		slog.String("message_id", aws.ToString(out.MessageId)),
	)
	return nil
}

// LogMailer は送信せずにログへ出力するMailer。SES未設定の環境で使う。
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer はLogMailerを生成する。
func NewLogMailer(logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{logger: logger}
}

// Send はメールの宛先と件名をログに出力する。
func (m *LogMailer) Send(_ context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	m.logger.Info("email delivery skipped (ses disabled)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}

func validate(msg Message) error {
	if msg.To == "" {
		return errors.New("recipient is required")
	}
	if msg.Subject == "" {
		return errors.New("subject is required")
	}
	return nil
}
