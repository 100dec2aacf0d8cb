package services

import (
	"bytes"
	"context"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	texttemplate "text/template"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/BradenHooton/estateguard/internal/models"
	pkglogger "github.com/BradenHooton/estateguard/pkg/logger"
)

// EmailSender dispatches the security emails
type EmailSender interface {
	SendOTP(ctx context.Context, email, code, purpose string, expiresAt time.Time) error
	SendAccountLocked(ctx context.Context, email string, unlockAt time.Time) error
	SendAttackAlert(ctx context.Context, email, lockLink string, expiresAt time.Time) error
}

// Template kinds
const (
	templateOTP           = "otp"
	templateAccountLocked = "account_locked"
	templateAttackAlert   = "attack_alert"
)

type emailTemplate struct {
	subject string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

const htmlLayout = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
<div style="max-width: 600px; margin: 0 auto; padding: 20px;">
{{template "body" .}}
<p style="color: #666; font-size: 12px; border-top: 1px solid #eee; padding-top: 20px;">This is an automated message. Please do not reply to this email.</p>
</div>
</body>
</html>`

var emailTemplates = map[string]emailTemplate{
	templateOTP: mustTemplate("Your verification code",
		`{{define "body"}}<h1>Your verification code</h1>
<p style="font-size: 28px; letter-spacing: 6px;"><strong>{{.Code}}</strong></p>
<p>Use this code to continue with {{.Purpose}}. It expires at {{.ExpiresAt}}.</p>
<p>If you did not request this code, you can ignore this email.</p>{{end}}`,
		`Your verification code: {{.Code}}

Use this code to continue with {{.Purpose}}. It expires at {{.ExpiresAt}}.
If you did not request this code, you can ignore this email.
`),
	templateAccountLocked: mustTemplate("Your account has been temporarily locked",
		`{{define "body"}}<h1>Account temporarily locked</h1>
<p>We locked your account after several failed sign-in attempts.</p>
<p>You can try again after {{.UnlockAt}}. If this was not you, reset your password once the lock lifts.</p>{{end}}`,
		`Account temporarily locked

We locked your account after several failed sign-in attempts.
You can try again after {{.UnlockAt}}. If this was not you, reset your password once the lock lifts.
`),
	templateAttackAlert: mustTemplate("Security alert: repeated sign-in failures",
		`{{define "body"}}<h1>Repeated sign-in failures</h1>
<p>Someone is repeatedly failing to sign in to your administrator account.</p>
<p>If this was not you, lock the account now:</p>
<p><a href="{{.Link}}" style="display: inline-block; background-color: #cc0000; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px;">Lock my account</a></p>
<p>This link can be used once and expires at {{.ExpiresAt}}.</p>{{end}}`,
		`Repeated sign-in failures

Someone is repeatedly failing to sign in to your administrator account.
If this was not you, lock the account now:

{{.Link}}

This link can be used once and expires at {{.ExpiresAt}}.
`),
}

func mustTemplate(subject, htmlBody, textBody string) emailTemplate {
	h := htmltemplate.Must(htmltemplate.New("layout").Parse(htmlLayout))
	htmltemplate.Must(h.Parse(htmlBody))
	return emailTemplate{
		subject: subject,
		html:    h,
		text:    texttemplate.Must(texttemplate.New("text").Parse(textBody)),
	}
}

func renderEmail(kind string, data any) (subject, html, text string, err error) {
	tmpl, ok := emailTemplates[kind]
	if !ok {
		return "", "", "", fmt.Errorf("unknown email template %q", kind)
	}
	var hb, tb bytes.Buffer
	if err := tmpl.html.Execute(&hb, data); err != nil {
		return "", "", "", fmt.Errorf("render %s html: %w", kind, err)
	}
	if err := tmpl.text.Execute(&tb, data); err != nil {
		return "", "", "", fmt.Errorf("render %s text: %w", kind, err)
	}
	return tmpl.subject, hb.String(), tb.String(), nil
}

func formatEmailTime(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 15:04 MST")
}

// sesClient is the subset of the SES API used here
type sesClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESEmailSender sends emails using AWS SES
type SESEmailSender struct {
	client      sesClient
	fromAddress string
	timeout     time.Duration
	logger      *slog.Logger
}

// NewSESEmailSender loads the default AWS credential chain for region
func NewSESEmailSender(ctx context.Context, region, fromAddress string, timeout time.Duration, logger *slog.Logger) (*SESEmailSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newSESEmailSender(ses.NewFromConfig(cfg), fromAddress, timeout, logger), nil
}

func newSESEmailSender(client sesClient, fromAddress string, timeout time.Duration, logger *slog.Logger) *SESEmailSender {
	return &SESEmailSender{client: client, fromAddress: fromAddress, timeout: timeout, logger: logger}
}

func (s *SESEmailSender) SendOTP(ctx context.Context, email, code, purpose string, expiresAt time.Time) error {
	return s.send(ctx, email, templateOTP, map[string]string{
		"Code":      code,
		"Purpose":   purpose,
		"ExpiresAt": formatEmailTime(expiresAt),
	})
}

func (s *SESEmailSender) SendAccountLocked(ctx context.Context, email string, unlockAt time.Time) error {
	return s.send(ctx, email, templateAccountLocked, map[string]string{
		"UnlockAt": formatEmailTime(unlockAt),
	})
}

func (s *SESEmailSender) SendAttackAlert(ctx context.Context, email, lockLink string, expiresAt time.Time) error {
	return s.send(ctx, email, templateAttackAlert, map[string]string{
		"Link":      lockLink,
		"ExpiresAt": formatEmailTime(expiresAt),
	})
}

func (s *SESEmailSender) send(ctx context.Context, to, kind string, data any) error {
	subject, htmlBody, textBody, err := renderEmail(kind, data)
	if err != nil {
		return err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(htmlBody)},
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("template", kind),
			slog.String("email", pkglogger.SanitizedEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("%w: %v", models.ErrEmailDelivery, err)
	}

	s.logger.Info("email sent",
		slog.String("template", kind),
		slog.String("email", pkglogger.SanitizedEmail(to)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// LogEmailSender writes emails to the log instead of sending them.
// Development only: OTP codes end up in the log.
type LogEmailSender struct {
	logger *slog.Logger
}

func NewLogEmailSender(logger *slog.Logger) *LogEmailSender {
	return &LogEmailSender{logger: logger}
}

func (s *LogEmailSender) SendOTP(_ context.Context, email, code, purpose string, expiresAt time.Time) error {
	s.logger.Info("email (not sent)", slog.String("template", templateOTP), slog.String("to", email),
		slog.String("code", code), slog.String("purpose", purpose), slog.Time("expires_at", expiresAt))
	return nil
}

func (s *LogEmailSender) SendAccountLocked(_ context.Context, email string, unlockAt time.Time) error {
	s.logger.Info("email (not sent)", slog.String("template", templateAccountLocked), slog.String("to", email),
		slog.Time("unlock_at", unlockAt))
	return nil
}

func (s *LogEmailSender) SendAttackAlert(_ context.Context, email, lockLink string, expiresAt time.Time) error {
	s.logger.Info("email (not sent)", slog.String("template", templateAttackAlert), slog.String("to", email),
		slog.String("link", lockLink), slog.Time("expires_at", expiresAt))
	return nil
}
