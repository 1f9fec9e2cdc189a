package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"

	"github.com/sigweihq/companionpay/pkg/config"
	"github.com/sigweihq/companionpay/pkg/constants"
	"github.com/sigweihq/companionpay/pkg/utils"
	"gopkg.in/gomail.v2"
)

// PurchaseConfirmation is the payload of the purchase receipt message
type PurchaseConfirmation struct {
	RecipientEmail       string
	RecipientName        string
	CompanionName        string
	Amount               float64
	TransactionSignature string
	Network              string
}

// Notifier delivers purchase confirmations. Callers treat failures as
// non-fatal.
type Notifier interface {
	SendPurchaseConfirmation(ctx context.Context, msg PurchaseConfirmation) error
}

// Dialer is the part of gomail.Dialer the SMTP notifier uses
type Dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type SMTPNotifier struct {
	from   string
	dialer Dialer
	logger *slog.Logger
}

// NewSMTPNotifier returns a gomail-backed notifier
func NewSMTPNotifier(cfg config.SMTPConfig, logger *slog.Logger) *SMTPNotifier {
	return NewSMTPNotifierWithDialer(cfg.From, gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), logger)
}

func NewSMTPNotifierWithDialer(from string, dialer Dialer, logger *slog.Logger) *SMTPNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPNotifier{from: from, dialer: dialer, logger: logger}
}

func (n *SMTPNotifier) SendPurchaseConfirmation(ctx context.Context, msg PurchaseConfirmation) error {
	if msg.RecipientEmail == "" {
		return fmt.Errorf("no recipient email for purchase confirmation")
	}
	body, err := renderConfirmation(msg)
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", msg.RecipientEmail)
	m.SetHeader("Subject", fmt.Sprintf("You unlocked %s", msg.CompanionName))
	m.SetBody("text/html", body)

	// gomail has no context support; give up early if the caller already has
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := n.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send purchase confirmation: %w", err)
	}
	n.logger.Debug("purchase confirmation sent", "signature", msg.TransactionSignature)
	return nil
}

// LogNotifier only logs. Used when SMTP is not configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendPurchaseConfirmation(_ context.Context, msg PurchaseConfirmation) error {
	n.logger.Info("purchase confirmation",
		"recipient", msg.RecipientEmail,
		"companion", msg.CompanionName,
		"amount", msg.Amount,
		"signature", msg.TransactionSignature,
	)
	return nil
}

// FromConfig picks the SMTP notifier when a host is configured
func FromConfig(cfg config.SMTPConfig, logger *slog.Logger) Notifier {
	if cfg.Host == "" {
		return NewLogNotifier(logger)
	}
	return NewSMTPNotifier(cfg, logger)
}

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<p>Hi {{.Name}},</p>
<p>Your payment of {{.Amount}} SOL was verified and your chat with <strong>{{.Companion}}</strong> is unlocked.</p>
<p>Transaction: <a href="{{.ExplorerURL}}">{{.Signature}}</a></p>`))

func renderConfirmation(msg PurchaseConfirmation) (string, error) {
	name := msg.RecipientName
	if name == "" {
		name = "there"
	}
	network := msg.Network
	if network == "" {
		network = constants.NetworkSolana
	}
	var buf bytes.Buffer
	err := confirmationTemplate.Execute(&buf, map[string]any{
		"Name":        name,
		"Amount":      fmt.Sprintf("%.4f", msg.Amount),
		"Companion":   msg.CompanionName,
		"Signature":   msg.TransactionSignature,
		"ExplorerURL": utils.ExplorerURL(network, msg.TransactionSignature),
	})
	if err != nil {
		return "", fmt.Errorf("render purchase confirmation: %w", err)
	}
	return buf.String(), nil
}
