package report

import (
	"context"
	"fmt"

	"jobpilot/internal/common/config"
	"jobpilot/internal/common/logger"
	"jobpilot/internal/models"
)

// EmailSender is satisfied by the SES client.
type EmailSender interface {
	SendText(ctx context.Context, from, to, subject, body string) error
}

// SMSSender is satisfied by the SNS client.
type SMSSender interface {
	SendSMS(ctx context.Context, phoneNumber, message string) error
}

// EmailReporter mails the run summary to the operator. Per-application
// records are not mailed, only the final digest.
type EmailReporter struct {
	sender EmailSender
	from   string
	to     string
}

func NewEmailReporter(sender EmailSender, cfg config.NotificationConfig) *EmailReporter {
	return &EmailReporter{
		sender: sender,
		from:   cfg.Email.FromEmail,
		to:     cfg.Email.ToEmail,
	}
}

func (r *EmailReporter) Publish(ctx context.Context, rec *models.ApplicationRecord) error {
	return nil
}

func (r *EmailReporter) Summarize(ctx context.Context, summary *models.RunSummary) error {
	subject := fmt.Sprintf("Application run %s: %d applied, %d failed",
		summary.RunID, summary.Applied, summary.Failed)
	return r.sender.SendText(ctx, r.from, r.to, subject, FormatSummary(summary))
}

// SMSAlerter texts the operator. The summary only goes out when something
// failed; Alert is for infrastructure faults that abort a run.
type SMSAlerter struct {
	sender SMSSender
	phone  string
	logger logger.Logger
}

func NewSMSAlerter(sender SMSSender, cfg config.NotificationConfig, log logger.Logger) *SMSAlerter {
	return &SMSAlerter{
		sender: sender,
		phone:  cfg.SMS.PhoneNumber,
		logger: log.WithFields(map[string]interface{}{"component": "smsAlerter"}),
	}
}

func (a *SMSAlerter) Publish(ctx context.Context, rec *models.ApplicationRecord) error {
	return nil
}

func (a *SMSAlerter) Summarize(ctx context.Context, summary *models.RunSummary) error {
	if summary.Failed == 0 {
		return nil
	}
	msg := fmt.Sprintf("Run %s finished with %d failures (%d applied)",
		summary.RunID, summary.Failed, summary.Applied)
	return a.sender.SendSMS(ctx, a.phone, msg)
}

// Alert sends an immediate out-of-band message about an aborted run.
func (a *SMSAlerter) Alert(ctx context.Context, message string) {
	if err := a.sender.SendSMS(ctx, a.phone, message); err != nil {
		a.logger.Warn("alert delivery failed", map[string]interface{}{"error": err.Error()})
	}
}
