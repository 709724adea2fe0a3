// Package jobs contains the background worker: the asynq server, the task
// definitions and the low-stock scan that watches control_stock for oversold
// insumos.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeLowStockScan is the periodic control_stock scan.
	TaskTypeLowStockScan = "inventory:low_stock_scan"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// Mailer delivers a single message. The SMTP implementation lives in the
// worker binary; tests and local runs use the logging fallback.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SendEmailHandler returns the mail:send handler bound to mailer. A nil
// mailer degrades to logging the message, which is enough for local runs.
func SendEmailHandler(mailer Mailer, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var payload SendEmailPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		if mailer == nil {
			logger.Info("mail delivery skipped, no mailer configured",
				slog.String("to", payload.To),
				slog.String("subject", payload.Subject),
			)
			return nil
		}
		return mailer.Send(ctx, payload.To, payload.Subject, payload.Body)
	}
}

// LowStockScanPayload parameterises one scan run.
type LowStockScanPayload struct {
	// Threshold overrides the configured low-stock threshold when > 0.
	Threshold float64 `json:"threshold,omitempty"`
}

// NewLowStockScanTask constructs the periodic scan task.
func NewLowStockScanTask(payload LowStockScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeLowStockScan, data), nil
}
