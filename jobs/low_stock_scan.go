package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/alen95ae/stellarmotion-sub005/internal/inventory"
)

// ResourceLister is the slice of the inventory store the scan needs.
type ResourceLister interface {
	ListResources(ctx context.Context) ([]inventory.Resource, error)
}

// AlertSink receives the scan's findings. The worker wires it to the mail
// queue; tests capture the payloads.
type AlertSink interface {
	EnqueueSendEmail(ctx context.Context, payload SendEmailPayload) (*asynq.TaskInfo, error)
}

// LowStockScanJob walks control_stock across all insumos and reports variant
// keys at or below the threshold. The engine deliberately allows negative
// stock, so this scan is how oversell becomes visible.
type LowStockScanJob struct {
	Store     ResourceLister
	Logger    *slog.Logger
	Threshold float64
	Alerts    AlertSink
	Recipient string
	clock     func() time.Time
}

// NewLowStockScanJob initialises the scan handler.
func NewLowStockScanJob(store ResourceLister, logger *slog.Logger, threshold float64, alerts AlertSink, recipient string) *LowStockScanJob {
	return &LowStockScanJob{
		Store:     store,
		Logger:    logger,
		Threshold: threshold,
		Alerts:    alerts,
		Recipient: recipient,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type lowStockFinding struct {
	Code       string
	Name       string
	VariantKey string
	Stock      float64
}

// Handle executes one scan run.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	threshold := j.Threshold
	if payload.Threshold > 0 {
		threshold = payload.Threshold
	}

	start := j.now()
	logger := j.logger().With(slog.Float64("threshold", threshold))
	logger.Info("starting low stock scan")

	findings, scanned, err := j.scan(ctx, threshold)
	if err != nil {
		logger.Error("scan failed", slog.Any("error", err))
		return err
	}

	for _, f := range findings {
		logger.Warn("low stock",
			slog.String("codigo", f.Code),
			slog.String("recurso", f.Name),
			slog.String("variant_key", f.VariantKey),
			slog.Float64("stock", f.Stock),
		)
	}

	if len(findings) > 0 && j.Alerts != nil && j.Recipient != "" {
		if _, err := j.Alerts.EnqueueSendEmail(ctx, SendEmailPayload{
			To:      j.Recipient,
			Subject: fmt.Sprintf("Stock bajo: %d insumos por debajo de %.2f", len(findings), threshold),
			Body:    formatFindings(findings, threshold),
		}); err != nil {
			logger.Error("alert enqueue failed", slog.Any("error", err))
		}
	}

	logger.Info("completed low stock scan",
		slog.Int("resources", scanned),
		slog.Int("findings", len(findings)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *LowStockScanJob) scan(ctx context.Context, threshold float64) ([]lowStockFinding, int, error) {
	if j.Store == nil {
		return nil, 0, errors.New("low stock scan: store not configured")
	}
	resources, err := j.Store.ListResources(ctx)
	if err != nil {
		return nil, 0, err
	}
	var findings []lowStockFinding
	scanned := 0
	for _, res := range resources {
		if res.Category != inventory.CategorySupplies {
			continue
		}
		scanned++
		for key, variant := range res.ControlStock {
			if variant.Stock > threshold {
				continue
			}
			findings = append(findings, lowStockFinding{
				Code:       res.Code,
				Name:       res.Name,
				VariantKey: key,
				Stock:      variant.Stock,
			})
		}
	}
	sort.Slice(findings, func(a, b int) bool {
		if findings[a].Stock != findings[b].Stock {
			return findings[a].Stock < findings[b].Stock
		}
		return findings[a].Code < findings[b].Code
	})
	return findings, scanned, nil
}

func formatFindings(findings []lowStockFinding, threshold float64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Insumos con stock <= %.2f:\n\n", threshold)
	for _, f := range findings {
		fmt.Fprintf(&sb, "- %s (%s) [%s]: %.2f\n", f.Name, f.Code, f.VariantKey, f.Stock)
	}
	return sb.String()
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeLowStockScan))
	}
	return slog.Default().With(slog.String("job", TaskTypeLowStockScan))
}

func (j *LowStockScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
