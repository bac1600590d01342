package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joao-fontenele/orderflow-ledger/internal/alerting"
	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

const (
	AnomalyPercentageDelta = "PERCENTAGE_DELTA"
	AnomalyAbsoluteDelta   = "ABSOLUTE_DELTA"

	AlertStockAnomaly = "STOCK_ANOMALY"
	AlertLowStock     = "LOW_STOCK"
)

type Anomaly struct {
	Type     string            `json:"type"`
	Severity alerting.Severity `json:"severity"`
	Message  string            `json:"message"`
}

// AnomalyDetector flags stock changes that are large relative to the
// previous level or in absolute units. Alerts carry a per-product key so a
// throttled alerter limits them per product; detection results are returned
// regardless.
type AnomalyDetector struct {
	alerter alerting.Alerter
	logger  *slog.Logger
	now     func() time.Time

	PercentThreshold  float64
	AbsoluteThreshold int
}

func NewAnomalyDetector(alerter alerting.Alerter, logger *slog.Logger) *AnomalyDetector {
	return &AnomalyDetector{
		alerter:           alerter,
		logger:            logger,
		now:               time.Now,
		PercentThreshold:  50,
		AbsoluteThreshold: 100,
	}
}

func (d *AnomalyDetector) Check(ctx context.Context, productID string, oldStock, newStock int) []Anomaly {
	delta := newStock - oldStock
	if delta < 0 {
		delta = -delta
	}
	if delta == 0 {
		return nil
	}

	percent := 100.0
	if oldStock > 0 {
		percent = float64(delta) / float64(oldStock) * 100
	}

	var anomalies []Anomaly
	if percent > d.PercentThreshold {
		anomalies = append(anomalies, Anomaly{
			Type:     AnomalyPercentageDelta,
			Severity: alerting.SeverityHigh,
			Message:  fmt.Sprintf("stock changed by %.2f%%", percent),
		})
	}
	if delta > d.AbsoluteThreshold {
		anomalies = append(anomalies, Anomaly{
			Type:     AnomalyAbsoluteDelta,
			Severity: alerting.SeverityHigh,
			Message:  fmt.Sprintf("stock changed by %d units", delta),
		})
	}

	if len(anomalies) > 0 {
		d.raise(ctx, alerting.Alert{
			Type:     AlertStockAnomaly,
			Severity: alerting.SeverityHigh,
			Message:  fmt.Sprintf("unusual stock change on %s", productID),
			Key:      "stock-anomaly:" + productID,
			Details: map[string]any{
				"product_id": productID,
				"old_stock":  oldStock,
				"new_stock":  newStock,
				"anomalies":  anomalies,
			},
		})
	}

	return anomalies
}

// CheckLowStock alerts when the sellable stock of an active product, stock
// minus reservations, is at or below its threshold.
func (d *AnomalyDetector) CheckLowStock(ctx context.Context, product *domain.Product) bool {
	available := product.AvailableStock()
	if !product.IsActive || available > product.LowStockThreshold {
		return false
	}

	d.raise(ctx, alerting.Alert{
		Type:     AlertLowStock,
		Severity: alerting.SeverityWarning,
		Message:  fmt.Sprintf("low stock: %s - %d units available", product.Title, available),
		Key:      "low-stock:" + product.ID,
		Details: map[string]any{
			"product_id": product.ID,
			"stock":      product.Stock,
			"reserved":   product.ReservedCount,
			"available":  available,
			"threshold":  product.LowStockThreshold,
		},
	})
	return true
}

func (d *AnomalyDetector) raise(ctx context.Context, alert alerting.Alert) {
	d.logger.WarnContext(ctx, "stock alert", "type", alert.Type, "details", alert.Details)

	if err := d.alerter.Send(ctx, alerting.Stamp(alert, d.now())); err != nil {
		d.logger.ErrorContext(ctx, "failed to send stock alert", "error", err, "type", alert.Type)
	}
}
