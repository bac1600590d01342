// Package worker turns order and shipment events into customer emails.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/joao-fontenele/orderflow-ledger/internal/domain"
)

type NotificationHandler struct {
	emailServiceURL string
	httpClient      *http.Client
	logger          *slog.Logger
}

func NewNotificationHandler(emailServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		emailServiceURL: strings.TrimSuffix(emailServiceURL, "/"),
		httpClient:      client,
		logger:          logger,
	}
}

type emailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (h *NotificationHandler) HandleOrderConfirmed(ctx context.Context, payload []byte) error {
	var event domain.OrderConfirmedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal order confirmed event: %w", err)
	}

	h.logger.InfoContext(ctx, "processing order confirmed event", "order_id", event.OrderID, "user_id", event.UserID)

	var body strings.Builder
	fmt.Fprintf(&body, "Your order %s has been confirmed.\n\n", event.OrderID)
	for _, item := range event.Items {
		fmt.Fprintf(&body, "  %d x %s @ %s\n", item.Quantity, item.Title, item.Price.StringFixed(2))
	}
	fmt.Fprintf(&body, "\nTotal: %s\n", event.Total.StringFixed(2))
	if event.Tracking != "" {
		fmt.Fprintf(&body, "Tracking number: %s\n", event.Tracking)
	}

	if err := h.sendEmail(ctx, emailMessage{
		To:      recipient(event.UserID),
		Subject: "Order Confirmation: " + event.OrderID,
		Body:    body.String(),
	}); err != nil {
		h.logger.ErrorContext(ctx, "failed to send confirmation email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send confirmation email: %w", err)
	}

	h.logger.InfoContext(ctx, "confirmation email sent", "order_id", event.OrderID)
	return nil
}

func (h *NotificationHandler) HandleShipmentUpdated(ctx context.Context, payload []byte) error {
	var event domain.ShipmentUpdatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("unmarshal shipment updated event: %w", err)
	}

	subject, ok := shipmentSubjects[event.Status]
	if !ok {
		h.logger.DebugContext(ctx, "no email for shipment status", "order_id", event.OrderID, "status", event.Status)
		return nil
	}

	body := fmt.Sprintf("Shipment %s for order %s is now %s", event.TrackingNumber, event.OrderID, strings.ReplaceAll(string(event.Status), "_", " "))
	if event.Location != "" {
		body += " (" + event.Location + ")"
	}

	if err := h.sendEmail(ctx, emailMessage{
		To:      recipient(event.UserID),
		Subject: subject + ": " + event.OrderID,
		Body:    body + ".",
	}); err != nil {
		h.logger.ErrorContext(ctx, "failed to send shipment email", "error", err, "order_id", event.OrderID)
		return fmt.Errorf("send shipment email: %w", err)
	}

	h.logger.InfoContext(ctx, "shipment email sent", "order_id", event.OrderID, "status", event.Status)
	return nil
}

// Routine scans are not worth an email.
var shipmentSubjects = map[domain.ShipmentStatus]string{
	domain.ShipmentStatusInTransit:      "Your order has shipped",
	domain.ShipmentStatusOutForDelivery: "Out for delivery",
	domain.ShipmentStatusDelivered:      "Delivered",
	domain.ShipmentStatusException:      "Delivery problem",
}

func recipient(userID string) string {
	return userID + "@example.com"
}

func (h *NotificationHandler) sendEmail(ctx context.Context, msg emailMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.emailServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	return nil
}
