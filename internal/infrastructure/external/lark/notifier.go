package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/application/port"
	"github.com/garyjia/overturn/internal/domain/claim"
)

// ResultNotifier posts a card to a Lark chat when a claim reaches the result stage
type ResultNotifier struct {
	sender        MessageSender
	receiveIDType string
	receiveID     string
	boardURL      string
	logger        *zap.Logger
}

// NewResultNotifier creates a notifier. boardURL, when set, adds a link button.
func NewResultNotifier(sender MessageSender, cfg Config, boardURL string, logger *zap.Logger) *ResultNotifier {
	idType := cfg.ReceiveIDType
	if idType == "" {
		idType = "chat_id"
	}
	return &ResultNotifier{
		sender:        sender,
		receiveIDType: idType,
		receiveID:     cfg.ReceiveID,
		boardURL:      boardURL,
		logger:        logger,
	}
}

// NotifyResult sends the claim card
func (n *ResultNotifier) NotifyResult(ctx context.Context, c *claim.Claim) error {
	if c == nil {
		return errors.New("claim cannot be nil")
	}
	if n.receiveID == "" {
		return errors.New("lark receive id is not configured")
	}

	card, err := json.Marshal(n.buildCard(c))
	if err != nil {
		return fmt.Errorf("failed to marshal card content: %w", err)
	}

	if _, err := n.sender.SendMessage(ctx, n.receiveIDType, n.receiveID, "interactive", string(card)); err != nil {
		return fmt.Errorf("failed to send result card: %w", err)
	}
	n.logger.Info("Result notification sent", zap.String("claim_id", c.ID))
	return nil
}

func (n *ResultNotifier) buildCard(c *claim.Claim) map[string]interface{} {
	d := c.Display()

	fields := []map[string]interface{}{
		cardField("Patient", d.PatientName),
		cardField("Insurer", d.Insurer),
		cardField("Denial date", d.DenialDate),
		cardField("Claim", d.ID),
	}

	elements := []interface{}{
		map[string]interface{}{
			"tag":    "div",
			"fields": fields,
		},
	}
	if n.boardURL != "" {
		elements = append(elements, map[string]interface{}{
			"tag": "action",
			"actions": []interface{}{
				map[string]interface{}{
					"tag":  "button",
					"text": map[string]interface{}{"tag": "plain_text", "content": "Open board"},
					"type": "primary",
					"url":  n.boardURL,
				},
			},
		})
	}

	return map[string]interface{}{
		"config": map[string]interface{}{"wide_screen_mode": true},
		"header": map[string]interface{}{
			"template": "green",
			"title":    map[string]interface{}{"tag": "plain_text", "content": "Appeal reached a result"},
		},
		"elements": elements,
	}
}

func cardField(label, value string) map[string]interface{} {
	return map[string]interface{}{
		"is_short": true,
		"text": map[string]interface{}{
			"tag":     "lark_md",
			"content": fmt.Sprintf("**%s**\n%s", label, value),
		},
	}
}

var _ port.Notifier = (*ResultNotifier)(nil)
