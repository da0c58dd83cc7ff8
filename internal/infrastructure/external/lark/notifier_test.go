package lark

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

type mockSender struct {
	SendFunc func(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)

	idType, id, msgType, content string
}

func (m *mockSender) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	m.idType, m.id, m.msgType, m.content = receiveIDType, receiveID, msgType, content
	if m.SendFunc != nil {
		return m.SendFunc(ctx, receiveIDType, receiveID, msgType, content)
	}
	return "om_1", nil
}

func resultClaim() *claim.Claim {
	name := "Jane Doe"
	return &claim.Claim{ID: "c1", Status: workflow.StatusResult, PatientName: &name, CreatedAt: time.Now()}
}

func TestResultNotifier_NotifyResult(t *testing.T) {
	sender := &mockSender{}
	n := NewResultNotifier(sender, Config{ReceiveID: "oc_123"}, "https://board.example.com", zap.NewNop())

	require.NoError(t, n.NotifyResult(context.Background(), resultClaim()))

	assert.Equal(t, "chat_id", sender.idType)
	assert.Equal(t, "oc_123", sender.id)
	assert.Equal(t, "interactive", sender.msgType)

	var card map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(sender.content), &card))
	assert.Contains(t, sender.content, "Jane Doe")
	assert.Contains(t, sender.content, claim.Placeholder, "absent insurer renders as placeholder")
	assert.Contains(t, sender.content, "https://board.example.com")
}

func TestResultNotifier_Errors(t *testing.T) {
	t.Run("send failure", func(t *testing.T) {
		sender := &mockSender{SendFunc: func(context.Context, string, string, string, string) (string, error) {
			return "", errors.New("API error: code=99991663")
		}}
		n := NewResultNotifier(sender, Config{ReceiveIDType: "open_id", ReceiveID: "ou_1"}, "", zap.NewNop())

		err := n.NotifyResult(context.Background(), resultClaim())
		assert.ErrorContains(t, err, "99991663")
		assert.Equal(t, "open_id", sender.idType)
	})

	t.Run("no target", func(t *testing.T) {
		n := NewResultNotifier(&mockSender{}, Config{}, "", zap.NewNop())
		assert.Error(t, n.NotifyResult(context.Background(), resultClaim()))
	})

	t.Run("nil claim", func(t *testing.T) {
		n := NewResultNotifier(&mockSender{}, Config{ReceiveID: "oc_1"}, "", zap.NewNop())
		assert.Error(t, n.NotifyResult(context.Background(), nil))
	})
}
