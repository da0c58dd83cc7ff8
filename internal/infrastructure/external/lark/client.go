package lark

import (
	"context"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// Config holds Lark app credentials and the notification target
type Config struct {
	AppID     string
	AppSecret string
	// ReceiveIDType is chat_id, open_id, user_id or email
	ReceiveIDType string
	ReceiveID     string
}

// MessageSender sends one Lark message and returns its ID
type MessageSender interface {
	SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error)
}

// APIError is a non-zero code in an otherwise delivered Lark response
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lark api: code=%d msg=%s", e.Code, e.Msg)
}

// Client posts IM messages as the app bot
type Client struct {
	im     *lark.Client
	logger *zap.Logger
}

// NewClient builds the SDK client. Tenant tokens are cached by the SDK.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	sdk := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithEnableTokenCache(true),
		lark.WithLogLevel(larkcore.LogLevelWarn),
	)
	return &Client{im: sdk, logger: logger.Named("lark")}
}

func (c *Client) SendMessage(ctx context.Context, receiveIDType, receiveID, msgType, content string) (string, error) {
	body := larkim.NewCreateMessageReqBodyBuilder().
		ReceiveId(receiveID).
		MsgType(msgType).
		Content(content).
		Build()
	req := larkim.NewCreateMessageReqBuilder().ReceiveIdType(receiveIDType).Body(body).Build()

	log := c.logger.With(zap.String("receive_id", receiveID), zap.String("msg_type", msgType))

	resp, err := c.im.Im.Message.Create(ctx, req)
	if err != nil {
		log.Error("Lark message not delivered", zap.Error(err))
		return "", fmt.Errorf("send lark message: %w", err)
	}
	if !resp.Success() {
		apiErr := &APIError{Code: resp.Code, Msg: resp.Msg}
		log.Error("Lark rejected message", zap.Int("code", apiErr.Code), zap.String("msg", apiErr.Msg))
		return "", apiErr
	}

	var id string
	if resp.Data != nil && resp.Data.MessageId != nil {
		id = *resp.Data.MessageId
	}
	log.Debug("Lark message sent", zap.String("message_id", id))
	return id, nil
}

var _ MessageSender = (*Client)(nil)
