// Package events publishes transfer outcomes to downstream consumers. The
// RabbitMQ publisher uses a topic exchange with routing keys such as
// "erc20.transfer.submitted"; the Redis publisher appends to a stream.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// 事件类型
const (
	TypeTransferSubmitted = "erc20.transfer.submitted"
	TypeTransferFailed    = "erc20.transfer.failed"
	TypeTransferDenied    = "erc20.transfer.denied"
)

// Event 是发布到消息总线的转账事件。
type Event struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	InvocationID string `json:"invocation_id"`
	TxHash       string `json:"tx_hash,omitempty"`
	Delegator    string `json:"delegator,omitempty"`
	To           string `json:"to"`
	Amount       string `json:"amount"`
	TokenAddress string `json:"token_address"`
	ChainID      int64  `json:"chain_id,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	Error        string `json:"error,omitempty"`
	OccurredAt   int64  `json:"occurred_at"`
}

// NewEvent 创建带有唯一 ID 与时间戳的事件。
func NewEvent(eventType, invocationID string) Event {
	return Event{
		ID:           uuid.NewString(),
		Type:         eventType,
		InvocationID: invocationID,
		OccurredAt:   time.Now().UnixMilli(),
	}
}

// Encode 序列化事件。
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
