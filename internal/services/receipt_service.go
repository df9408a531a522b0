package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/campuspay/backend/internal/models"
	"github.com/go-redis/redis/v8"
)

const receiptQueue = "receipt_queue"

// ReceiptNotifier pushes receipt and confirmation payloads onto a Redis
// queue consumed by the mailer. Everything here runs after the financial
// commit and is best-effort: a queue failure is logged, never returned.
type ReceiptNotifier struct {
	redis *redis.Client
}

func NewReceiptNotifier(redisClient *redis.Client) *ReceiptNotifier {
	return &ReceiptNotifier{redis: redisClient}
}

type ReceiptMessage struct {
	Kind      string            `json:"kind"` // SALE, REFUND, TOPUP
	AccountID string            `json:"accountId"`
	SaleID    string            `json:"saleId,omitempty"`
	Amount    int64             `json:"amount"`
	Lines     []models.SaleLine `json:"lines,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

func (n *ReceiptNotifier) SaleReceipt(sale models.Sale) {
	n.enqueue(ReceiptMessage{
		Kind:      "SALE",
		AccountID: sale.AccountID,
		SaleID:    sale.ID,
		Amount:    sale.Total,
		Lines:     sale.Lines,
		CreatedAt: time.Now(),
	})
}

func (n *ReceiptNotifier) RefundNotice(accountID, saleID string, amount int64) {
	n.enqueue(ReceiptMessage{
		Kind:      "REFUND",
		AccountID: accountID,
		SaleID:    saleID,
		Amount:    amount,
		CreatedAt: time.Now(),
	})
}

func (n *ReceiptNotifier) TopUpConfirmation(accountID string, amount int64) {
	n.enqueue(ReceiptMessage{
		Kind:      "TOPUP",
		AccountID: accountID,
		Amount:    amount,
		CreatedAt: time.Now(),
	})
}

func (n *ReceiptNotifier) enqueue(msg ReceiptMessage) {
	if n.redis == nil {
		log.Printf("[RECEIPT] Redis unavailable, dropping %s notification for account %s", msg.Kind, msg.AccountID)
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[RECEIPT] Failed to marshal %s notification: %v", msg.Kind, err)
		return
	}

	if err := n.redis.RPush(context.Background(), receiptQueue, string(data)).Err(); err != nil {
		log.Printf("[RECEIPT] Failed to queue %s notification for account %s: %v", msg.Kind, msg.AccountID, err)
	}
}
