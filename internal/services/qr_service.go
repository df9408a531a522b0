package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/campuspay/backend/internal/models"
	"github.com/go-redis/redis/v8"
	"github.com/skip2/go-qrcode"
)

// QRService issues short-lived QR passes so a student who forgot their
// card can still pay at the till. A pass names the account only, never
// an amount; the cashier rings up the cart as usual. Passes are
// single-use and expire after five minutes.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewQRService(db *sql.DB, redis *redis.Client) *QRService {
	return &QRService{
		db:    db,
		redis: redis,
	}
}

// ErrPassServiceDown is returned when Redis is unavailable. Passes are
// single-use and Redis is the only place that records a burn, so the
// feature stays off rather than handing out replayable passes.
var ErrPassServiceDown = errors.New("pass service unavailable")

func (s *QRService) GeneratePass(ctx context.Context, accountID string) (string, string, error) {
	if s.redis == nil {
		return "", "", ErrPassServiceDown
	}

	var accountName, status string
	err := s.db.QueryRowContext(ctx, `
		SELECT account_name, status FROM accounts WHERE account_id = $1`,
		accountID).Scan(&accountName, &status)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("account not found")
	}
	if err != nil {
		return "", "", err
	}
	if status != models.AccountStatusActive {
		return "", "", fmt.Errorf("account is not active")
	}

	passData := map[string]any{
		"accountId":   accountID,
		"accountName": accountName,
		"timestamp":   time.Now().Unix(),
		"nonce":       s.generateNonce(),
	}

	jsonData, err := json.Marshal(passData)
	if err != nil {
		return "", "", err
	}

	pass := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("qrpass:%s", pass)
	if err := s.redis.Set(ctx, key, jsonData, 5*time.Minute).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(pass, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	qrImage := base64.StdEncoding.EncodeToString(buf.Bytes())

	return pass, qrImage, nil
}

// RedeemPass resolves a scanned pass to its account and burns it, so a
// screenshot cannot be replayed at a second till. GETDEL makes the
// lookup and the burn one command; two tills scanning the same pass
// cannot both win.
func (s *QRService) RedeemPass(ctx context.Context, pass string) (map[string]any, error) {
	if s.redis == nil {
		return nil, ErrPassServiceDown
	}

	key := fmt.Sprintf("qrpass:%s", pass)

	data, err := s.redis.GetDel(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired pass")
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *QRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
