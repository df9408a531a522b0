package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/campuspay/backend/internal/config"
	"github.com/go-redis/redis/v8"
)

// LinkCode is a short numeric code the school hands to a guardian so the
// parent portal account can be attached to a student's canteen account.
// Only the sha256-iterated hash is stored; the plain code exists once,
// on the slip printed at the admin desk.
type LinkCode struct {
	AccountID string    `json:"accountId"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Expired   bool      `json:"expired"`
	Used      bool      `json:"used"`
}

type LinkCodeService struct {
	db     *sql.DB
	redis  *redis.Client
	config *config.LinkCodeConfig
}

func NewLinkCodeService(db *sql.DB, redis *redis.Client) *LinkCodeService {
	return &LinkCodeService{
		db:     db,
		redis:  redis,
		config: config.LoadLinkCodeConfig(),
	}
}

func (s *LinkCodeService) GenerateCode(ctx context.Context, actorID, accountID string) (string, time.Time, error) {
	log.Printf("[LINK] GenerateCode - actor: %s, account: %s", actorID, accountID)

	if err := s.checkRateLimit(ctx, actorID); err != nil {
		log.Printf("[LINK] GenerateCode - rate limit: %v", err)
		return "", time.Time{}, err
	}

	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM accounts WHERE account_id = $1`, accountID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", time.Time{}, errors.New("account not found")
	}
	if err != nil {
		return "", time.Time{}, err
	}

	code := s.generateSecureCode()
	hashedCode := s.hashCode(code)
	expiresAt := time.Now().Add(s.config.CodeTimeout)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO link_codes (code_hash, account_id, expires_at, used, created_at)
		VALUES ($1, $2, $3, false, $4)
	`, hashedCode, accountID, expiresAt, time.Now())

	if err != nil {
		log.Printf("[LINK] GenerateCode - DB insert error: %v", err)
		return "", time.Time{}, fmt.Errorf("failed to store code: %w", err)
	}

	s.incrementRateLimit(ctx, actorID)

	return code, expiresAt, nil
}

// RedeemCode consumes a link code and attaches the parent's login to the
// student account. The row lock keeps two parents from burning the same
// code.
func (s *LinkCodeService) RedeemCode(ctx context.Context, code, parentUserID string) (string, error) {
	hashedCode := s.hashCode(code)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var accountID string
	var expiresAt time.Time
	var used bool
	err = tx.QueryRowContext(ctx, `
		SELECT account_id, expires_at, used
		FROM link_codes
		WHERE code_hash = $1
		FOR UPDATE
	`, hashedCode).Scan(&accountID, &expiresAt, &used)

	if err == sql.ErrNoRows {
		return "", errors.New("invalid code")
	}
	if err != nil {
		return "", err
	}

	if used {
		return "", errors.New("code already used")
	}

	if time.Now().After(expiresAt) {
		return "", errors.New("code expired")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE link_codes
		SET used = true, used_at = $1
		WHERE code_hash = $2
	`, time.Now(), hashedCode)
	if err != nil {
		return "", err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO account_parents (account_id, parent_user_id, linked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (account_id, parent_user_id) DO NOTHING
	`, accountID, parentUserID, time.Now())
	if err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	return accountID, nil
}

// LinkedAccounts returns the student accounts attached to a parent login.
func (s *LinkCodeService) LinkedAccounts(ctx context.Context, parentUserID string) ([]map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.account_id, a.account_name, a.balance, a.status
		FROM account_parents ap
		JOIN accounts a ON a.account_id = ap.account_id
		WHERE ap.parent_user_id = $1
		ORDER BY a.account_name
	`, parentUserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []map[string]any
	for rows.Next() {
		var accountID, accountName, status string
		var balance int64
		if err := rows.Scan(&accountID, &accountName, &balance, &status); err != nil {
			return nil, err
		}
		accounts = append(accounts, map[string]any{
			"accountId":   accountID,
			"accountName": accountName,
			"balance":     balance,
			"status":      status,
		})
	}

	return accounts, rows.Err()
}

func (s *LinkCodeService) generateSecureCode() string {
	const charset = "0123456789"
	code := make([]byte, s.config.CodeLength)
	charsetLen := big.NewInt(int64(len(charset)))

	for i := range code {
		n, _ := rand.Int(rand.Reader, charsetLen)
		code[i] = charset[n.Int64()]
	}

	return string(code)
}

func (s *LinkCodeService) hashCode(code string) string {
	hash := sha256.Sum256([]byte(code))
	for i := 1; i < s.config.HashIterations; i++ {
		hash = sha256.Sum256(hash[:])
	}
	return hex.EncodeToString(hash[:])
}

func (s *LinkCodeService) checkRateLimit(ctx context.Context, actorID string) error {
	if s.redis == nil {
		log.Printf("[LINK] Redis unavailable, skipping rate limit for actor %s", actorID)
		return nil
	}

	key := fmt.Sprintf("link:ratelimit:%s", actorID)
	count, err := s.redis.Get(ctx, key).Int()
	if err != nil && err != redis.Nil {
		return err
	}

	if count >= s.config.MaxGenerationPerUser {
		return errors.New("rate limit exceeded")
	}

	return nil
}

func (s *LinkCodeService) incrementRateLimit(ctx context.Context, actorID string) {
	if s.redis == nil {
		return
	}

	key := fmt.Sprintf("link:ratelimit:%s", actorID)
	pipe := s.redis.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.RateLimitWindow)
	pipe.Exec(ctx)
}

func (s *LinkCodeService) CleanupExpiredCodes(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM link_codes
		WHERE expires_at < $1 OR (used = true AND used_at < $2)
	`, time.Now(), time.Now().Add(-24*time.Hour))
	return err
}

func (s *LinkCodeService) GetCodeTimeout() time.Duration {
	return s.config.CodeTimeout
}
