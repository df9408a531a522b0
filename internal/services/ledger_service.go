package services

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/campuspay/backend/internal/audit"
	"github.com/campuspay/backend/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// LedgerService applies the financial operations - checkout, void and
// top-up - against the canteen ledger. Every operation runs as one
// database transaction with row locks taken in a fixed order
// (sale, then account) so concurrent cashier terminals serialize
// instead of corrupting a balance.
type LedgerService struct {
	db    *sql.DB
	audit *audit.Logger
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{
		db:    db,
		audit: audit.NewLogger(db),
	}
}

type CheckoutLine struct {
	ItemID   string `json:"itemId" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gte=1"`
}

type CheckoutRequest struct {
	RequestID     string         `json:"requestId" validate:"required,uuid4"`
	AccountID     string         `json:"accountId" validate:"required"`
	CashierID     string         `json:"-"`
	Lines         []CheckoutLine `json:"lines" validate:"required,min=1,dive"`
	ExpectedTotal int64          `json:"expectedTotal" validate:"gte=0"`
}

type CheckoutResult struct {
	Sale       models.Sale `json:"sale"`
	NewBalance int64       `json:"newBalance"`
	Replayed   bool        `json:"replayed"`
}

type VoidRequest struct {
	SaleID   string `json:"-"`
	LineID   string `json:"-"`
	Quantity int    `json:"quantity" validate:"required,gte=1"`
	Reason   string `json:"reason" validate:"max=200"`
	ActorID  string `json:"-"`
}

type VoidResult struct {
	NewTotal   int64  `json:"newTotal"`
	Refund     int64  `json:"refund"`
	LineStatus string `json:"lineStatus"`
	SaleStatus string `json:"saleStatus"`
	NewBalance int64  `json:"newBalance"`
}

type TopUpRequest struct {
	RequestID string `json:"requestId" validate:"required,uuid4"`
	AccountID string `json:"-"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Channel   string `json:"channel" validate:"required,oneof=CASH PORTAL"`
	ActorID   string `json:"-"`
}

type TopUpResult struct {
	TopUpID    string `json:"topupId"`
	NewBalance int64  `json:"newBalance"`
	Replayed   bool   `json:"replayed"`
}

// lockedAccount is an account row read under FOR UPDATE.
type lockedAccount struct {
	ID         string
	Balance    int64
	DailyLimit sql.NullInt64
	SpentToday int64
	LastReset  time.Time
	Status     string
	Version    int
}

// Checkout debits the account and records the sale atomically. A replay
// of an already-committed requestID returns the stored sale without
// touching the balance.
func (s *LedgerService) Checkout(req CheckoutRequest) (*CheckoutResult, error) {
	if len(req.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	for _, l := range req.Lines {
		if l.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity %d for item %s", ErrInvalidQuantity, l.Quantity, l.ItemID)
		}
	}

	// Idempotency: a sale already committed under this requestID is
	// returned as-is.
	var existingID string
	err := s.db.QueryRow(`SELECT id FROM sales WHERE request_id = $1`, req.RequestID).Scan(&existingID)
	if err == nil {
		log.Printf("[LEDGER] Replayed checkout request %s -> sale %s", req.RequestID, existingID)
		sale, balance, loadErr := s.loadSale(existingID)
		if loadErr != nil {
			return nil, loadErr
		}
		return &CheckoutResult{Sale: *sale, NewBalance: balance, Replayed: true}, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := s.CheckoutTx(tx, req)
	if err != nil {
		s.audit.LogError(req.RequestID, req.AccountID, err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		s.audit.LogError(req.RequestID, req.AccountID, err)
		return nil, err
	}

	s.audit.LogCheckout(result.Sale.ID, req.AccountID, result.Sale.Total, "SUCCESS")
	s.audit.RecordAction(req.CashierID, "CHECKOUT",
		fmt.Sprintf("sale %s: %d line(s), total %d on account %s",
			result.Sale.ID, len(result.Sale.Lines), result.Sale.Total, req.AccountID))
	return result, nil
}

// CheckoutTx runs the checkout inside the caller's transaction.
func (s *LedgerService) CheckoutTx(tx *sql.Tx, req CheckoutRequest) (*CheckoutResult, error) {
	account, err := s.lockAccount(tx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if account.Status != "ACTIVE" {
		return nil, ErrAccountInactive
	}

	// Snapshot name and price into each line. The catalog row itself is
	// never referenced again, so later price edits leave receipts stable.
	var total int64
	lines := make([]models.SaleLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		var name string
		var price int64
		err := tx.QueryRow(`
			SELECT name, price FROM items
			WHERE id = $1 AND status = 'ACTIVE'`, l.ItemID).Scan(&name, &price)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrItemNotFound, l.ItemID)
		}
		if err != nil {
			return nil, err
		}
		total += price * int64(l.Quantity)
		lines = append(lines, models.SaleLine{
			ID:        uuid.NewString(),
			ItemName:  name,
			ItemPrice: price,
			Quantity:  l.Quantity,
			Status:    models.LineStatusNormal,
		})
	}

	// The client total is a sanity cross-check only. A mismatch means the
	// terminal rang up stale prices; reject so the cashier re-rings.
	if req.ExpectedTotal > 0 && req.ExpectedTotal != total {
		log.Printf("[LEDGER] Total mismatch on request %s: client %d, server %d",
			req.RequestID, req.ExpectedTotal, total)
		return nil, ErrTotalMismatch
	}

	if account.Balance < total {
		return nil, ErrInsufficientFunds
	}

	spentToday := account.SpentToday
	lastReset := account.LastReset
	if today := startOfDay(time.Now()); lastReset.Before(today) {
		spentToday = 0
		lastReset = today
	}
	if account.DailyLimit.Valid && spentToday+total > account.DailyLimit.Int64 {
		return nil, ErrDailyLimitExceeded
	}

	if err := s.updateAccountBalance(tx, account.ID, account.Balance-total, spentToday+total, lastReset, account.Version); err != nil {
		return nil, err
	}

	saleID := uuid.NewString()
	createdAt := time.Now()
	_, err = tx.Exec(`
		INSERT INTO sales (id, request_id, account_id, total, status, cashier_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		saleID, req.RequestID, req.AccountID, total, models.SaleStatusNormal, req.CashierID, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateRequest
		}
		return nil, err
	}

	for i := range lines {
		lines[i].SaleID = saleID
		_, err = tx.Exec(`
			INSERT INTO sale_lines (id, sale_id, item_name, item_price, quantity, status)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			lines[i].ID, saleID, lines[i].ItemName, lines[i].ItemPrice, lines[i].Quantity, lines[i].Status)
		if err != nil {
			return nil, err
		}
	}

	sale := models.Sale{
		ID:        saleID,
		RequestID: req.RequestID,
		AccountID: req.AccountID,
		Total:     total,
		Status:    models.SaleStatusNormal,
		CashierID: req.CashierID,
		CreatedAt: createdAt,
		Lines:     lines,
	}
	return &CheckoutResult{Sale: sale, NewBalance: account.Balance - total}, nil
}

// VoidLine reverses part or all of a sale line and refunds the account.
// Lock order is sale first, account second; every void path in the
// system must keep that order.
func (s *LedgerService) VoidLine(req VoidRequest) (*VoidResult, error) {
	if req.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := s.VoidLineTx(tx, req)
	if err != nil {
		s.audit.LogError(req.SaleID, "", err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		s.audit.LogError(req.SaleID, "", err)
		return nil, err
	}

	s.audit.LogVoid(req.SaleID, req.LineID, "", result.Refund, "SUCCESS")
	s.audit.RecordAction(req.ActorID, "VOID",
		fmt.Sprintf("sale %s line %s: voided qty %d, refund %d, reason: %s",
			req.SaleID, req.LineID, req.Quantity, result.Refund, req.Reason))
	return result, nil
}

// VoidLineTx runs the void inside the caller's transaction.
func (s *LedgerService) VoidLineTx(tx *sql.Tx, req VoidRequest) (*VoidResult, error) {
	// Lock the sale row first, then re-read the line under the same lock.
	// Preconditions are re-validated here because the operator's screen
	// may be stale by the time they confirm.
	var saleAccountID, saleStatus string
	err := tx.QueryRow(`
		SELECT account_id, status FROM sales
		WHERE id = $1
		FOR UPDATE`, req.SaleID).Scan(&saleAccountID, &saleStatus)
	if err == sql.ErrNoRows {
		return nil, ErrSaleNotFound
	}
	if err != nil {
		return nil, err
	}
	if saleStatus == models.SaleStatusVoid {
		return nil, ErrLineVoided
	}

	var line models.SaleLine
	err = tx.QueryRow(`
		SELECT id, sale_id, item_name, item_price, quantity, status
		FROM sale_lines
		WHERE id = $1 AND sale_id = $2
		FOR UPDATE`, req.LineID, req.SaleID).
		Scan(&line.ID, &line.SaleID, &line.ItemName, &line.ItemPrice, &line.Quantity, &line.Status)
	if err == sql.ErrNoRows {
		return nil, ErrLineNotFound
	}
	if err != nil {
		return nil, err
	}

	if line.Status == models.LineStatusVoid {
		return nil, ErrLineVoided
	}
	if req.Quantity > line.Quantity {
		return nil, fmt.Errorf("%w: %d exceeds remaining quantity %d", ErrInvalidQuantity, req.Quantity, line.Quantity)
	}

	lineStatus := models.LineStatusNormal
	if req.Quantity == line.Quantity {
		// Full void: the quantity is retained for audit, only the status
		// flips. VOID is terminal.
		lineStatus = models.LineStatusVoid
		_, err = tx.Exec(`UPDATE sale_lines SET status = $1 WHERE id = $2`,
			models.LineStatusVoid, req.LineID)
	} else {
		_, err = tx.Exec(`UPDATE sale_lines SET quantity = quantity - $1 WHERE id = $2`,
			req.Quantity, req.LineID)
	}
	if err != nil {
		return nil, err
	}

	refund := line.ItemPrice * int64(req.Quantity)

	account, err := s.lockAccount(tx, saleAccountID)
	if err != nil {
		return nil, err
	}
	spentToday := account.SpentToday - refund
	if spentToday < 0 {
		spentToday = 0
	}
	if err := s.updateAccountBalance(tx, account.ID, account.Balance+refund, spentToday, account.LastReset, account.Version); err != nil {
		return nil, err
	}

	// Recompute the total from surviving lines - never patched in place.
	var newTotal int64
	var surviving int
	err = tx.QueryRow(`
		SELECT COALESCE(SUM(CASE WHEN status <> 'VOID' THEN item_price * quantity ELSE 0 END), 0),
		       COUNT(*) FILTER (WHERE status <> 'VOID')
		FROM sale_lines
		WHERE sale_id = $1`, req.SaleID).Scan(&newTotal, &surviving)
	if err != nil {
		return nil, err
	}

	newSaleStatus := models.SaleStatusNormal
	if surviving == 0 {
		newSaleStatus = models.SaleStatusVoid
	}
	_, err = tx.Exec(`UPDATE sales SET total = $1, status = $2 WHERE id = $3`,
		newTotal, newSaleStatus, req.SaleID)
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(`
		INSERT INTO void_records (id, sale_id, line_id, amount, quantity, reason, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.NewString(), req.SaleID, req.LineID, refund, req.Quantity, req.Reason, req.ActorID, time.Now())
	if err != nil {
		return nil, err
	}

	return &VoidResult{
		NewTotal:   newTotal,
		Refund:     refund,
		LineStatus: lineStatus,
		SaleStatus: newSaleStatus,
		NewBalance: account.Balance + refund,
	}, nil
}

// TopUp credits an account. Deduplicated on the client requestID like
// checkout.
func (s *LedgerService) TopUp(req TopUpRequest) (*TopUpResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidQuantity)
	}

	var existingID string
	var existingBalance int64
	err := s.db.QueryRow(`
		SELECT t.id, a.balance FROM topups t
		JOIN accounts a ON a.account_id = t.account_id
		WHERE t.request_id = $1`, req.RequestID).Scan(&existingID, &existingBalance)
	if err == nil {
		log.Printf("[LEDGER] Replayed top-up request %s -> %s", req.RequestID, existingID)
		return &TopUpResult{TopUpID: existingID, NewBalance: existingBalance, Replayed: true}, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := s.lockAccount(tx, req.AccountID)
	if err != nil {
		return nil, err
	}
	if account.Status != "ACTIVE" {
		return nil, ErrAccountInactive
	}

	if err := s.updateAccountBalance(tx, account.ID, account.Balance+req.Amount, account.SpentToday, account.LastReset, account.Version); err != nil {
		return nil, err
	}

	topupID := uuid.NewString()
	_, err = tx.Exec(`
		INSERT INTO topups (id, request_id, account_id, amount, channel, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		topupID, req.RequestID, req.AccountID, req.Amount, req.Channel, req.ActorID, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateRequest
		}
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		s.audit.LogError(topupID, req.AccountID, err)
		return nil, err
	}

	s.audit.LogTopUp(topupID, req.AccountID, req.Amount, "SUCCESS")
	s.audit.RecordAction(req.ActorID, "TOPUP",
		fmt.Sprintf("top-up %s: %d to account %s via %s", topupID, req.Amount, req.AccountID, req.Channel))
	return &TopUpResult{TopUpID: topupID, NewBalance: account.Balance + req.Amount}, nil
}

func (s *LedgerService) lockAccount(tx *sql.Tx, accountID string) (*lockedAccount, error) {
	var account lockedAccount
	err := tx.QueryRow(`
		SELECT id, balance, daily_limit, spent_today, last_reset, status, version
		FROM accounts
		WHERE account_id = $1 OR id = $1
		LIMIT 1
		FOR UPDATE`, accountID).
		Scan(&account.ID, &account.Balance, &account.DailyLimit, &account.SpentToday,
			&account.LastReset, &account.Status, &account.Version)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *LedgerService) updateAccountBalance(tx *sql.Tx, accountID string, newBalance, spentToday int64, lastReset time.Time, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, spent_today = $2, last_reset = $3, version = version + 1, updated_at = $4
		WHERE id = $5 AND version = $6`,
		newBalance, spentToday, lastReset, time.Now(), accountID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %s", accountID)
	}
	return nil
}

// loadSale reads a committed sale with its lines plus the account's
// current balance, used when replaying an idempotent request.
func (s *LedgerService) loadSale(saleID string) (*models.Sale, int64, error) {
	sale := models.Sale{ID: saleID}
	var balance int64
	err := s.db.QueryRow(`
		SELECT s.request_id, s.account_id, s.total, s.status, s.cashier_id, s.created_at, a.balance
		FROM sales s
		JOIN accounts a ON a.account_id = s.account_id
		WHERE s.id = $1`, saleID).
		Scan(&sale.RequestID, &sale.AccountID, &sale.Total, &sale.Status, &sale.CashierID, &sale.CreatedAt, &balance)
	if err == sql.ErrNoRows {
		return nil, 0, ErrSaleNotFound
	}
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.db.Query(`
		SELECT id, sale_id, item_name, item_price, quantity, status
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY id`, saleID)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var line models.SaleLine
		if err := rows.Scan(&line.ID, &line.SaleID, &line.ItemName, &line.ItemPrice, &line.Quantity, &line.Status); err != nil {
			return nil, 0, err
		}
		sale.Lines = append(sale.Lines, line)
	}
	return &sale, balance, rows.Err()
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}
