package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"iapBack/internal/models"
)

const receiptColumns = `id, hash, token, platform, user_id, receipt_date, data, created_at`

func scanReceipt(row rowScanner) (*models.Receipt, error) {
	var (
		rc       models.Receipt
		platform string
		userID   sql.NullString
		data     sql.NullString
	)
	if err := row.Scan(&rc.ID, &rc.Hash, &rc.Token, &platform, &userID, &rc.ReceiptDate, &data, &rc.CreatedAt); err != nil {
		return nil, err
	}
	rc.Platform = models.Platform(platform)
	rc.UserID = userID.String
	rc.ReceiptDate = rc.ReceiptDate.UTC()
	rc.CreatedAt = rc.CreatedAt.UTC()
	if data.Valid {
		rc.Data = json.RawMessage(data.String)
	}
	return &rc, nil
}

func (r *IAPRepository) getReceipt(ctx context.Context, query string, args ...interface{}) (*models.Receipt, error) {
	row, err := r.queryRow(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	rc, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rc, nil
}

func (r *IAPRepository) GetReceiptByHash(ctx context.Context, hash string) (*models.Receipt, error) {
	return r.getReceipt(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE hash = ?`, hash)
}

func (r *IAPRepository) GetReceiptByID(ctx context.Context, id string) (*models.Receipt, error) {
	return r.getReceipt(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = ?`, id)
}

func (r *IAPRepository) CreateReceipt(ctx context.Context, rc models.Receipt) (*models.Receipt, error) {
	if rc.Hash == "" {
		return nil, errors.New("create receipt: hash is required")
	}
	if rc.ID == "" {
		rc.ID = uuid.NewString()
	}
	rc.CreatedAt = r.timestamp()
	_, err := r.exec(ctx, `INSERT INTO receipts (`+receiptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rc.ID, rc.Hash, rc.Token, string(rc.Platform), nullString(rc.UserID), rc.ReceiptDate.UTC(),
		string(rc.Data), rc.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create receipt %s: %w", rc.Hash, err)
	}
	return &rc, nil
}

// UpdateReceipt changes the owner only. Receipt content is write-once.
func (r *IAPRepository) UpdateReceipt(ctx context.Context, rc models.Receipt) (*models.Receipt, error) {
	if rc.ID == "" {
		return nil, fmt.Errorf("update receipt %s: %w", rc.Hash, models.ErrNoRecord)
	}
	if _, err := r.exec(ctx, `UPDATE receipts SET user_id = ? WHERE id = ?`, nullString(rc.UserID), rc.ID); err != nil {
		return nil, fmt.Errorf("update receipt %s: %w", rc.ID, err)
	}
	return &rc, nil
}

// AddIncomingNotification keeps a raw store notification for audit.
func (r *IAPRepository) AddIncomingNotification(ctx context.Context, platform models.Platform, data []byte) (*models.IncomingNotification, error) {
	n := models.IncomingNotification{
		ID:        uuid.NewString(),
		Platform:  platform,
		Data:      json.RawMessage(data),
		CreatedAt: r.timestamp(),
	}
	_, err := r.exec(ctx, `INSERT INTO incoming_notifications (id, platform, data, created_at) VALUES (?, ?, ?, ?)`,
		n.ID, string(n.Platform), string(data), n.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add incoming notification: %w", err)
	}
	return &n, nil
}
