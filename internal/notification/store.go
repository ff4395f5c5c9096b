// Package notification persists notification records and delivery
// preferences, and decides which channels a notification goes out on.
package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"forum-comms/internal/common/database"
	"forum-comms/internal/models"
)

const notificationColumns = `id, notification_type, status, investor_id, startup_id, project_id,
	message_id, recipient_user_id, delivery_status, created_at, sent_at, read_at`

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var orderings = map[string]string{
	"sent_at":  "sent_at ASC NULLS LAST, id ASC",
	"-sent_at": "sent_at DESC NULLS LAST, id DESC",
	"read_at":  "read_at ASC NULLS LAST, id ASC",
	"-read_at": "read_at DESC NULLS LAST, id DESC",
}

// Filter narrows List. Nil fields are not applied.
type Filter struct {
	Type           *models.NotificationType
	Status         *models.NotificationStatus
	DeliveryStatus *models.DeliveryStatus
	InvestorID     *int64
	StartupID      *int64
	RecipientID    *int64
	Ordering       string
	Page           int
	PageSize       int
}

// Store is the Postgres notification repository.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanNotification(row rowScanner) (*models.Notification, error) {
	var (
		n                                     models.Notification
		investorID, startupID, projectID, rcp sql.NullInt64
		messageID                             sql.NullString
		delivery                              sql.NullInt16
		sentAt, readAt                        sql.NullTime
	)
	err := row.Scan(&n.ID, &n.Type, &n.Status, &investorID, &startupID, &projectID,
		&messageID, &rcp, &delivery, &n.CreatedAt, &sentAt, &readAt)
	if err != nil {
		return nil, err
	}
	n.InvestorID = int64Ptr(investorID)
	n.StartupID = int64Ptr(startupID)
	n.ProjectID = int64Ptr(projectID)
	n.RecipientID = int64Ptr(rcp)
	if messageID.Valid {
		n.MessageID = &messageID.String
	}
	n.DeliveryStatus = deliveryFromColumn(delivery)
	n.SentAt = timePtr(sentAt)
	n.ReadAt = timePtr(readAt)
	return &n, nil
}

func deliveryFromColumn(v sql.NullInt16) models.DeliveryStatus {
	switch {
	case !v.Valid:
		return models.DeliveryPending
	case v.Int16 == 1:
		return models.DeliverySent
	default:
		return models.DeliveryFailed
	}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	out := v.Time
	return &out
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

// Create inserts one UNREAD, PENDING record in a single statement.
func (s *Store) Create(ctx context.Context, n models.NewNotification) (*models.Notification, error) {
	query := `INSERT INTO notifications (notification_type, status, investor_id, startup_id, project_id, message_id)
		VALUES ($1, 0, $2, $3, $4, $5)
		RETURNING ` + notificationColumns
	row := s.db.QueryRowContext(ctx, query, int16(n.Type),
		nullInt64(n.InvestorID), nullInt64(n.StartupID), nullInt64(n.ProjectID), nullString(n.MessageID))
	created, err := scanNotification(row)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return created, nil
}

func (s *Store) Get(ctx context.Context, id int64) (*models.Notification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id)
	n, err := scanNotification(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get notification %d: %w", id, err)
	}
	return n, nil
}

func (s *Store) List(ctx context.Context, f Filter) ([]models.Notification, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.Type != nil {
		add("notification_type = $%d", int16(*f.Type))
	}
	if f.Status != nil {
		add("status = $%d", int16(*f.Status))
	}
	if f.DeliveryStatus != nil {
		switch *f.DeliveryStatus {
		case models.DeliveryPending:
			where = append(where, "delivery_status IS NULL")
		case models.DeliverySent:
			add("delivery_status = $%d", 1)
		case models.DeliveryFailed:
			add("delivery_status = $%d", 0)
		}
	}
	if f.InvestorID != nil {
		add("investor_id = $%d", *f.InvestorID)
	}
	if f.StartupID != nil {
		add("startup_id = $%d", *f.StartupID)
	}
	if f.RecipientID != nil {
		add("recipient_user_id = $%d", *f.RecipientID)
	}

	order, ok := orderings[f.Ordering]
	if !ok {
		order = orderings["sent_at"]
	}
	page, size := normalizePage(f.Page, f.PageSize)

	query := `SELECT ` + notificationColumns + ` FROM notifications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, size, (page-1)*size)
	query += fmt.Sprintf(" ORDER BY %s LIMIT $%d OFFSET $%d", order, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	out := []models.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func normalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return page, size
}

// SetReadStatus stamps read_at when moving to READ and clears it for UNREAD.
func (s *Store) SetReadStatus(ctx context.Context, id int64, status models.NotificationStatus) (*models.Notification, error) {
	query := `UPDATE notifications
		SET status = $2, read_at = CASE WHEN $2 = 1 THEN NOW() ELSE NULL END
		WHERE id = $1
		RETURNING ` + notificationColumns
	n, err := scanNotification(s.db.QueryRowContext(ctx, query, id, int16(status)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("set read status %d: %w", id, err)
	}
	return n, nil
}

// SetRecipient records the resolved recipient user.
func (s *Store) SetRecipient(ctx context.Context, id, userID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notifications SET recipient_user_id = $2 WHERE id = $1`, id, userID)
	if err != nil {
		return fmt.Errorf("set recipient %d: %w", id, err)
	}
	return nil
}

func (s *Store) MarkSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notifications SET delivery_status = 1, sent_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark sent %d: %w", id, err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notifications SET delivery_status = 0 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark failed %d: %w", id, err)
	}
	return nil
}

// ==========================
// Preferences
// ==========================

// GetPreference returns nil, nil when the user has no stored preference.
func (s *Store) GetPreference(ctx context.Context, userID int64, role string, t models.NotificationType) (*models.Preference, error) {
	p := models.Preference{UserID: userID, Role: role, Type: t}
	err := s.db.QueryRowContext(ctx,
		`SELECT email, in_app FROM notification_preferences WHERE user_id = $1 AND role = $2 AND notification_type = $3`,
		userID, role, int16(t),
	).Scan(&p.Email, &p.InApp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get preference: %w", err)
	}
	return &p, nil
}

func (s *Store) ListPreferences(ctx context.Context, userID int64) ([]models.Preference, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, role, notification_type, email, in_app FROM notification_preferences
		WHERE user_id = $1 ORDER BY role, notification_type`, userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	defer rows.Close()

	out := []models.Preference{}
	for rows.Next() {
		var p models.Preference
		if err := rows.Scan(&p.UserID, &p.Role, &p.Type, &p.Email, &p.InApp); err != nil {
			return nil, fmt.Errorf("scan preference: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpsertPreference(ctx context.Context, p models.Preference) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_preferences (user_id, role, notification_type, email, in_app)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, role, notification_type)
		DO UPDATE SET email = EXCLUDED.email, in_app = EXCLUDED.in_app`,
		p.UserID, p.Role, int16(p.Type), p.Email, p.InApp)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

// EnsureRolePreferences creates a default (email and in-app on) row for each
// type, leaving existing rows untouched. It returns how many were created.
func (s *Store) EnsureRolePreferences(ctx context.Context, userID int64, role string, types []models.NotificationType) (int, error) {
	created := 0
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, t := range types {
			res, err := tx.ExecContext(ctx, `
				INSERT INTO notification_preferences (user_id, role, notification_type, email, in_app)
				VALUES ($1, $2, $3, TRUE, TRUE)
				ON CONFLICT (user_id, role, notification_type) DO NOTHING`,
				userID, role, int16(t))
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err == nil {
				created += int(n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ensure role preferences: %w", err)
	}
	return created, nil
}
