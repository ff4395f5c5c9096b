// Package directory reads the platform's user and profile tables. Those
// tables are owned elsewhere; this package never writes them.
package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"forum-comms/internal/common/logger"
	"forum-comms/internal/models"
)

const (
	userCachePrefix = "user:"
	userCacheTTL    = 5 * time.Minute
)

// UserDirectory resolves users from Postgres behind a Redis read-through cache.
type UserDirectory struct {
	db     *sql.DB
	redis  *redis.Client
	logger logger.Logger
}

func NewUserDirectory(db *sql.DB, rdb *redis.Client, log logger.Logger) *UserDirectory {
	return &UserDirectory{
		db:     db,
		redis:  rdb,
		logger: logger.ForComponent(log, "user-directory"),
	}
}

func userCacheKey(userID int64) string {
	return fmt.Sprintf("%s%d", userCachePrefix, userID)
}

// ResolveUser returns nil, nil for an unknown id.
func (d *UserDirectory) ResolveUser(ctx context.Context, userID int64) (*models.User, error) {
	cacheKey := userCacheKey(userID)
	if d.redis != nil {
		if val, err := d.redis.Get(ctx, cacheKey).Result(); err == nil {
			var user models.User
			if err := json.Unmarshal([]byte(val), &user); err == nil {
				return &user, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			d.logger.Debug("user cache read failed", map[string]interface{}{
				"userId": userID,
				"error":  err.Error(),
			})
		}
	}

	var user models.User
	query := `SELECT id, first_name, last_name, email FROM users WHERE id = $1`
	err := d.db.QueryRowContext(ctx, query, userID).Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user %d: %w", userID, err)
	}

	if d.redis != nil {
		data, _ := json.Marshal(user)
		if err := d.redis.Set(ctx, cacheKey, data, userCacheTTL).Err(); err != nil {
			d.logger.Debug("user cache write failed", map[string]interface{}{
				"userId": userID,
				"error":  err.Error(),
			})
		}
	}
	return &user, nil
}

func (d *UserDirectory) UserHasRole(ctx context.Context, userID int64, role string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM user_roles WHERE user_id = $1 AND role = $2)`
	if err := d.db.QueryRowContext(ctx, query, userID, role).Scan(&exists); err != nil {
		return false, fmt.Errorf("query role %s for user %d: %w", role, userID, err)
	}
	return exists, nil
}

// Invalidate drops the cached copy of a user.
func (d *UserDirectory) Invalidate(ctx context.Context, userID int64) error {
	if d.redis == nil {
		return nil
	}
	return d.redis.Del(ctx, userCacheKey(userID)).Err()
}
