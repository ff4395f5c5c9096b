package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"forum-comms/internal/models"
)

// ProfileDirectory reads investor, startup and project profiles and the
// investment tracking table. Lookups return nil, nil when absent.
type ProfileDirectory struct {
	db *sql.DB
}

func NewProfileDirectory(db *sql.DB) *ProfileDirectory {
	return &ProfileDirectory{db: db}
}

func (d *ProfileDirectory) GetInvestor(ctx context.Context, investorID int64) (*models.InvestorProfile, error) {
	var p models.InvestorProfile
	err := d.db.QueryRowContext(ctx,
		`SELECT id, user_id FROM investor_profiles WHERE id = $1`, investorID,
	).Scan(&p.ID, &p.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query investor %d: %w", investorID, err)
	}
	return &p, nil
}

func (d *ProfileDirectory) GetStartup(ctx context.Context, startupID int64) (*models.StartupProfile, error) {
	var p models.StartupProfile
	err := d.db.QueryRowContext(ctx,
		`SELECT id, user_id, name FROM startup_profiles WHERE id = $1`, startupID,
	).Scan(&p.ID, &p.UserID, &p.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query startup %d: %w", startupID, err)
	}
	return &p, nil
}

func (d *ProfileDirectory) GetProject(ctx context.Context, projectID int64) (*models.Project, error) {
	var p models.Project
	err := d.db.QueryRowContext(ctx,
		`SELECT id, startup_id, title FROM projects WHERE id = $1`, projectID,
	).Scan(&p.ID, &p.StartupID, &p.Title)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query project %d: %w", projectID, err)
	}
	return &p, nil
}

// TrackingInvestors lists investor profile ids tracking the startup or the
// project. Ids may repeat when an investor tracks both.
func (d *ProfileDirectory) TrackingInvestors(ctx context.Context, startupID, projectID *int64) ([]int64, error) {
	if startupID == nil && projectID == nil {
		return nil, nil
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT investor_id FROM investment_tracking WHERE startup_id = $1 OR project_id = $2 ORDER BY id`,
		nullInt64(startupID), nullInt64(projectID),
	)
	if err != nil {
		return nil, fmt.Errorf("query tracking investors: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tracking investor: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
