package farms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carboniq/farm-portal/farm-portal-backend/internal/verification"
	"carboniq/farm-portal/farm-portal-backend/pkg/workflows"
)

type Repository interface {
	// CreateFarm stores the farm, its first status history entry and its outbox job atomically.
	// The job becomes due at firstAttempt.
	CreateFarm(ctx context.Context, farm *Farm, firstAttempt time.Time) error
	GetFarm(ctx context.Context, id uuid.UUID) (*Farm, error)
	ListFarms(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]Farm, error)
	Summary(ctx context.Context, userID uuid.UUID) (*DashboardSummary, error)
	// ApplyResult moves a pending farm to its final status. It reports false when the farm was no longer pending.
	ApplyResult(ctx context.Context, farmID uuid.UUID, result *verification.Result) (bool, error)

	CreatePhoto(ctx context.Context, photo *FarmPhoto) error
	ListPhotos(ctx context.Context, farmID uuid.UUID) ([]FarmPhoto, error)
	ListStatusHistory(ctx context.Context, farmID uuid.UUID) ([]FarmStatusHistory, error)

	// ClaimDueJobs leases up to limit due jobs so no other worker picks them until now+lease
	ClaimDueJobs(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]VerificationJob, error)
	CompleteJob(ctx context.Context, jobID uuid.UUID) error
	RecordJobFailure(ctx context.Context, jobID uuid.UUID, lastErr string, nextAttempt time.Time, final bool) error
	EnqueueStale(ctx context.Context, createdBefore time.Time) (int64, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// Models lists the tables owned by this package, in migration order
func Models() []interface{} {
	return []interface{}{&Farm{}, &FarmPhoto{}, &FarmStatusHistory{}, &VerificationJob{}}
}

func (r *gormRepository) CreateFarm(ctx context.Context, farm *Farm, firstAttempt time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(farm).Error; err != nil {
			return fmt.Errorf("failed to create farm: %w", err)
		}
		history := &FarmStatusHistory{
			ID:        uuid.New(),
			FarmID:    farm.ID,
			Status:    farm.VerificationStatus,
			ChangedAt: farm.CreatedAt,
		}
		if err := tx.Create(history).Error; err != nil {
			return fmt.Errorf("failed to record status history: %w", err)
		}
		job := &VerificationJob{
			ID:            uuid.New(),
			FarmID:        farm.ID,
			Status:        JobPending,
			NextAttemptAt: firstAttempt,
		}
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("failed to enqueue verification: %w", err)
		}
		return nil
	})
}

func (r *gormRepository) GetFarm(ctx context.Context, id uuid.UUID) (*Farm, error) {
	var farm Farm
	err := r.db.WithContext(ctx).First(&farm, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFarmNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get farm: %w", err)
	}
	return &farm, nil
}

func (r *gormRepository) ListFarms(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]Farm, error) {
	var farms []Farm
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if filter.Status != "" {
		q = q.Where("verification_status = ?", filter.Status)
	}
	if err := q.Order("created_at DESC").Find(&farms).Error; err != nil {
		return nil, fmt.Errorf("failed to list farms: %w", err)
	}
	return farms, nil
}

func (r *gormRepository) Summary(ctx context.Context, userID uuid.UUID) (*DashboardSummary, error) {
	var rows []struct {
		Status  string
		Count   int64
		Credits float64
	}
	err := r.db.WithContext(ctx).Model(&Farm{}).
		Select("verification_status AS status, COUNT(*) AS count, COALESCE(SUM(carbon_credits), 0) AS credits").
		Where("user_id = ?", userID).
		Group("verification_status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to summarize farms: %w", err)
	}

	summary := &DashboardSummary{}
	for _, row := range rows {
		summary.TotalFarms += row.Count
		summary.TotalCredits += row.Credits
		switch row.Status {
		case workflows.StatusVerified:
			summary.VerifiedFarms = row.Count
		case workflows.StatusPending:
			summary.PendingFarms = row.Count
		case workflows.StatusRejected:
			summary.RejectedFarms = row.Count
		}
	}
	summary.TotalCredits = verification.Round1(summary.TotalCredits)
	return summary, nil
}

func (r *gormRepository) ApplyResult(ctx context.Context, farmID uuid.UUID, result *verification.Result) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"verification_status": string(result.Status),
			"carbon_credits":      result.CarbonCredits,
			"confidence_score":    result.ConfidenceScore,
			"rejection_reasons":   pq.StringArray(result.RejectionReasons),
			"updated_at":          result.EvaluatedAt,
		}
		if result.IsVerified() {
			updates["verified_at"] = result.EvaluatedAt
		}

		res := tx.Model(&Farm{}).
			Where("id = ? AND verification_status = ?", farmID, workflows.StatusPending).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to apply verification result: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		history := &FarmStatusHistory{
			ID:        uuid.New(),
			FarmID:    farmID,
			Status:    string(result.Status),
			ChangedAt: result.EvaluatedAt,
		}
		if err := tx.Create(history).Error; err != nil {
			return fmt.Errorf("failed to record status history: %w", err)
		}

		return tx.Model(&VerificationJob{}).
			Where("farm_id = ?", farmID).
			Updates(map[string]interface{}{
				"status":     JobCompleted,
				"last_error": "",
				"updated_at": result.EvaluatedAt,
			}).Error
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *gormRepository) CreatePhoto(ctx context.Context, photo *FarmPhoto) error {
	if err := r.db.WithContext(ctx).Create(photo).Error; err != nil {
		return fmt.Errorf("failed to create photo: %w", err)
	}
	return nil
}

func (r *gormRepository) ListPhotos(ctx context.Context, farmID uuid.UUID) ([]FarmPhoto, error) {
	var photos []FarmPhoto
	err := r.db.WithContext(ctx).Where("farm_id = ?", farmID).Order("uploaded_at ASC").Find(&photos).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	return photos, nil
}

func (r *gormRepository) ListStatusHistory(ctx context.Context, farmID uuid.UUID) ([]FarmStatusHistory, error) {
	var history []FarmStatusHistory
	err := r.db.WithContext(ctx).Where("farm_id = ?", farmID).Order("changed_at ASC").Find(&history).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list status history: %w", err)
	}
	return history, nil
}

func (r *gormRepository) ClaimDueJobs(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]VerificationJob, error) {
	var jobs []VerificationJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND next_attempt_at <= ?", JobPending, now).
			Order("next_attempt_at ASC").
			Limit(limit).
			Find(&jobs).Error
		if err != nil {
			return fmt.Errorf("failed to query due jobs: %w", err)
		}
		if len(jobs) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(jobs))
		for i := range jobs {
			ids[i] = jobs[i].ID
			jobs[i].NextAttemptAt = now.Add(lease)
		}
		err = tx.Model(&VerificationJob{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"next_attempt_at": now.Add(lease),
				"updated_at":      now,
			}).Error
		if err != nil {
			return fmt.Errorf("failed to lease due jobs: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *gormRepository) CompleteJob(ctx context.Context, jobID uuid.UUID) error {
	err := r.db.WithContext(ctx).Model(&VerificationJob{}).
		Where("id = ? AND status = ?", jobID, JobPending).
		Updates(map[string]interface{}{
			"status":     JobCompleted,
			"updated_at": time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

func (r *gormRepository) RecordJobFailure(ctx context.Context, jobID uuid.UUID, lastErr string, nextAttempt time.Time, final bool) error {
	status := JobPending
	if final {
		status = JobFailed
	}
	err := r.db.WithContext(ctx).Model(&VerificationJob{}).
		Where("id = ?", jobID).
		Updates(map[string]interface{}{
			"status":          status,
			"attempts":        gorm.Expr("attempts + 1"),
			"last_error":      lastErr,
			"next_attempt_at": nextAttempt,
			"updated_at":      time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to record job failure: %w", err)
	}
	return nil
}

// EnqueueStale gives pending farms that lost their outbox row a fresh job
func (r *gormRepository) EnqueueStale(ctx context.Context, createdBefore time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
		INSERT INTO verification_jobs (id, farm_id, status, attempts, next_attempt_at, created_at, updated_at)
		SELECT gen_random_uuid(), f.id, ?, 0, NOW(), NOW(), NOW()
		FROM farms f
		WHERE f.verification_status = ?
		  AND f.created_at < ?
		  AND NOT EXISTS (SELECT 1 FROM verification_jobs j WHERE j.farm_id = f.id)`,
		JobPending, workflows.StatusPending, createdBefore)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to enqueue stale farms: %w", res.Error)
	}
	return res.RowsAffected, nil
}
