package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"emooti/internal/domain/notifications"
	"emooti/internal/domain/retention"
	"emooti/internal/platform/config"
	"emooti/internal/platform/metrics"
)

const (
	JobRetention        = "retention_execute"
	JobRetentionWarning = "retention_warning"
	JobAnomalySweep     = "anomaly_sweep"
)

// Tracker entries go stale after an hour regardless of how often the sweep
// runs.
const trackerMaxIdle = time.Hour

// Sweeper evicts idle activity entries from the detector's in-memory table.
type Sweeper interface {
	Sweep(maxIdle time.Duration) int
}

type Service struct {
	DB        *pgxpool.Pool
	Cfg       config.Config
	Retention *retention.Service
	Notifier  *notifications.Service
	Tracker   Sweeper
	Metrics   *metrics.Collector
	queue     chan job
}

type job struct {
	Type string
	Run  func(context.Context) (any, error)
}

func New(db *pgxpool.Pool, cfg config.Config, ret *retention.Service, notifier *notifications.Service, tracker Sweeper, collector *metrics.Collector) *Service {
	return &Service{
		DB:        db,
		Cfg:       cfg,
		Retention: ret,
		Notifier:  notifier,
		Tracker:   tracker,
		Metrics:   collector,
		queue:     make(chan job, 128),
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
	if s.Cfg.RetentionInterval > 0 && s.Retention != nil {
		go s.scheduleRetention(ctx, s.Cfg.RetentionInterval)
		go s.scheduleRetentionWarnings(ctx, 24*time.Hour)
	}
	if s.Cfg.AnomalySweepEvery > 0 && s.Tracker != nil {
		go s.scheduleSweep(ctx, s.Cfg.AnomalySweepEvery)
	}
}

func (s *Service) Enqueue(jobType string, run func(context.Context) (any, error)) {
	select {
	case s.queue <- job{Type: jobType, Run: run}:
	default:
		slog.Warn("job queue full", "jobType", jobType)
	}
}

func (s *Service) RunNow(ctx context.Context, jobType string, run func(context.Context) (any, error)) (any, error) {
	return s.runJob(ctx, job{Type: jobType, Run: run})
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				slog.Warn("job run failed", "jobType", j.Type, "err", err)
			}
		}
	}
}

// runJob tracks every execution as a job_runs row, including ones started
// by the schedulers, so operators can see background activity in one place.
func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	runID := ""
	if err := s.DB.QueryRow(ctx, `
		INSERT INTO job_runs (job_type, status)
		VALUES ($1,$2)
		RETURNING id
	`, j.Type, "running").Scan(&runID); err != nil {
		slog.Warn("job run insert failed", "err", err)
	}

	details, err := j.Run(ctx)
	status := "completed"
	if err != nil {
		status = "failed"
	}
	detailsJSON, marshalErr := json.Marshal(details)
	if marshalErr != nil {
		slog.Warn("job details marshal failed", "err", marshalErr)
		detailsJSON = []byte("{}")
	}
	if runID != "" {
		if _, updErr := s.DB.Exec(ctx, `
			UPDATE job_runs
			SET status = $1, details_json = $2, completed_at = now()
			WHERE id = $3
		`, status, detailsJSON, runID); updErr != nil {
			slog.Warn("job run update failed", "err", updErr)
		}
	}
	return details, err
}

func (s *Service) scheduleRetention(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			policies, err := s.Retention.ListAutoApplyPolicies(ctx)
			if err != nil {
				slog.Warn("retention scheduler policy lookup failed", "err", err)
				continue
			}
			for _, policy := range policies {
				p := policy
				// A fresh run has to wait out the grace period since the
				// previous application.
				if p.LastApplied != nil && p.GracePeriodDays > 0 {
					next := p.LastApplied.AddDate(0, 0, p.GracePeriodDays)
					if time.Now().Before(next) {
						continue
					}
				}
				s.Enqueue(JobRetention, func(ctx context.Context) (any, error) {
					res, err := s.Retention.Execute(ctx, p.EntityType, "")
					if s.Metrics != nil {
						s.Metrics.RecordRetentionRun()
					}
					if err != nil && s.Notifier != nil {
						title := fmt.Sprintf("Retention run failed for %s", p.EntityType)
						if nerr := s.Notifier.NotifyAdmins(ctx, title, err.Error()); nerr != nil {
							slog.Warn("retention failure notification failed", "err", nerr)
						}
					}
					return map[string]any{
						"entityType":   p.EntityType,
						"jobId":        res.JobID,
						"deletedCount": res.DeletedCount,
					}, err
				})
			}
		}
	}
}

// scheduleRetentionWarnings tells administrators which records an upcoming
// auto-apply run will delete, notifyBeforeDays ahead of time.
func (s *Service) scheduleRetentionWarnings(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			policies, err := s.Retention.ListAutoApplyPolicies(ctx)
			if err != nil {
				slog.Warn("retention warning policy lookup failed", "err", err)
				continue
			}
			for _, policy := range policies {
				p := policy
				if p.NotifyBeforeDays <= 0 {
					continue
				}
				s.Enqueue(JobRetentionWarning, func(ctx context.Context) (any, error) {
					horizon := time.Now().AddDate(0, 0, p.NotifyBeforeDays)
					eligible, err := s.Retention.CountEligibleAt(ctx, p.EntityType, horizon)
					if err != nil {
						return nil, err
					}
					if eligible > 0 && s.Notifier != nil {
						title := fmt.Sprintf("Upcoming retention deletion for %s", p.EntityType)
						body := fmt.Sprintf("%d %s records become eligible for deletion within %d days under the current retention policy.",
							eligible, p.EntityType, p.NotifyBeforeDays)
						if nerr := s.Notifier.NotifyAdmins(ctx, title, body); nerr != nil {
							slog.Warn("retention warning notification failed", "err", nerr)
						}
					}
					return map[string]any{
						"entityType": p.EntityType,
						"eligible":   eligible,
					}, nil
				})
			}
		}
	}
}

func (s *Service) scheduleSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			evicted := s.Tracker.Sweep(trackerMaxIdle)
			if evicted > 0 {
				slog.Debug("anomaly tracker sweep", "evicted", evicted)
			}
		}
	}
}
