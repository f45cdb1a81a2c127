package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/studio-portal-api/internal/models"
	"github.com/noah-isme/studio-portal-api/internal/repository"
	"github.com/noah-isme/studio-portal-api/pkg/jobs"
)

// ReportWorker renders queued export jobs. It is the jobs.Handler of the
// reports queue.
type ReportWorker struct {
	repo       reportJobStore
	exporter   exportGenerator
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time
}

// NewReportWorker constructs a worker. maxRetries must match the queue's so
// the last attempt is the one that marks the job failed.
func NewReportWorker(repo reportJobStore, exporter exportGenerator, maxRetries int, logger *zap.Logger) *ReportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ReportWorker{
		repo:       repo,
		exporter:   exporter,
		logger:     logger,
		maxRetries: maxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handle generates the export for job. A failed attempt with retries left puts
// the job back to QUEUED, the final one marks it FAILED.
func (w *ReportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if record.Status == models.ReportStatusFinished {
		return nil
	}
	if err := w.transition(ctx, job.ID, models.ReportStatusProcessing, 10, nil); err != nil {
		return err
	}

	result, genErr := w.exporter.Generate(ctx, record)
	if genErr != nil {
		msg := genErr.Error()
		next, progress := models.ReportStatusQueued, 0
		if job.Attempt >= w.maxRetries {
			next, progress = models.ReportStatusFailed, 100
		}
		if err := w.transition(ctx, job.ID, next, progress, func(p *repository.UpdateReportJobParams) {
			p.ErrorMessage = &msg
		}); err != nil {
			w.logger.Warn("report job status update failed", zap.String("job_id", job.ID), zap.String("status", string(next)), zap.Error(err))
		}
		return genErr
	}

	cleared := ""
	if err := w.transition(ctx, job.ID, models.ReportStatusFinished, 100, func(p *repository.UpdateReportJobParams) {
		p.ResultURL = &result.URL
		p.ErrorMessage = &cleared
	}); err != nil {
		w.logger.Warn("report job status update failed", zap.String("job_id", job.ID), zap.String("status", string(models.ReportStatusFinished)), zap.Error(err))
		return err
	}
	w.logger.Info("report job finished", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	return nil
}

// transition writes status and progress. Terminal statuses also stamp
// finished_at.
func (w *ReportWorker) transition(ctx context.Context, id string, status models.ReportStatus, progress int, extra func(*repository.UpdateReportJobParams)) error {
	params := repository.UpdateReportJobParams{Status: &status, Progress: &progress}
	if status == models.ReportStatusFinished || status == models.ReportStatusFailed {
		at := w.now()
		params.FinishedAt = &at
	}
	if extra != nil {
		extra(&params)
	}
	return w.repo.Update(ctx, id, params)
}
