package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StartReconciliation запускает фоновую сверку агрегатов проектов с реестром.
// Сверка закрывает расхождения, оставшиеся после сбоев между записью реестра
// и инкрементом агрегата; источник истины — сумма по реестру.
// Блокируется до отмены контекста.
func (s *Service) StartReconciliation(ctx context.Context) {
	if s.reconcileInterval <= 0 {
		return
	}

	ticker := time.NewTicker(s.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcilePass(ctx)
		}
	}
}

// reconcilePass обрабатывает проекты последовательно, поэтому по одному
// проекту не бывает двух одновременных исправлений.
func (s *Service) reconcilePass(ctx context.Context) {
	drifts, err := s.repo.GetDriftedProjects(ctx)
	if err != nil {
		s.logger.Error("reconciliation scan failed", zap.Error(err))
		return
	}

	for _, d := range drifts {
		s.logger.Warn("project aggregate drift detected",
			zap.Int64("projectID", d.ProjectID),
			zap.Float64("stored", d.Stored),
			zap.Float64("expected", d.Expected))

		if err := s.repo.RepairProjectRaised(ctx, d.ProjectID); err != nil {
			s.logger.Error("project aggregate repair failed",
				zap.Int64("projectID", d.ProjectID),
				zap.Error(err))
		}
	}
}
