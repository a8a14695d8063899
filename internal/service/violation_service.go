package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-integrity/internal/config"
	"github.com/stemsi/exstem-integrity/internal/model"
)

// ViolationService queues violations for the audit trail and announces them
// to the live monitor.
type ViolationService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewViolationService creates a new ViolationService.
func NewViolationService(rdb *redis.Client, log zerolog.Logger) *ViolationService {
	return &ViolationService{
		rdb: rdb,
		log: log.With().Str("component", "violation_service").Logger(),
	}
}

// Report queues ev for persistence.
func (s *ViolationService) Report(ctx context.Context, sess model.ExamSession, ev model.ViolationEvent) error {
	report := model.ViolationReport{
		AssignmentID: sess.AssignmentID.String(),
		UserID:       sess.UserID,
		Cause:        ev.Cause,
		Detail:       ev.Detail,
		Timestamp:    ev.OccurredAt.Unix(),
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data).Err(); err != nil {
		return fmt.Errorf("queue violation: %w", err)
	}

	publishMonitorEvent(ctx, s.rdb, s.log, report.AssignmentID, model.MonitorEvent{
		Type:       model.MonitorEventViolation,
		UserID:     sess.UserID,
		Cause:      ev.Cause,
		OccurredAt: ev.OccurredAt,
	})
	return nil
}
