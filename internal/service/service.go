package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/charlzpiarro/update/internal/domain"
	"github.com/charlzpiarro/update/internal/stockreport"
	"github.com/charlzpiarro/update/internal/store"
	"github.com/charlzpiarro/update/internal/xid"
)

const DefaultRefundWindow = 50 * 24 * time.Hour

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	RefundWindow time.Duration
}

type Service struct {
	repo         store.Repository
	reports      *stockreport.Engine
	refundWindow time.Duration
	now          func() time.Time
}

func New(repo store.Repository, reports *stockreport.Engine, opts Options) *Service {
	if opts.RefundWindow <= 0 {
		opts.RefundWindow = DefaultRefundWindow
	}
	if reports == nil {
		reports = stockreport.NewEngine(repo, nil, 0, 0)
	}

	return &Service{
		repo:         repo,
		reports:      reports,
		refundWindow: opts.RefundWindow,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := s.authorize(ctx, OpViewAuditLogs); err != nil {
		return nil, err
	}
	from, err := parseDay(date, s.now())
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 200
	}
	return s.repo.ListAuditLogs(ctx, from, from.Add(24*time.Hour), limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func (s *Service) stockChanged(ctx context.Context) {
	s.reports.Invalidate(ctx)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", store.ErrValidation, fmt.Sprintf(format, args...))
}

func parseDay(raw string, fallback time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		t := fallback.UTC()
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, invalid("date must be YYYY-MM-DD")
	}
	return parsed.UTC(), nil
}

func parseExpiry(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, invalid("expiry_date must be YYYY-MM-DD")
	}
	exp := parsed.UTC()
	return &exp, nil
}

func ptr[T any](v T) *T {
	return &v
}
