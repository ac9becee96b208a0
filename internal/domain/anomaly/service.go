package anomaly

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAlertNotFound   = errors.New("alert not found")
	ErrInvalidStatus   = errors.New("invalid alert status transition")
	ErrNotesRequired   = errors.New("resolution notes are required")
	ErrMissingResolver = errors.New("resolvedBy is required")
)

// Notifier fans an alert out to administrators. Implementations must be safe
// for concurrent use; failures are logged, never propagated.
type Notifier interface {
	NotifyAdmins(ctx context.Context, title, body string) error
}

// Publisher emits alert events to an outbound channel (message bus).
type Publisher interface {
	PublishAlert(ctx context.Context, alert Alert) error
}

type Metrics interface {
	RecordAlert(merged bool)
}

const mergeWindow = time.Hour

const mergeLockStripes = 32

// Service owns the alert lifecycle: dedupe/merge on creation, operator
// resolution, admin fan-out for HIGH and CRITICAL severities.
type Service struct {
	store      StoreAPI
	notifier   Notifier
	publisher  Publisher
	metrics    Metrics
	mergeLocks [mergeLockStripes]sync.Mutex
	now        func() time.Time
}

func NewService(store StoreAPI, notifier Notifier, publisher Publisher, metrics Metrics) *Service {
	return &Service{store: store, notifier: notifier, publisher: publisher, metrics: metrics, now: time.Now}
}

func (s *Service) mergeLock(alertType, severity, userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(alertType + "|" + severity + "|" + userID))
	return &s.mergeLocks[h.Sum32()%mergeLockStripes]
}

// CreateAlert records a detection. A matching ACTIVE alert for the same
// (type, severity, user) tuple detected within the last hour is merged into
// instead of duplicated: descriptions concatenate, metadata keys override,
// and the occurrences counter increments.
func (s *Service) CreateAlert(ctx context.Context, userID, alertType, severity, description string, metadata map[string]any) (Alert, error) {
	lock := s.mergeLock(alertType, severity, userID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := s.store.FindActiveSince(ctx, alertType, severity, userID, s.now().Add(-mergeWindow))
	if err != nil {
		return Alert{}, fmt.Errorf("alert lookup: %w", err)
	}

	if existing != nil {
		merged := existing.Metadata
		if merged == nil {
			merged = map[string]any{}
		}
		for key, value := range metadata {
			merged[key] = value
		}
		merged["occurrences"] = occurrences(existing.Metadata) + 1

		combined := existing.Description
		if description != "" && !strings.HasSuffix(combined, description) {
			combined = combined + "; " + description
		}
		if err := s.store.UpdateMerged(ctx, existing.ID, combined, merged); err != nil {
			return Alert{}, fmt.Errorf("alert merge: %w", err)
		}
		existing.Description = combined
		existing.Metadata = merged
		if s.metrics != nil {
			s.metrics.RecordAlert(true)
		}
		return *existing, nil
	}

	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["occurrences"] = 1

	alert := Alert{
		ID:          uuid.NewString(),
		Type:        alertType,
		Severity:    severity,
		Description: description,
		UserID:      userID,
		Metadata:    metadata,
		DetectedAt:  s.now(),
		Status:      StatusActive,
	}

	// LOW severity is operational noise: created already resolved so it is
	// queryable but never demands operator attention.
	if severity == SeverityLow {
		now := s.now()
		alert.Status = StatusResolved
		alert.ResolvedBy = "system"
		alert.ResolvedAt = &now
		alert.ResolutionNotes = "auto-resolved: low severity"
	}

	if err := s.store.Insert(ctx, alert); err != nil {
		return Alert{}, fmt.Errorf("alert insert: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordAlert(false)
	}

	if severity == SeverityHigh || severity == SeverityCritical {
		s.fanOut(alert)
	}
	return alert, nil
}

// fanOut notifies administrators and publishes the alert event. Both are
// fire-and-forget: latency or failure here must never affect the request
// that triggered detection.
func (s *Service) fanOut(alert Alert) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		title := fmt.Sprintf("Security alert: %s (%s)", alert.Type, alert.Severity)
		if s.notifier != nil {
			if err := s.notifier.NotifyAdmins(ctx, title, alert.Description); err != nil {
				slog.Warn("alert admin notification failed", "alertId", alert.ID, "err", err)
			}
		}
		if s.publisher != nil {
			if err := s.publisher.PublishAlert(ctx, alert); err != nil {
				slog.Warn("alert event publish failed", "alertId", alert.ID, "err", err)
			}
		}
	}()
}

// ResolveAlert closes an alert with operator-provided notes. falsePositive
// selects the FALSE_POSITIVE terminal status instead of RESOLVED.
func (s *Service) ResolveAlert(ctx context.Context, id, notes, resolvedBy string, falsePositive bool) (Alert, error) {
	if strings.TrimSpace(notes) == "" {
		return Alert{}, ErrNotesRequired
	}
	if strings.TrimSpace(resolvedBy) == "" {
		return Alert{}, ErrMissingResolver
	}

	alert, err := s.store.Get(ctx, id)
	if err != nil {
		return Alert{}, ErrAlertNotFound
	}
	if alert.Status == StatusResolved || alert.Status == StatusFalsePositive {
		return Alert{}, ErrInvalidStatus
	}

	status := StatusResolved
	if falsePositive {
		status = StatusFalsePositive
	}
	resolvedAt := s.now()
	if err := s.store.Resolve(ctx, id, status, notes, resolvedBy, resolvedAt); err != nil {
		return Alert{}, fmt.Errorf("alert resolve: %w", err)
	}

	alert.Status = status
	alert.ResolutionNotes = notes
	alert.ResolvedBy = resolvedBy
	alert.ResolvedAt = &resolvedAt
	return *alert, nil
}

// MarkInvestigating moves an ACTIVE alert into INVESTIGATING.
func (s *Service) MarkInvestigating(ctx context.Context, id string) error {
	alert, err := s.store.Get(ctx, id)
	if err != nil {
		return ErrAlertNotFound
	}
	if alert.Status != StatusActive {
		return ErrInvalidStatus
	}
	return s.store.UpdateStatus(ctx, id, StatusInvestigating)
}

func (s *Service) Get(ctx context.Context, id string) (*Alert, error) {
	alert, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, ErrAlertNotFound
	}
	return alert, nil
}

func (s *Service) List(ctx context.Context, filter Filter, limit, offset int) ([]Alert, error) {
	return s.store.List(ctx, filter, limit, offset)
}

func (s *Service) Count(ctx context.Context, filter Filter) (int, error) {
	return s.store.Count(ctx, filter)
}

func (s *Service) CountsBySeverity(ctx context.Context) (map[string]int64, error) {
	return s.store.CountsBySeverity(ctx)
}

func (s *Service) CountsByStatus(ctx context.Context) (map[string]int64, error) {
	return s.store.CountsByStatus(ctx)
}

func occurrences(metadata map[string]any) int {
	if metadata == nil {
		return 1
	}
	switch v := metadata["occurrences"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 1
	}
}
