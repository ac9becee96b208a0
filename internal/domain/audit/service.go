package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const lockStripes = 64

type Metrics interface {
	RecordAuditAppend()
}

// Service is the audit log writer. Appends for the same subject are
// serialized so concurrent requests cannot produce two entries with the same
// previousHash.
type Service struct {
	store   StoreAPI
	Metrics Metrics
	locks   [lockStripes]sync.Mutex
	now     func() time.Time
}

func NewService(store StoreAPI) *Service {
	return &Service{store: store, now: time.Now}
}

func (s *Service) subjectLock(subject string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subject))
	return &s.locks[h.Sum32()%lockStripes]
}

// Append writes one integrity-chained entry. A persistence failure is logged
// and returned; the audit trail never fails silently, the caller decides
// whether the originating action may proceed.
func (s *Service) Append(ctx context.Context, in AppendInput) (Entry, error) {
	var details json.RawMessage
	if in.Details != nil {
		payload, err := json.Marshal(in.Details)
		if err != nil {
			return Entry{}, fmt.Errorf("marshal audit details: %w", err)
		}
		details = payload
	}

	subject := SubjectKey(in.UserID)
	lock := s.subjectLock(subject)
	lock.Lock()
	defer lock.Unlock()

	previous, err := s.store.LatestHash(ctx, subject)
	if err != nil {
		slog.Error("audit previous hash lookup failed", "subject", subject, "err", err)
		return Entry{}, fmt.Errorf("audit append: %w", err)
	}

	ts := s.now()
	entry := Entry{
		ID:           uuid.NewString(),
		Timestamp:    ts,
		UserID:       in.UserID,
		Action:       in.Action,
		ResourceType: in.ResourceType,
		ResourceID:   in.ResourceID,
		Details:      details,
		IPAddress:    in.IPAddress,
		UserAgent:    in.UserAgent,
		SessionID:    in.SessionID,
		PreviousHash: previous,
	}
	entry.IntegrityHash = entryHash(entry)

	if err := s.store.Insert(ctx, entry); err != nil {
		slog.Error("audit append failed", "subject", subject, "action", in.Action, "err", err)
		return Entry{}, fmt.Errorf("audit append: %w", err)
	}
	if s.Metrics != nil {
		s.Metrics.RecordAuditAppend()
	}
	return entry, nil
}

// VerifyChain replays every entry for a subject in timestamp order and checks
// both the previous-hash linkage and each entry's own integrity hash. Empty
// userID verifies the system chain.
func (s *Service) VerifyChain(ctx context.Context, userID string) (VerifyReport, error) {
	subject := SubjectKey(userID)
	entries, err := s.store.ListBySubject(ctx, subject)
	if err != nil {
		return VerifyReport{}, fmt.Errorf("verify chain: %w", err)
	}

	report := VerifyReport{Subject: subject, Entries: len(entries), Valid: true}
	previous := ""
	for _, entry := range entries {
		if entry.PreviousHash != previous {
			report.Valid = false
			report.FirstInvalidID = entry.ID
			report.Reason = "previous hash mismatch"
			break
		}
		if entryHash(entry) != entry.IntegrityHash {
			report.Valid = false
			report.FirstInvalidID = entry.ID
			report.Reason = "integrity hash mismatch"
			break
		}
		previous = entry.IntegrityHash
	}

	if !report.Valid {
		slog.Error("audit chain verification failed",
			"subject", subject,
			"entryId", report.FirstInvalidID,
			"reason", report.Reason,
		)
	}
	return report, nil
}

func (s *Service) List(ctx context.Context, filter Filter, limit, offset int) ([]Entry, error) {
	return s.store.List(ctx, filter, limit, offset)
}

func (s *Service) Count(ctx context.Context, filter Filter) (int, error) {
	return s.store.Count(ctx, filter)
}

func (s *Service) ListExport(ctx context.Context) ([]Entry, error) {
	return s.store.ListExport(ctx)
}

func (s *Service) CountsByAction(ctx context.Context) (map[string]int64, error) {
	return s.store.CountsByAction(ctx)
}

func (s *Service) IPWindowStats(ctx context.Context, ip string, since time.Time) (int, int, error) {
	return s.store.IPWindowStats(ctx, ip, since)
}
