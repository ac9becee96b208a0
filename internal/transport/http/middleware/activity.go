package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ActivityRecorder persists a user's lastActivity timestamp. The directory
// store implements it.
type ActivityRecorder interface {
	TouchActivity(ctx context.Context, userID string, at time.Time) error
}

type activityTracker struct {
	mu       sync.Mutex
	every    time.Duration
	lastSeen map[string]time.Time
	now      func() time.Time
}

// due reports whether the user's activity stamp should be written again and,
// when it is, records the write time.
func (a *activityTracker) due(userID string) (time.Time, bool) {
	now := a.now()
	a.mu.Lock()
	defer a.mu.Unlock()
	if now.Sub(a.lastSeen[userID]) < a.every {
		return now, false
	}
	a.lastSeen[userID] = now
	return now, true
}

// Activity stamps users.last_activity for authenticated requests. Retention
// of inactive users keys off that column, so it has to reflect any
// authenticated traffic, not just logins. Writes are throttled per user so
// a burst of requests costs one UPDATE.
func Activity(recorder ActivityRecorder, every time.Duration) func(http.Handler) http.Handler {
	tracker := &activityTracker{
		every:    every,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if user, ok := GetUser(r.Context()); ok {
				if at, due := tracker.due(user.UserID); due {
					if err := recorder.TouchActivity(r.Context(), user.UserID, at); err != nil {
						slog.Warn("activity touch failed", "userId", user.UserID, "err", err)
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
