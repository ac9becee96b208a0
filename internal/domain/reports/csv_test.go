package reports

import (
	"strings"
	"testing"
	"time"

	"emooti/internal/domain/audit"
)

func TestAuditCSV(t *testing.T) {
	entries := []audit.Entry{
		{
			ID:            "e1",
			Timestamp:     time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
			UserID:        "user-1",
			Action:        audit.ActionDataAccess,
			ResourceType:  "Student",
			ResourceID:    "student-1",
			IPAddress:     "10.0.0.1",
			IntegrityHash: "hash1",
		},
		{
			ID:           "e2",
			Timestamp:    time.Date(2025, 6, 1, 10, 1, 0, 0, time.UTC),
			UserID:       "user-1",
			Action:       audit.ActionDataExport,
			PreviousHash: "hash1",
		},
	}

	out, err := AuditCSV(entries)
	if err != nil {
		t.Fatalf("AuditCSV: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want header plus 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,timestamp,userId") {
		t.Fatalf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], audit.ActionDataAccess) || !strings.Contains(lines[1], "10.0.0.1") {
		t.Fatalf("row 1 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "hash1") {
		t.Fatalf("row 2 should carry the previous hash: %q", lines[2])
	}
}

func TestAuditCSVEmpty(t *testing.T) {
	out, err := AuditCSV(nil)
	if err != nil {
		t.Fatalf("AuditCSV: %v", err)
	}
	if strings.Count(strings.TrimSpace(string(out)), "\n") != 0 {
		t.Fatal("expected header only")
	}
}
