package audit

import (
	"testing"
	"time"
)

func TestComputeHashDeterministic(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	a := ComputeHash("u1", ActionDataAccess, "Student", "s1", ts, "")
	b := ComputeHash("u1", ActionDataAccess, "Student", "s1", ts, "")
	if a != b {
		t.Fatalf("hash not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(a))
	}
}

func TestComputeHashSensitiveToEveryField(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	base := ComputeHash("u1", ActionDataAccess, "Student", "s1", ts, "prev")

	variants := []string{
		ComputeHash("u2", ActionDataAccess, "Student", "s1", ts, "prev"),
		ComputeHash("u1", ActionDataExport, "Student", "s1", ts, "prev"),
		ComputeHash("u1", ActionDataAccess, "User", "s1", ts, "prev"),
		ComputeHash("u1", ActionDataAccess, "Student", "s2", ts, "prev"),
		ComputeHash("u1", ActionDataAccess, "Student", "s1", ts.Add(time.Nanosecond), "prev"),
		ComputeHash("u1", ActionDataAccess, "Student", "s1", ts, "other"),
	}
	for i, v := range variants {
		if v == base {
			t.Fatalf("variant %d produced the same hash", i)
		}
	}
}

func TestComputeHashTimezoneNormalized(t *testing.T) {
	ts := time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC)
	madrid := time.FixedZone("CET", 3600)
	if ComputeHash("u1", ActionDataAccess, "Student", "s1", ts, "") !=
		ComputeHash("u1", ActionDataAccess, "Student", "s1", ts.In(madrid), "") {
		t.Fatal("same instant in different zones must hash identically")
	}
}
