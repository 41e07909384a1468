package history

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndList(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		err := s.Append(&OutcomeRecord{
			CampaignID: "c1",
			Seq:        i,
			Phone:      fmt.Sprintf("+628%d", i),
			Success:    i != 1,
			ErrorKind:  map[bool]string{true: "", false: "rejected"}[i != 1],
			Attempts:   1,
			Timestamp:  time.Now(),
		})
		if err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	// Records from another campaign must not bleed in.
	if err := s.Append(&OutcomeRecord{CampaignID: "c2", Seq: 0, Phone: "+6299"}); err != nil {
		t.Fatal(err)
	}

	records, err := s.List("c1")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("List() returned %d records, want 3", len(records))
	}
	for i, rec := range records {
		if rec.Seq != i {
			t.Errorf("record %d has seq %d, want send order", i, rec.Seq)
		}
	}
	if records[1].ErrorKind != "rejected" {
		t.Errorf("record 1 error kind = %q, want rejected", records[1].ErrorKind)
	}
}

func TestListUnknownCampaign(t *testing.T) {
	s := newTestStore(t)

	records, err := s.List("missing")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("List() returned %d records, want 0", len(records))
	}
}

func TestCampaignSummary(t *testing.T) {
	s := newTestStore(t)

	rec := &CampaignRecord{
		ID:           "c1",
		Phase:        "done",
		TotalSuccess: 5,
		TotalFailed:  1,
		StartedAt:    time.Now().Add(-time.Minute),
		FinishedAt:   time.Now(),
	}
	if err := s.SaveCampaign(rec); err != nil {
		t.Fatalf("SaveCampaign() error: %v", err)
	}

	got, err := s.GetCampaign("c1")
	if err != nil {
		t.Fatalf("GetCampaign() error: %v", err)
	}
	if got == nil || got.TotalSuccess != 5 || got.Phase != "done" {
		t.Errorf("GetCampaign() = %+v", got)
	}

	missing, err := s.GetCampaign("nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing != nil {
		t.Errorf("GetCampaign(nope) = %+v, want nil", missing)
	}
}

func TestCleanup(t *testing.T) {
	s := newTestStore(t)

	old := &CampaignRecord{ID: "old", Phase: "done", FinishedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &CampaignRecord{ID: "fresh", Phase: "done", FinishedAt: time.Now()}
	for _, rec := range []*CampaignRecord{old, fresh} {
		if err := s.SaveCampaign(rec); err != nil {
			t.Fatal(err)
		}
		if err := s.Append(&OutcomeRecord{CampaignID: rec.ID, Seq: 0, Phone: "+6281"}); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := s.Cleanup(24 * time.Hour)
	if err != nil {
		t.Fatalf("Cleanup() error: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Cleanup() deleted %d campaigns, want 1", deleted)
	}

	if got, _ := s.GetCampaign("old"); got != nil {
		t.Error("expired campaign still present")
	}
	if records, _ := s.List("old"); len(records) != 0 {
		t.Error("expired campaign outcomes still present")
	}
	if got, _ := s.GetCampaign("fresh"); got == nil {
		t.Error("fresh campaign was deleted")
	}
}

func TestCleanupZeroMaxAge(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveCampaign(&CampaignRecord{ID: "c1", FinishedAt: time.Now().Add(-time.Hour * 1000)}); err != nil {
		t.Fatal(err)
	}
	deleted, err := s.Cleanup(0)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 0 {
		t.Errorf("Cleanup(0) deleted %d, want 0 (keep forever)", deleted)
	}
}
