package progress

import (
	"testing"
)

func checkInvariants(t *testing.T, p CampaignProgress) {
	t.Helper()

	sumDone := 0
	doneCustomers := 0
	for _, r := range p.Recipients {
		sumDone += r.DoneImages
		if r.Status == RecipientDone || r.Status == RecipientError {
			doneCustomers++
		}
	}

	if p.AttemptedMessages != sumDone {
		t.Errorf("attempted = %d, sum of done images = %d", p.AttemptedMessages, sumDone)
	}
	if p.TotalSuccess+p.TotalFailed != p.AttemptedMessages {
		t.Errorf("success %d + failed %d != attempted %d", p.TotalSuccess, p.TotalFailed, p.AttemptedMessages)
	}
	if p.DoneCustomers != doneCustomers {
		t.Errorf("done customers = %d, counted %d", p.DoneCustomers, doneCustomers)
	}
	if p.AttemptedMessages > p.TotalMessages {
		t.Errorf("attempted %d exceeds total %d", p.AttemptedMessages, p.TotalMessages)
	}
}

func TestTrackerMixedOutcomes(t *testing.T) {
	tr := NewTracker("c1", []Entry{
		{Phone: "+6281", TotalImages: 2},
		{Phone: "+6282", TotalImages: 2},
		{Phone: "+6283", TotalImages: 1},
	})

	tr.SetPhase(PhaseSending)

	tr.BeginRecipient(0)
	tr.RecordAttempt(0, true, "")
	tr.RecordAttempt(0, true, "")
	tr.FinishRecipient(0)
	checkInvariants(t, tr.Snapshot())

	tr.BeginRecipient(1)
	tr.RecordAttempt(1, true, "")
	tr.RecordAttempt(1, false, "gateway rejected: spam")
	tr.FinishRecipient(1)
	checkInvariants(t, tr.Snapshot())

	tr.BeginRecipient(2)
	tr.RecordAttempt(2, false, "transport failure")
	tr.FinishRecipient(2)
	tr.SetPhase(PhaseDone)

	p := tr.Snapshot()
	checkInvariants(t, p)

	if p.TotalSuccess != 3 || p.TotalFailed != 2 {
		t.Errorf("success/failed = %d/%d, want 3/2", p.TotalSuccess, p.TotalFailed)
	}
	if p.Recipients[0].Status != RecipientDone {
		t.Errorf("recipient 0 status = %s, want done", p.Recipients[0].Status)
	}
	if p.Recipients[1].Status != RecipientError {
		t.Errorf("recipient 1 status = %s, want error (had a failure)", p.Recipients[1].Status)
	}
	if p.Recipients[1].LastError != "gateway rejected: spam" {
		t.Errorf("recipient 1 last error = %q", p.Recipients[1].LastError)
	}
	if p.DoneCustomers != 3 {
		t.Errorf("done customers = %d, want 3", p.DoneCustomers)
	}
}

func TestTrackerSkipRecipient(t *testing.T) {
	tr := NewTracker("c1", []Entry{
		{Phone: "bogus", TotalImages: 3},
		{Phone: "+6281", TotalImages: 1},
	})

	tr.SkipRecipient(0, "invalid phone number")
	p := tr.Snapshot()
	checkInvariants(t, p)

	if p.Recipients[0].Status != RecipientError {
		t.Errorf("status = %s, want error", p.Recipients[0].Status)
	}
	if p.Recipients[0].DoneImages != 3 || p.Recipients[0].Failed != 3 {
		t.Errorf("done/failed = %d/%d, want 3/3", p.Recipients[0].DoneImages, p.Recipients[0].Failed)
	}
	if p.AttemptedMessages != 3 || p.TotalFailed != 3 {
		t.Errorf("attempted/failed = %d/%d, want 3/3", p.AttemptedMessages, p.TotalFailed)
	}
}

func TestTrackerFailKeepsProgress(t *testing.T) {
	tr := NewTracker("c1", []Entry{{Phone: "+6281", TotalImages: 2}})

	tr.SetPhase(PhaseSending)
	tr.BeginRecipient(0)
	tr.RecordAttempt(0, true, "")
	tr.Fail("campaign cancelled")

	p := tr.Snapshot()
	if p.Phase != PhaseError {
		t.Errorf("phase = %s, want error", p.Phase)
	}
	if p.Error != "campaign cancelled" {
		t.Errorf("error = %q", p.Error)
	}
	if p.TotalSuccess != 1 {
		t.Errorf("recorded progress lost: success = %d, want 1", p.TotalSuccess)
	}
}

func TestSnapshotIsolation(t *testing.T) {
	tr := NewTracker("c1", []Entry{{Phone: "+6281", TotalImages: 1}})

	snap := tr.Snapshot()
	tr.RecordAttempt(0, true, "")

	if snap.AttemptedMessages != 0 || snap.Recipients[0].DoneImages != 0 {
		t.Error("snapshot mutated by later tracker writes")
	}
}

func TestTrackerTotals(t *testing.T) {
	tr := NewTracker("c1", []Entry{
		{Phone: "+6281", TotalImages: 4},
		{Phone: "+6282", TotalImages: 1},
	})
	p := tr.Snapshot()

	if p.TotalMessages != 5 {
		t.Errorf("total messages = %d, want 5", p.TotalMessages)
	}
	if p.TotalCustomers != 2 {
		t.Errorf("total customers = %d, want 2", p.TotalCustomers)
	}
	if p.Phase != PhaseIdle {
		t.Errorf("initial phase = %s, want idle", p.Phase)
	}
}
