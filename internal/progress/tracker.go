package progress

import (
	"sync"
	"time"
)

// Phase represents the lifecycle phase of a campaign
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePreparing Phase = "preparing"
	PhaseSending   Phase = "sending"
	PhaseDone      Phase = "done"
	PhaseError     Phase = "error"
)

// RecipientStatus represents the per-recipient sub-state
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSending RecipientStatus = "sending"
	RecipientDone    RecipientStatus = "done"
	RecipientError   RecipientStatus = "error"
)

// RecipientProgress tracks one recipient's state within a campaign.
type RecipientProgress struct {
	Phone       string          `json:"phone"`
	Name        string          `json:"name,omitempty"`
	Status      RecipientStatus `json:"status"`
	DoneImages  int             `json:"done_images"`
	TotalImages int             `json:"total_images"`
	Success     int             `json:"success"`
	Failed      int             `json:"failed"`
	LastError   string          `json:"last_error,omitempty"`
}

// CampaignProgress is an aggregate snapshot of one campaign.
type CampaignProgress struct {
	ID                string              `json:"id"`
	Phase             Phase               `json:"phase"`
	TotalMessages     int                 `json:"total_messages"`
	AttemptedMessages int                 `json:"attempted_messages"`
	TotalSuccess      int                 `json:"total_success"`
	TotalFailed       int                 `json:"total_failed"`
	TotalCustomers    int                 `json:"total_customers"`
	DoneCustomers     int                 `json:"done_customers"`
	Error             string              `json:"error,omitempty"`
	StartedAt         time.Time           `json:"started_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
	Recipients        []RecipientProgress `json:"recipients"`
}

// Tracker aggregates per-recipient and per-campaign counters. The
// dispatcher is the only writer; observers read snapshots, which never
// regress because updates are applied in strict send order.
type Tracker struct {
	mu sync.Mutex
	p  CampaignProgress
}

// Entry describes one recipient at campaign start.
type Entry struct {
	Phone       string
	Name        string
	TotalImages int
}

// NewTracker creates a tracker with one pending entry per recipient.
func NewTracker(id string, entries []Entry) *Tracker {
	p := CampaignProgress{
		ID:        id,
		Phase:     PhaseIdle,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	for _, e := range entries {
		p.Recipients = append(p.Recipients, RecipientProgress{
			Phone:       e.Phone,
			Name:        e.Name,
			Status:      RecipientPending,
			TotalImages: e.TotalImages,
		})
		p.TotalMessages += e.TotalImages
	}
	p.TotalCustomers = len(entries)
	return &Tracker{p: p}
}

// SetPhase advances the campaign phase.
func (t *Tracker) SetPhase(phase Phase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Phase = phase
	t.p.UpdatedAt = time.Now()
}

// Fail marks the campaign as terminally failed with a campaign-level
// cause. Already-recorded progress stays intact.
func (t *Tracker) Fail(reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Phase = PhaseError
	t.p.Error = reason
	t.p.UpdatedAt = time.Now()
}

// BeginRecipient marks recipient i as in-flight.
func (t *Tracker) BeginRecipient(i int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.p.Recipients[i].Status = RecipientSending
	t.p.UpdatedAt = time.Now()
}

// RecordAttempt records the terminal outcome of one message attempt for
// recipient i.
func (t *Tracker) RecordAttempt(i int, success bool, lastError string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := &t.p.Recipients[i]
	r.DoneImages++
	if success {
		r.Success++
		t.p.TotalSuccess++
	} else {
		r.Failed++
		r.LastError = lastError
		t.p.TotalFailed++
	}
	t.p.AttemptedMessages++
	t.p.UpdatedAt = time.Now()
}

// FinishRecipient marks recipient i terminal once all of its messages
// have been attempted: error iff any attempt failed, done otherwise.
func (t *Tracker) FinishRecipient(i int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := &t.p.Recipients[i]
	if r.Failed > 0 {
		r.Status = RecipientError
	} else {
		r.Status = RecipientDone
	}
	t.p.DoneCustomers++
	t.p.UpdatedAt = time.Now()
}

// SkipRecipient marks recipient i as failed without any gateway
// attempts, recording one failed attempt per planned message so the
// aggregate counters stay consistent.
func (t *Tracker) SkipRecipient(i int, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := &t.p.Recipients[i]
	for r.DoneImages < r.TotalImages {
		r.DoneImages++
		r.Failed++
		t.p.TotalFailed++
		t.p.AttemptedMessages++
	}
	r.LastError = reason
	r.Status = RecipientError
	t.p.DoneCustomers++
	t.p.UpdatedAt = time.Now()
}

// Snapshot returns a copy of the current campaign progress, safe for
// the caller to retain.
func (t *Tracker) Snapshot() CampaignProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := t.p
	snap.Recipients = make([]RecipientProgress, len(t.p.Recipients))
	copy(snap.Recipients, t.p.Recipients)
	return snap
}
