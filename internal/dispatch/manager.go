package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/zattra/wablast/internal/metrics"
	"github.com/zattra/wablast/internal/progress"
)

// Manager owns campaign lifecycles. The observed system processes one
// campaign at a time; a second start while one is in flight is
// rejected.
type Manager struct {
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu        sync.Mutex
	campaigns map[string]*Campaign
	running   *Campaign
	wg        sync.WaitGroup
}

// NewManager creates a campaign manager.
func NewManager(d *Dispatcher, logger *slog.Logger) *Manager {
	return &Manager{
		dispatcher: d,
		logger:     logger,
		campaigns:  make(map[string]*Campaign),
	}
}

// Start begins a new campaign and returns its handle. The campaign runs
// on its own goroutine; the caller observes it through Progress.
func (m *Manager) Start(recipients []Recipient, mediaSources []string, caption string) (string, error) {
	if len(recipients) == 0 {
		return "", ErrNoRecipients
	}
	if len(mediaSources) == 0 {
		for _, r := range recipients {
			if r.Message == "" && caption == "" {
				return "", ErrNoContent
			}
		}
	}

	c := newCampaign(recipients, mediaSources, caption)

	m.mu.Lock()
	if m.running != nil {
		m.mu.Unlock()
		return "", ErrCampaignRunning
	}
	m.running = c
	m.campaigns[c.ID] = c
	m.mu.Unlock()

	metrics.IncCampaignsStarted()
	metrics.SetCampaignActive(true)
	m.logger.Info("campaign started",
		"campaign_id", c.ID,
		"recipients", len(recipients),
		"media", len(mediaSources),
	)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.dispatcher.Run(context.Background(), c)

		metrics.SetCampaignActive(false)
		m.mu.Lock()
		if m.running == c {
			m.running = nil
		}
		m.mu.Unlock()
	}()

	return c.ID, nil
}

// newCampaign builds a campaign with a fresh handle and a pending
// tracker entry per recipient.
func newCampaign(recipients []Recipient, mediaSources []string, caption string) *Campaign {
	c := &Campaign{
		ID:         uuid.New().String(),
		Recipients: recipients,
		Media:      mediaSources,
		Caption:    caption,
		cancelCh:   make(chan struct{}),
	}

	entries := make([]progress.Entry, len(recipients))
	for i, r := range recipients {
		entries[i] = progress.Entry{
			Phone:       r.Phone,
			Name:        r.Name,
			TotalImages: c.messagesPerRecipient(),
		}
	}
	c.tracker = progress.NewTracker(c.ID, entries)
	return c
}

// Progress returns a snapshot for the given handle.
func (m *Manager) Progress(handle string) (progress.CampaignProgress, bool) {
	m.mu.Lock()
	c, ok := m.campaigns[handle]
	m.mu.Unlock()
	if !ok {
		return progress.CampaignProgress{}, false
	}
	return c.Progress(), true
}

// Cancel requests cancellation of the given campaign. Returns false if
// the handle is unknown.
func (m *Manager) Cancel(handle string) bool {
	m.mu.Lock()
	c, ok := m.campaigns[handle]
	m.mu.Unlock()
	if !ok {
		return false
	}
	c.Cancel()
	m.logger.Info("campaign cancellation requested", "campaign_id", handle)
	return true
}

// Shutdown cancels any in-flight campaign and waits for it to record a
// terminal state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	c := m.running
	m.mu.Unlock()
	if c != nil {
		c.Cancel()
	}
	m.wg.Wait()
}
