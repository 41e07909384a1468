package dispatch

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zattra/wablast/internal/history"
	"github.com/zattra/wablast/internal/media"
	"github.com/zattra/wablast/internal/metrics"
	"github.com/zattra/wablast/internal/pacing"
	"github.com/zattra/wablast/internal/phone"
	"github.com/zattra/wablast/internal/progress"
)

// Recipient is one message target. Recipients are consumed, never
// mutated, by the dispatcher.
type Recipient struct {
	Phone   string
	Name    string
	Message string
}

// Campaign is one bulk-send operation over a recipient list.
type Campaign struct {
	ID         string
	Recipients []Recipient
	Media      []string // media sources shared by all recipients
	Caption    string

	tracker    *progress.Tracker
	cancelled  atomic.Bool
	cancelCh   chan struct{}
	cancelOnce sync.Once
}

// Cancel requests the campaign to stop advancing. Already-recorded
// progress stays intact.
func (c *Campaign) Cancel() {
	c.cancelOnce.Do(func() {
		c.cancelled.Store(true)
		close(c.cancelCh)
	})
}

// Progress returns a snapshot of the campaign's progress, safe to poll
// repeatedly.
func (c *Campaign) Progress() progress.CampaignProgress {
	return c.tracker.Snapshot()
}

// messagesPerRecipient returns how many gateway messages each recipient
// of this campaign receives: one per media item, or one text message.
func (c *Campaign) messagesPerRecipient() int {
	if len(c.Media) > 0 {
		return len(c.Media)
	}
	return 1
}

// Options configures a Dispatcher.
type Options struct {
	Pacing             pacing.Config
	DefaultCountryCode string
	RetryWaitMargin    time.Duration // added to the pacing floor when the gateway gives no retry hint
	HostedPrefix       string        // media already under this prefix skips re-upload
	FetchClient        *http.Client  // used to fetch remote media sources

	// Rand and Sleep are injectable for deterministic tests. Nil values
	// fall back to a time-seeded source and a real timer.
	Rand  *rand.Rand
	Sleep func(ctx context.Context, d time.Duration) error
}

// Dispatcher runs campaigns strictly sequentially: one logical worker,
// suspending only for pacing delays and gateway round-trips. The
// gateway's per-account rate limit makes concurrent sends
// counterproductive.
type Dispatcher struct {
	gw      Gateway
	journal *history.Store // optional
	opts    Options
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher. journal may be nil to disable
// outcome journaling.
func NewDispatcher(gw Gateway, journal *history.Store, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Dispatcher{
		gw:      gw,
		journal: journal,
		opts:    opts,
		logger:  logger,
	}
}

// Run drives one campaign to a terminal phase. It blocks until the
// campaign reaches done or error.
func (d *Dispatcher) Run(ctx context.Context, c *Campaign) {
	logger := d.logger.With("campaign_id", c.ID)
	policy := pacing.NewPolicy(d.opts.Pacing, d.opts.Rand)

	c.tracker.SetPhase(progress.PhasePreparing)

	refs, ok := d.prepareMedia(ctx, c, logger)
	if !ok {
		return
	}

	candidates, validCount := d.normalizePhones(c)
	if validCount == 0 {
		d.failCampaign(c, "no valid recipients", logger)
		return
	}

	c.tracker.SetPhase(progress.PhaseSending)

	sender := &retrySender{
		sleep:     d.sleep(c),
		retryWait: policy.Base() + d.opts.RetryWaitMargin,
		logger:    logger,
	}

	seq := 0     // journal sequence, covers skips too
	sendIdx := 0 // global send index driving pacing

	for i, r := range c.Recipients {
		if c.cancelled.Load() {
			d.cancelCampaign(c, logger)
			return
		}

		if candidates[i] == nil {
			c.tracker.SkipRecipient(i, phone.ErrInvalidPhone.Error())
			for m := 0; m < c.messagesPerRecipient(); m++ {
				d.journalOutcome(c, seq, SendOutcome{Phone: r.Phone, Kind: KindInvalidPhone, RawMessage: phone.ErrInvalidPhone.Error()})
				metrics.IncMessagesFailed(string(KindInvalidPhone))
				seq++
			}
			logger.Warn("recipient skipped", "phone", r.Phone, "reason", "invalid phone")
			continue
		}

		c.tracker.BeginRecipient(i)

		for m := 0; m < c.messagesPerRecipient(); m++ {
			if c.cancelled.Load() {
				d.cancelCampaign(c, logger)
				return
			}

			delay := policy.Delay(sendIdx)
			metrics.ObservePacingWait(delay.Seconds())
			if err := sender.sleep(ctx, delay); err != nil {
				d.cancelCampaign(c, logger)
				return
			}
			if c.cancelled.Load() {
				d.cancelCampaign(c, logger)
				return
			}

			outcome, err := sender.send(ctx, candidates[i], d.messageSend(c, refs, r, m))
			if err != nil {
				// The retry wait was interrupted by a cancel; nothing
				// was concluded about this message.
				d.cancelCampaign(c, logger)
				return
			}
			sendIdx++

			c.tracker.RecordAttempt(i, outcome.Success, outcome.RawMessage)
			d.journalOutcome(c, seq, outcome)
			seq++

			if outcome.Success {
				metrics.IncMessagesSent()
				logger.Info("message sent", "phone", outcome.Phone, "attempts", outcome.Attempts)
			} else {
				metrics.IncMessagesFailed(string(outcome.Kind))
				logger.Warn("message failed",
					"phone", outcome.Phone,
					"kind", outcome.Kind,
					"attempts", outcome.Attempts,
					"message", outcome.RawMessage,
				)
			}
		}

		c.tracker.FinishRecipient(i)
	}

	c.tracker.SetPhase(progress.PhaseDone)
	d.saveCampaign(c)
	logger.Info("campaign done")
}

// prepareMedia resolves every distinct media source exactly once. A
// single failure aborts the campaign before anything is sent.
func (d *Dispatcher) prepareMedia(ctx context.Context, c *Campaign, logger *slog.Logger) ([]string, bool) {
	if len(c.Media) == 0 {
		return nil, true
	}

	resolver := media.NewResolver(d.gw, d.opts.FetchClient, d.opts.HostedPrefix, logger)
	refs := make([]string, 0, len(c.Media))
	for _, src := range c.Media {
		ref, err := resolver.Resolve(ctx, src)
		if err != nil {
			logger.Error("media resolution failed", "source", src, "error", err)
			d.failCampaign(c, err.Error(), logger)
			return nil, false
		}
		refs = append(refs, ref)
	}
	return refs, true
}

// normalizePhones derives candidate lists upfront; nil marks a
// recipient that fails fast without any gateway call.
func (d *Dispatcher) normalizePhones(c *Campaign) ([][]string, int) {
	candidates := make([][]string, len(c.Recipients))
	valid := 0
	for i, r := range c.Recipients {
		list, err := phone.Normalize(r.Phone, d.opts.DefaultCountryCode)
		if err != nil {
			continue
		}
		candidates[i] = list
		valid++
	}
	return candidates, valid
}

// messageSend builds the gateway call for message m of a recipient. The
// caption accompanies only the first image of a multi-image recipient.
func (d *Dispatcher) messageSend(c *Campaign, refs []string, r Recipient, m int) sendFunc {
	if len(refs) > 0 {
		caption := ""
		if m == 0 {
			caption = c.Caption
		}
		ref := refs[m]
		return func(ctx context.Context, phone string) error {
			return d.gw.SendMedia(ctx, phone, ref, caption)
		}
	}

	text := r.Message
	if text == "" {
		text = c.Caption
	}
	return func(ctx context.Context, phone string) error {
		return d.gw.SendText(ctx, phone, text)
	}
}

// sleep returns a sleep function that also wakes on campaign
// cancellation, so a cool-down break does not delay a cancel.
func (d *Dispatcher) sleep(c *Campaign) func(ctx context.Context, dur time.Duration) error {
	return func(ctx context.Context, dur time.Duration) error {
		cancelCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-c.cancelCh:
				cancel()
			case <-cancelCtx.Done():
			}
		}()
		return d.opts.Sleep(cancelCtx, dur)
	}
}

func (d *Dispatcher) cancelCampaign(c *Campaign, logger *slog.Logger) {
	c.tracker.Fail(ErrCampaignCancelled.Error())
	metrics.IncCampaignsFailed()
	d.saveCampaign(c)
	logger.Info("campaign cancelled")
}

func (d *Dispatcher) failCampaign(c *Campaign, reason string, logger *slog.Logger) {
	c.tracker.Fail(reason)
	metrics.IncCampaignsFailed()
	d.saveCampaign(c)
	logger.Error("campaign failed", "reason", reason)
}

func (d *Dispatcher) journalOutcome(c *Campaign, seq int, outcome SendOutcome) {
	if d.journal == nil {
		return
	}
	err := d.journal.Append(&history.OutcomeRecord{
		CampaignID: c.ID,
		Seq:        seq,
		Phone:      outcome.Phone,
		Success:    outcome.Success,
		ErrorKind:  string(outcome.Kind),
		RawMessage: outcome.RawMessage,
		Attempts:   outcome.Attempts,
		Timestamp:  time.Now(),
	})
	if err != nil {
		d.logger.Error("failed to journal outcome", "campaign_id", c.ID, "error", err)
	}
}

func (d *Dispatcher) saveCampaign(c *Campaign) {
	if d.journal == nil {
		return
	}
	snap := c.tracker.Snapshot()
	err := d.journal.SaveCampaign(&history.CampaignRecord{
		ID:           snap.ID,
		Phase:        string(snap.Phase),
		TotalSuccess: snap.TotalSuccess,
		TotalFailed:  snap.TotalFailed,
		Error:        snap.Error,
		StartedAt:    snap.StartedAt,
		FinishedAt:   time.Now(),
	})
	if err != nil {
		d.logger.Error("failed to journal campaign", "campaign_id", c.ID, "error", err)
	}
}

// sleepContext waits for d or until the context is cancelled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
