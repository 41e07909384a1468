package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zattra/wablast/internal/gateway"
	"github.com/zattra/wablast/internal/metrics"
)

// Gateway is the set of primitive gateway operations the dispatcher
// drives. Satisfied by gateway.Client.
type Gateway interface {
	SendText(ctx context.Context, phone, message string) error
	SendMedia(ctx context.Context, phone, publicRef, caption string) error
	Upload(ctx context.Context, inline string) (string, error)
}

// SendOutcome is the terminal result of one recipient message.
type SendOutcome struct {
	Phone      string
	Success    bool
	Kind       ErrorKind
	RawMessage string
	Attempts   int
}

// sendFunc performs one gateway call against a single phone candidate.
type sendFunc func(ctx context.Context, phone string) error

// retrySender wraps gateway calls with the two-axis retry policy:
// rate-limit rejections are retried once against the same candidate
// after a wait, number-format rejections advance to the next candidate,
// and everything else is terminal immediately. Retrying a format
// problem against the rate limiter would waste the scarce send budget;
// retrying a rate-limited send on a different candidate fixes nothing.
type retrySender struct {
	sleep     func(ctx context.Context, d time.Duration) error
	retryWait time.Duration // fallback when the gateway gives no hint
	logger    *slog.Logger
}

// send tries phone candidates in order until one yields a terminal
// outcome. An interrupted retry wait (cancellation) returns an error
// instead of an outcome; the caller stops the campaign rather than
// record a synthetic failure against the recipient.
func (s *retrySender) send(ctx context.Context, candidates []string, do sendFunc) (SendOutcome, error) {
	attempts := 0
	var lastRejection string

	for _, candidate := range candidates {
		err := do(ctx, candidate)
		attempts++

		if err == nil {
			return SendOutcome{Phone: candidate, Success: true, Attempts: attempts}, nil
		}

		var rej *gateway.RejectedError
		if !errors.As(err, &rej) {
			return SendOutcome{Phone: candidate, Kind: KindTransport, RawMessage: err.Error(), Attempts: attempts}, nil
		}

		switch classifyRejection(rej.Message) {
		case rejectionRateLimit:
			metrics.IncSendRetries("rate_limit")
			wait := rej.RetryAfter
			if wait <= 0 {
				wait = s.retryWait
			}
			s.logger.Warn("rate limited, retrying once", "phone", candidate, "wait", wait, "message", rej.Message)

			if err := s.sleep(ctx, wait); err != nil {
				return SendOutcome{}, err
			}

			err = do(ctx, candidate)
			attempts++
			if err == nil {
				return SendOutcome{Phone: candidate, Success: true, Attempts: attempts}, nil
			}
			// A second failure of any kind is terminal for this recipient.
			return terminalOutcome(candidate, err, attempts), nil

		case rejectionBadNumber:
			metrics.IncSendRetries("number_format")
			s.logger.Debug("number-format rejection, trying next candidate", "phone", candidate, "message", rej.Message)
			lastRejection = rej.Message
			continue

		default:
			return SendOutcome{Phone: candidate, Kind: KindRejected, RawMessage: rej.Message, Attempts: attempts}, nil
		}
	}

	// Every candidate was rejected as a bad number.
	return SendOutcome{
		Phone:      candidates[len(candidates)-1],
		Kind:       KindRejected,
		RawMessage: lastRejection,
		Attempts:   attempts,
	}, nil
}

// terminalOutcome maps an error from a final attempt to its outcome.
func terminalOutcome(phone string, err error, attempts int) SendOutcome {
	var rej *gateway.RejectedError
	if errors.As(err, &rej) {
		kind := KindRejected
		if classifyRejection(rej.Message) == rejectionRateLimit {
			kind = KindRateLimited
		}
		return SendOutcome{Phone: phone, Kind: kind, RawMessage: rej.Message, Attempts: attempts}
	}
	return SendOutcome{Phone: phone, Kind: KindTransport, RawMessage: err.Error(), Attempts: attempts}
}
