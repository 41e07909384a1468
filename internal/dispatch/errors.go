package dispatch

import (
	"errors"
	"strings"
)

// ErrorKind classifies a terminal send failure.
type ErrorKind string

const (
	KindInvalidPhone ErrorKind = "invalid_phone"
	KindRateLimited  ErrorKind = "rate_limited"
	KindRejected     ErrorKind = "rejected"
	KindTransport    ErrorKind = "transport"
)

var (
	// ErrCampaignRunning is returned when a campaign start is rejected
	// because another campaign is already in flight.
	ErrCampaignRunning = errors.New("another campaign is already running")

	// ErrCampaignCancelled is the campaign-fatal cancellation cause.
	ErrCampaignCancelled = errors.New("campaign cancelled")

	// ErrNoRecipients is returned for a campaign with an empty
	// recipient list.
	ErrNoRecipients = errors.New("campaign has no recipients")

	// ErrNoContent is returned when a recipient has neither a message
	// nor any campaign media.
	ErrNoContent = errors.New("recipient has no message and campaign has no media")
)

// rejectionClass is the verdict of matching a gateway rejection message
// against the closed signature sets. Classification happens in exactly
// one place so wording changes stay contained.
type rejectionClass int

const (
	rejectionOther rejectionClass = iota
	rejectionRateLimit
	rejectionBadNumber
)

// rateLimitSignatures are provider phrases indicating the per-account
// protection window was violated. Retried once after a wait.
var rateLimitSignatures = []string{
	"too many requests",
	"rate limit",
	"rate-limit",
	"wait a few seconds",
	"protection",
	"flood",
}

// badNumberSignatures are provider phrases indicating a number-format
// problem or a number not on the messaging network. Retried against the
// next phone candidate without extra wait.
var badNumberSignatures = []string{
	"not on whatsapp",
	"not registered",
	"invalid number",
	"invalid phone",
	"number format",
	"recipient not found",
}

func classifyRejection(msg string) rejectionClass {
	lower := strings.ToLower(msg)
	for _, sig := range rateLimitSignatures {
		if strings.Contains(lower, sig) {
			return rejectionRateLimit
		}
	}
	for _, sig := range badNumberSignatures {
		if strings.Contains(lower, sig) {
			return rejectionBadNumber
		}
	}
	return rejectionOther
}
