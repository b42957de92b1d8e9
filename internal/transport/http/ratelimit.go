package http

import (
	"golang.org/x/time/rate"

	"github.com/doctordirect/consult-relay/internal/proto"
)

// newMessageLimiter builds a per-connection token bucket. A non-positive rate disables limiting.
func newMessageLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// rateLimited reports whether inbound counts against the message limiter.
func rateLimited(inboundType string) bool {
	switch inboundType {
	case proto.InboundTypeSendMessage, proto.InboundTypeTypingStart, proto.InboundTypeTypingStop:
		return true
	}
	return false
}
