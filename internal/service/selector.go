package service

import (
	"sort"

	"github.com/kursadbilgin/sequence-engine/internal/domain"
)

// SenderSelector picks the least loaded eligible sender of a pool.
type SenderSelector struct {
	minHealthScore float64
}

// NewSenderSelector returns a selector. A positive minHealthScore also
// excludes senders scoring below it.
func NewSenderSelector(minHealthScore float64) *SenderSelector {
	if minHealthScore < 0 {
		minHealthScore = 0
	}
	return &SenderSelector{minHealthScore: minHealthScore}
}

func (s *SenderSelector) Eligible(sender domain.SenderIdentity) bool {
	if !sender.Eligible() {
		return false
	}
	return s == nil || s.minHealthScore <= 0 || sender.HealthScore >= s.minHealthScore
}

// Select returns the eligible sender with the lowest load ratio, then the
// highest health score, then the lowest email. ok is false when no sender
// is eligible, which defers the contact to a later pass.
func (s *SenderSelector) Select(senders []domain.SenderIdentity) (domain.SenderIdentity, bool) {
	candidates := make([]domain.SenderIdentity, 0, len(senders))
	for _, sender := range senders {
		if s.Eligible(sender) {
			candidates = append(candidates, sender)
		}
	}
	if len(candidates) == 0 {
		return domain.SenderIdentity{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		return senderLess(candidates[i], candidates[j])
	})
	return candidates[0], true
}

func senderLess(a, b domain.SenderIdentity) bool {
	// Cross-multiplied so equal ratios compare equal without float error.
	left := int64(a.SentToday) * int64(b.DailyLimit)
	right := int64(b.SentToday) * int64(a.DailyLimit)
	if left != right {
		return left < right
	}
	if a.HealthScore != b.HealthScore {
		return a.HealthScore > b.HealthScore
	}
	return a.Email < b.Email
}
