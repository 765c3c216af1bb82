// Package sponsorship runs the per-location sponsor auction: the bid floor,
// the activation rule applied at settlement, and the queue view.
package sponsorship

import (
	"sort"
	"time"

	"github.com/ManuelReschke/LocalBoard/app/models"
)

// Window is the guaranteed run time of a settled sponsorship.
const Window = models.SponsorshipWindow

// MinimumBid is the smallest acceptable bid: one sat above the active sponsor,
// or the base price when nobody is active.
func MinimumBid(active *models.Sponsorship, base int64) int64 {
	if active == nil {
		return base
	}
	return active.AmountSats + 1
}

// ComputeActivation schedules a freshly settled sponsorship behind tail, the
// latest scheduled entry of the location. With no tail, or a tail whose window
// has elapsed, it starts now. Otherwise it starts when the tail's window ends,
// so a running window is never preempted and windows never overlap.
func ComputeActivation(tail *models.Sponsorship, now time.Time) time.Time {
	if tail == nil || tail.ActivationAt == nil {
		return now
	}
	end := tail.ActivationAt.Add(Window)
	if !now.Before(end) {
		return now
	}
	return end
}

// Tail returns the entry with the latest activation, or nil.
func Tail(scheduled []models.Sponsorship) *models.Sponsorship {
	var tail *models.Sponsorship
	for i := range scheduled {
		s := &scheduled[i]
		if s.Status != models.PaymentStatusPaid || s.ActivationAt == nil {
			continue
		}
		if tail == nil || s.ActivationAt.After(*tail.ActivationAt) ||
			(s.ActivationAt.Equal(*tail.ActivationAt) && s.ID > tail.ID) {
			tail = s
		}
	}
	return tail
}

// Current returns the most recently activated entry with activation_at <= now
// whose window is still open, or nil.
func Current(scheduled []models.Sponsorship, now time.Time) *models.Sponsorship {
	var current *models.Sponsorship
	for i := range scheduled {
		s := &scheduled[i]
		if s.Status != models.PaymentStatusPaid || s.ActivationAt == nil || s.ActivationAt.After(now) {
			continue
		}
		if current == nil || s.ActivationAt.After(*current.ActivationAt) ||
			(s.ActivationAt.Equal(*current.ActivationAt) && s.ID > current.ID) {
			current = s
		}
	}
	if current == nil || !current.IsActiveAt(now) {
		return nil
	}
	return current
}

// QueueEntry is one row of the public queue listing.
type QueueEntry struct {
	ID               uint      `json:"id"`
	PublicID         string    `json:"public_id"`
	SponsorLabel     string    `json:"sponsor_label"`
	AmountSats       int64     `json:"amount_sats"`
	ActivationAt     time.Time `json:"activation_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	Position         int       `json:"position"`
	Active           bool      `json:"active"`
	RemainingSeconds int64     `json:"remaining_seconds,omitempty"`
	StartsInSeconds  int64     `json:"starts_in_seconds,omitempty"`
}

// BuildQueue lists the current sponsor (position 1) followed by upcoming ones.
// Elapsed windows are left out.
func BuildQueue(scheduled []models.Sponsorship, now time.Time) []QueueEntry {
	live := make([]models.Sponsorship, 0, len(scheduled))
	for _, s := range scheduled {
		if s.Status != models.PaymentStatusPaid || s.ActivationAt == nil {
			continue
		}
		if !now.Before(s.ActivationAt.Add(Window)) {
			continue
		}
		live = append(live, s)
	}
	sort.Slice(live, func(i, j int) bool {
		if !live[i].ActivationAt.Equal(*live[j].ActivationAt) {
			return live[i].ActivationAt.Before(*live[j].ActivationAt)
		}
		return live[i].ID < live[j].ID
	})

	out := make([]QueueEntry, 0, len(live))
	for i, s := range live {
		start := *s.ActivationAt
		end := start.Add(Window)
		e := QueueEntry{
			ID:           s.ID,
			PublicID:     s.PublicID,
			SponsorLabel: s.SponsorLabel,
			AmountSats:   s.AmountSats,
			ActivationAt: start,
			ExpiresAt:    end,
			Position:     i + 1,
		}
		if !now.Before(start) {
			e.Active = true
			e.RemainingSeconds = int64(end.Sub(now) / time.Second)
		} else {
			e.StartsInSeconds = int64(start.Sub(now) / time.Second)
		}
		out = append(out, e)
	}
	return out
}
