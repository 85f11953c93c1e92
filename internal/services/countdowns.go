package services

import (
	"context"
	"fmt"
	"slices"

	"github.com/diewo77/go-prefacturation/internal/models"
	"github.com/diewo77/go-prefacturation/internal/store"
	"go.uber.org/zap"
)

// Notice is a payment reminder or overdue alert raised by the countdown job.
type Notice struct {
	PrefacturationID uint    `json:"prefacturation_id"`
	Reference        string  `json:"reference"`
	CarrierID        string  `json:"carrier_id"`
	Kind             string  `json:"kind"`
	Label            string  `json:"label"`
	DaysRemaining    int     `json:"days_remaining"`
	Amount           float64 `json:"amount"`
}

// CountdownResult reports an UpdateCountdowns run.
type CountdownResult struct {
	Scanned   int             `json:"scanned"`
	Updated   int             `json:"updated"`
	Reminders []Notice        `json:"reminders,omitempty"`
	Overdue   []Notice        `json:"overdue,omitempty"`
	Failed    map[uint]string `json:"failed,omitempty"`
}

// noticeFor returns the notice due for a countdown value, if any.
// Reminders fire at J-5 and J-2, overdue alerts at J+1, J+3, J+7 and then
// every seven days.
func noticeFor(days int) (kind, label string, ok bool) {
	switch {
	case days > 5:
		return "", "", false
	case days > 2:
		return "reminder", "J-5", true
	case days >= 0:
		return "reminder", "J-2", true
	}
	late := -days
	step := 1
	switch {
	case late >= 7:
		step = late / 7 * 7
	case late >= 3:
		step = 3
	}
	return "overdue", fmt.Sprintf("J+%d", step), true
}

// UpdateCountdowns recomputes the days remaining before payment of every
// pre-invoice with a running payment term. Statuses are left unchanged.
func (s *PrefacturationService) UpdateCountdowns(ctx context.Context) (*CountdownResult, error) {
	items, _, err := s.store.FindPrefacturations(ctx, store.PrefacturationFilter{
		Statuses: []models.PrefacturationStatus{
			models.StatusValidatedIndustrial,
			models.StatusInvoiceAccepted,
			models.StatusPaymentPending,
		},
		Page: store.Page{Sort: "due_date"},
	})
	if err != nil {
		return nil, err
	}

	res := &CountdownResult{}
	for _, item := range items {
		if item.Payment.DueDate == nil {
			continue
		}
		res.Scanned++

		var notice *Notice
		changed := false
		_, err := s.mutate(ctx, item.ID, "countdown", func(p *models.Prefacturation) error {
			if !p.Status.CountsDown() || p.Payment.DueDate == nil {
				return errUnchanged
			}
			now := s.opts.now()
			days := daysUntil(*p.Payment.DueDate, now)
			if days != p.Payment.DaysRemaining {
				p.Payment.DaysRemaining = days
				changed = true
			}
			if kind, label, ok := noticeFor(days); ok {
				key := kind + ":" + label
				if !slices.Contains(p.Payment.Notices, key) {
					p.Payment.Notices = append(p.Payment.Notices, key)
					notice = &Notice{
						PrefacturationID: p.ID,
						Reference:        p.Reference,
						CarrierID:        p.Carrier.ID,
						Kind:             kind,
						Label:            label,
						DaysRemaining:    days,
						Amount:           p.Totals.TotalTTC,
					}
					changed = true
				}
			}
			if !changed {
				return errUnchanged
			}
			p.Payment.LastNoticeCheck = &now
			return nil
		})
		if err != nil {
			res.fail(item.ID, err)
			continue
		}
		if changed {
			res.Updated++
		}
		if notice == nil {
			continue
		}
		if notice.Kind == "overdue" {
			res.Overdue = append(res.Overdue, *notice)
			s.opts.log.Warn("payment overdue",
				zap.String("reference", notice.Reference),
				zap.String("carrier_id", notice.CarrierID),
				zap.Int("days_remaining", notice.DaysRemaining))
		} else {
			res.Reminders = append(res.Reminders, *notice)
			s.opts.log.Info("payment reminder",
				zap.String("reference", notice.Reference),
				zap.String("label", notice.Label))
		}
	}

	s.opts.metrics.Batch("countdown", res.Updated)
	s.opts.log.Info("countdowns updated",
		zap.Int("scanned", res.Scanned),
		zap.Int("updated", res.Updated),
		zap.Int("reminders", len(res.Reminders)),
		zap.Int("overdue", len(res.Overdue)))
	return res, nil
}

func (r *CountdownResult) fail(id uint, err error) {
	if r.Failed == nil {
		r.Failed = make(map[uint]string)
	}
	r.Failed[id] = err.Error()
}
