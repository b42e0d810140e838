// internal/domain/cart/merge.go
package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// mergeTimeout bounds a login-triggered merge independently of the request
const mergeTimeout = 15 * time.Second

// LocalUpload is a browser-held cart handed over at login. SyncID makes a
// retried upload apply only once.
type LocalUpload struct {
	SyncID string
	Items  []LocalItem
}

type mergeCandidate struct {
	variantID uint
	quantity  int
	addedAt   time.Time
	inLocal   bool
}

// MergeOnLogin moves every guest line of sessionID into the user's cart.
// Quantities add up with what the user already has, clamped to the maximum.
//
// Each line is first upserted into the user cart and then removed from the
// guest cart. A crash between the two steps leaves that line in the guest
// cart, so a retry may count it twice; a completed merge is never repeated
// because the guest cart is empty afterwards.
func (s *Service) MergeOnLogin(ctx context.Context, sessionID, userID string, upload *LocalUpload) (*MergeReport, error) {
	user := UserOwner(userID)
	if err := user.Validate(); err != nil {
		return nil, err
	}

	report := &MergeReport{SessionID: sessionID, UserID: userID, Failed: []MergeFailure{}}

	if upload != nil && len(upload.Items) > 0 && strings.TrimSpace(upload.SyncID) == "" {
		return nil, ErrSyncIDRequired
	}
	if sessionID == "" && (upload == nil || len(upload.Items) == 0) {
		return report, nil
	}

	lockKey := "cart:merge:lock:" + sessionID
	if sessionID == "" {
		lockKey = "cart:merge:lock:user:" + userID
	}
	release, ok, err := s.guard.Lock(ctx, lockKey, s.mergeLockTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire merge lock: %w", err)
	}
	if !ok {
		return nil, ErrMergeInProgress
	}
	defer release()

	candidates, err := s.collectGuestItems(ctx, sessionID, userID, upload)
	if err != nil {
		return nil, err
	}

	guest := GuestOwner(sessionID)
	report.Total = len(candidates)

	for _, c := range candidates {
		var moveErr error
		if sessionID != "" {
			_, moveErr = s.store.Move(ctx, guest, user, c.variantID, c.quantity)
		} else {
			_, moveErr = s.store.Upsert(ctx, user, c.variantID, c.quantity)
		}

		switch {
		case moveErr == nil:
			report.Migrated++
			s.dropLocal(ctx, sessionID, c)

		case isPermanent(moveErr):
			report.Failed = append(report.Failed, MergeFailure{
				ProductVariantID: c.variantID,
				Quantity:         c.quantity,
				Reason:           "product variant is no longer available",
			})
			s.dropLocal(ctx, sessionID, c)
			if s.mirrorGuest && sessionID != "" {
				s.mirror(guest, func() error { return s.store.Remove(ctx, guest, c.variantID) })
			}

		default:
			s.logger.WithError(moveErr).WithFields(logrus.Fields{
				"session": sessionID,
				"user":    userID,
				"variant": c.variantID,
			}).Warn("Failed to carry guest cart item over")
			report.Failed = append(report.Failed, MergeFailure{
				ProductVariantID: c.variantID,
				Quantity:         c.quantity,
				Reason:           "temporarily unable to carry item over",
				Retryable:        true,
			})
		}
	}

	if report.Migrated > 0 {
		s.publish(ctx, user, ActionMerge, 0)
	}
	if report.Total > 0 && sessionID != "" {
		s.publish(ctx, guest, ActionMerge, 0)
	}

	s.logger.WithFields(logrus.Fields{
		"session":  sessionID,
		"user":     userID,
		"total":    report.Total,
		"migrated": report.Migrated,
		"failed":   len(report.Failed),
	}).Info("Guest cart merged")

	return report, nil
}

// OnLoginSuccess merges the guest cart of sessionID into the user's cart.
// Errors are logged and never block the login.
func (s *Service) OnLoginSuccess(ctx context.Context, sessionID, userID string) *MergeReport {
	if sessionID == "" || userID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mergeTimeout)
	defer cancel()

	report, err := s.MergeOnLogin(ctx, sessionID, userID, nil)
	if err != nil {
		entry := s.logger.WithError(err).WithFields(logrus.Fields{"session": sessionID, "user": userID})
		if errors.Is(err, ErrMergeInProgress) {
			entry.Info("Guest cart merge already running")
		} else {
			entry.Warn("Guest cart merge failed")
		}
		return nil
	}
	return report
}

// collectGuestItems unions the guest sources. They are copies of one cart,
// so the largest quantity per variant wins rather than the sum.
func (s *Service) collectGuestItems(ctx context.Context, sessionID, userID string, upload *LocalUpload) ([]mergeCandidate, error) {
	byVariant := make(map[uint]*mergeCandidate)
	add := func(variantID uint, quantity int, addedAt time.Time, inLocal bool) {
		if variantID == 0 || quantity <= 0 {
			return
		}
		quantity = clampQuantity(quantity, s.maxQuantity)

		c, ok := byVariant[variantID]
		if !ok {
			byVariant[variantID] = &mergeCandidate{variantID: variantID, quantity: quantity, addedAt: addedAt, inLocal: inLocal}
			return
		}
		c.quantity = max(c.quantity, quantity)
		c.inLocal = c.inLocal || inLocal
		if !addedAt.IsZero() && (c.addedAt.IsZero() || addedAt.Before(c.addedAt)) {
			c.addedAt = addedAt
		}
	}

	if sessionID != "" {
		local, err := s.local.Read(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		for _, item := range local {
			add(item.ProductVariantID, item.Quantity, item.AddedAt, true)
		}

		if s.mirrorGuest {
			rows, err := s.store.Items(ctx, GuestOwner(sessionID))
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				add(row.ProductVariantID, row.Quantity, row.AddedAt, false)
			}
		}
	}

	if upload != nil && len(upload.Items) > 0 {
		first, err := s.guard.Claim(ctx, "cart:merge:sync:"+userID+":"+upload.SyncID, s.syncDedupeTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to record cart sync: %w", err)
		}
		if first {
			for _, item := range normalizeLocalItems(upload.Items, s.maxQuantity) {
				add(item.ProductVariantID, item.Quantity, item.AddedAt, false)
			}
		} else {
			s.logger.WithFields(logrus.Fields{"user": userID, "sync_id": upload.SyncID}).
				Debug("Local cart upload already applied")
		}
	}

	candidates := make([]mergeCandidate, 0, len(byVariant))
	for _, c := range byVariant {
		candidates = append(candidates, *c)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].addedAt.Equal(candidates[j].addedAt) {
			return candidates[i].addedAt.Before(candidates[j].addedAt)
		}
		return candidates[i].variantID < candidates[j].variantID
	})

	return candidates, nil
}

func (s *Service) dropLocal(ctx context.Context, sessionID string, c mergeCandidate) {
	if !c.inLocal || sessionID == "" {
		return
	}
	if err := s.local.Remove(ctx, sessionID, c.variantID); err != nil && !errors.Is(err, ErrItemNotFound) {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"session": sessionID,
			"variant": c.variantID,
		}).Warn("Failed to drop merged item from guest cart")
	}
}
