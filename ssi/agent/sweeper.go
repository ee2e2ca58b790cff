package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"
)

func (a *Agent) startSweeper() error {
	a.cron = gocron.NewScheduler(time.UTC)
	a.cron.SingletonModeAll()
	if _, err := a.cron.Every(a.cfg.SweepInterval).WaitForSchedule().Do(func() {
		if n, err := a.sweepInvitations(a.bgCtx); err != nil {
			a.log.Warn("agent.sweep.fail", slog.String("err", err.Error()))
		} else if n > 0 {
			a.log.Info("agent.sweep.ok", slog.Int("abandoned", n))
		}
	}); err != nil {
		return fmt.Errorf("schedule invitation sweeper: %w", err)
	}
	a.cron.StartAsync()
	return nil
}

// sweepInvitations abandons sent invitations nobody answered within the
// invitation TTL, together with connectionless exchanges they carried.
func (a *Agent) sweepInvitations(ctx context.Context) (int, error) {
	cutoff := a.now().Add(-a.cfg.InvitationTTL)

	a.mu.Lock()
	defer a.mu.Unlock()

	all, err := a.oob.list(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range all {
		if rec.Role != OOBRoleSender || rec.State != OOBStateAwaitResponse || rec.ReusableConnection {
			continue
		}
		if !rec.CreatedAt.Before(cutoff) {
			continue
		}
		rec.State = OOBStateAbandoned
		rec.UpdatedAt = a.stamp()
		if err := a.oob.put(ctx, rec.ID, rec); err != nil {
			return n, err
		}
		n++
		if rec.AssociatedRecordID != "" {
			if err := a.abandonAssociated(ctx, rec.AssociatedRecordID, "invitation expired"); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

func (a *Agent) abandonAssociated(ctx context.Context, id, reason string) error {
	if cred, err := a.credentials.get(ctx, id); err == nil {
		if cred.State == CredStateDone {
			return nil
		}
		cred.State = CredStateAbandoned
		cred.ErrorMessage = reason
		cred.UpdatedAt = a.stamp()
		return a.credentials.put(ctx, cred.ID, cred)
	}
	if proof, err := a.proofs.get(ctx, id); err == nil {
		if proof.State == ProofStateDone {
			return nil
		}
		proof.State = ProofStateAbandoned
		proof.ErrorMessage = reason
		proof.UpdatedAt = a.stamp()
		return a.proofs.put(ctx, proof.ID, proof)
	}
	return nil
}
