package service

import (
	"context"
	"time"
)

type MaintenanceReport struct {
	Devices          int
	RefilledDevices  int
	RotatedPreKeys   int
	PrunedSignedKeys int
	Failures         int
}

// RunMaintenance runs MaintainOnce every interval until ctx is cancelled.
func (s *Service) RunMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.MaintainOnce(ctx)
			if err != nil {
				s.log.Error("maintenance pass failed", "error", err)
				continue
			}
			s.log.Info("maintenance pass finished",
				"devices", report.Devices,
				"refilled", report.RefilledDevices,
				"rotated", report.RotatedPreKeys,
				"pruned", report.PrunedSignedKeys,
				"failures", report.Failures,
			)
		}
	}
}

// MaintainOnce refills low one-time prekey pools, rotates signed prekeys
// older than the rotation interval and prunes expired ones. Each step is
// safe to repeat.
func (s *Service) MaintainOnce(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	ids, err := s.store.Devices().ListIDs(ctx)
	if err != nil {
		return report, err
	}
	report.Devices = len(ids)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		refill, err := s.ReplenishOneTimePreKeys(ctx, id)
		if err != nil {
			report.Failures++
			s.log.Warn("maintenance refill failed", "device_id", id, "error", err)
			continue
		}
		if refill.Added > 0 {
			report.RefilledDevices++
		}

		active, err := s.store.SignedPreKeys().Active(ctx, id)
		if err != nil {
			report.Failures++
			s.log.Warn("maintenance signed prekey lookup failed", "device_id", id, "error", err)
			continue
		}
		if s.now().Sub(active.CreatedAt) < s.opts.SignedPreKeyRotation {
			continue
		}
		rotated, err := s.RotateSignedPreKey(ctx, id)
		if err != nil {
			report.Failures++
			s.log.Warn("maintenance rotation failed", "device_id", id, "error", err)
			continue
		}
		report.RotatedPreKeys++
		report.PrunedSignedKeys += rotated.Pruned
	}
	return report, nil
}
