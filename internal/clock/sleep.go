package clock

import "context"

// Sleep blocks the calling task until at least timeS seconds of simulated
// time (per monotonic's tick rate) have passed, or ctx is done first.
// Grounded on original_source/sleep.rs's sleep/SleepFuture.
func Sleep(ctx context.Context, monotonic *Monotonic, requester *WakeupRequester, timeS float32) error {
	start := monotonic.Get()
	end := start + uint64(timeS*monotonic.TickFreq())

	if monotonic.Get() >= end {
		return nil
	}

	ch, err := requester.RegisterWakeupTime(ctx, end)
	if err != nil {
		return err
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
