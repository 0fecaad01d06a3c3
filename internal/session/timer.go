package session

import (
	"context"
	"time"

	"github.com/golang/glog"
	"k8s.io/utils/clock"
)

// TickInterval is how often RunTimer drives Tick.
const TickInterval = time.Second

// RunTimer calls s.Tick once per TickInterval on clk until ctx is cancelled
// or the session leaves InProgress. onTick, when set, receives the seconds
// left after every tick. A tick arriving after cancellation is dropped.
func RunTimer(ctx context.Context, clk clock.WithTicker, s *Session, onTick func(remaining int)) {
	t := clk.NewTicker(TickInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			glog.V(2).Infof("session %s: timer stopped", s.ID())
			return
		case <-t.C():
			if ctx.Err() != nil {
				return
			}
			left := s.Tick()
			if onTick != nil {
				onTick(left)
			}
			if s.State() != InProgress {
				return
			}
		}
	}
}
