package alerting

import (
	"context"
	"time"
)

// Test hooks.

func (d *Detector) SetClock(fn func() time.Time) { d.clock = fn }

func (n *Notifier) SetSleep(fn func(context.Context, time.Duration)) { n.sleep = fn }
