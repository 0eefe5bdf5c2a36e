/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package labsync

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jerry-enebeli/labsync/internal/metrics"
	"github.com/jerry-enebeli/labsync/internal/syncerror"
)

const stampFormat = "2006-01-02 15:04:05"

// ParseSchedule turns "HHMM" entries into offsets from midnight. Entries that do not
// parse are logged and skipped. The result is sorted.
func ParseSchedule(entries []string) []time.Duration {
	times := make([]time.Duration, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if len(entry) != 4 {
			logrus.Errorf("can't parse time parameter [%s]", entry)
			continue
		}
		hour, herr := strconv.Atoi(entry[:2])
		minute, merr := strconv.Atoi(entry[2:])
		if herr != nil || merr != nil || hour > 23 || minute > 59 || hour < 0 || minute < 0 {
			logrus.Errorf("can't parse time parameter [%s]", entry)
			continue
		}
		times = append(times, time.Duration(hour)*time.Hour+time.Duration(minute)*time.Minute)
	}
	slices.Sort(times)
	return times
}

func formatTimeOfDay(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}

func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

// IsHit reports whether sched lies in [a, b). When b is earlier than a the interval
// wraps past midnight. An empty interval never hits.
func IsHit(sched, a, b time.Duration) bool {
	switch {
	case a < b:
		return a <= sched && sched < b
	case a > b:
		return a <= sched || sched < b
	default:
		return false
	}
}

// Daemon fires the sync task at the scheduled times of day.
type Daemon struct {
	times     []time.Duration
	interval  time.Duration
	maxJump   time.Duration
	maxFaults int
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) bool
	fire      func(ctx context.Context)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// NewDaemon builds the scheduling loop for l. Each firing runs RunSingleton on its own
// goroutine.
func (l *LabSync) NewDaemon(times []time.Duration) *Daemon {
	d := &Daemon{
		times:     times,
		interval:  time.Duration(l.config.Daemon.PollIntervalSec) * time.Second,
		maxJump:   time.Duration(l.config.Daemon.MaxClockJumpSec) * time.Second,
		maxFaults: l.config.Daemon.MaxFaults,
		now:       l.now,
		sleep:     sleepCtx,
	}
	d.fire = func(ctx context.Context) {
		logrus.Info("launching scheduled task")
		l.RunSingleton(ctx)
		logrus.Info("task completed")
	}
	return d
}

// hit reports whether any scheduled time passed between prev and cur.
func (d *Daemon) hit(prev, cur time.Time) bool {
	a, b := timeOfDay(prev), timeOfDay(cur)
	for _, sched := range d.times {
		if IsHit(sched, a, b) {
			return true
		}
	}
	return false
}

// step handles one poll. It returns the clock reading to compare against next time.
func (d *Daemon) step(ctx context.Context, prev time.Time) time.Time {
	cur := d.now()
	if cur.Before(prev) || cur.Sub(prev) > d.maxJump {
		err := syncerror.New(syncerror.ClockAnomaly, fmt.Sprintf("%s -> %s", prev.Format(stampFormat), cur.Format(stampFormat)), nil)
		logrus.WithField("kind", err.Kind).Info("time discrepancy detected: " + err.Message)
		metrics.ClockAnomalies.Inc()
		return cur
	}
	if d.hit(prev, cur) {
		go d.fire(ctx)
	}
	return cur
}

// safeStep runs step and turns a panic into a fault.
func (d *Daemon) safeStep(ctx context.Context, prev time.Time) (next time.Time, faulted bool) {
	defer func() {
		if rec := recover(); rec != nil {
			logrus.Errorf("unhandled exception in core daemon loop! %v", rec)
			next, faulted = prev, true
		}
	}()
	return d.step(ctx, prev), false
}

// Loop polls the clock until ctx is done or too many consecutive faults occur.
// lastPing is when the previous daemon was last seen alive, if known.
func (d *Daemon) Loop(ctx context.Context, lastPing string) {
	if lastPing != "" {
		logrus.Infof("daemon booted; previous instance appears to have terminated around %s", lastPing)
	} else {
		logrus.Info("daemon booted; unknown when previous instance terminated")
	}

	prev := d.now()
	faults := 0
	for {
		if !d.sleep(ctx, d.interval) {
			logrus.Info("daemon stopping")
			return
		}

		var faulted bool
		prev, faulted = d.safeStep(ctx, prev)
		if !faulted {
			faults = 0
			continue
		}
		faults++
		if faults >= d.maxFaults {
			logrus.Infof("too many faults (%d) in daemon loop; shutting down as a precaution...", d.maxFaults)
			return
		}
	}
}

// RunDaemon boots the scheduler under the daemon lease and blocks until ctx is done.
func (l *LabSync) RunDaemon(ctx context.Context) error {
	logrus.Infof("booting daemon... (v%s)", l.config.Version)

	times := ParseSchedule(l.config.Schedule)
	if len(times) == 0 {
		logrus.Warn("no scheduled times! nothing to do; exiting...")
		return nil
	}
	labels := make([]string, len(times))
	for i, t := range times {
		labels[i] = formatTimeOfDay(t)
	}
	logrus.Infof("scheduled to run at: %s", strings.Join(labels, ", "))

	if facilities := l.config.Facilities; len(facilities) > 0 {
		logrus.Infof("filtering by %d clinics: %s", len(facilities), strings.Join(facilities, ", "))
	} else {
		logrus.Info("all clinics enabled")
	}

	lease := l.DaemonLease()
	lastPing := lease.ReadLease()
	daemon := l.NewDaemon(times)
	if !lease.Run(ctx, func(ctx context.Context) { daemon.Loop(ctx, lastPing) }) {
		return fmt.Errorf("another daemon holds %s", l.config.Locks.DaemonPath)
	}
	return nil
}
