// Package scheduler runs named maintenance jobs in-process on fixed
// schedules: intervals, a minute of every hour, a time of day, or a day of
// the month.
//
// Jobs never overlap with themselves. A panic inside a job is recovered and
// reported as a failure.
//
//	s := scheduler.New(scheduler.WithLogger(log), scheduler.WithMetrics(m))
//	_ = s.Register("device.sweep_inactive", scheduler.DailyAt(3, 0), registry.SweepInactive)
//	go s.Start(ctx)
package scheduler
