// Package jobs runs the periodic billing sweeps: trial and period expiry,
// grace enforcement, deferred cancellations, abandoned subscription expiry,
// renewal reminders, PIX charge expiry, overdue invoices, monthly usage
// resets and failed webhook retries.
//
// Every sweep is idempotent. Changes go through the subscription service with
// a trigger keyed by job name, subscription and UTC date, so a rerun on the
// same day never applies an event twice. A failure on one item is recorded in
// the Report and the sweep moves on.
//
// # Usage
//
//	jobsList := jobs.NewBillingJobs(svc, cfg,
//	    jobs.WithNotifier(dispatcher),
//	    jobs.WithWebhookRetrier(processor),
//	    jobs.WithLogger(log),
//	)
//	runner, err := jobs.NewRunner(jobsList, jobs.WithJobTimeout(cfg.JobTimeout))
//	if err != nil {
//	    return err
//	}
//
//	schedules, err := cfg.ResolveSchedules()
//	if err != nil {
//	    return err
//	}
//	sched, err := jobs.NewScheduler(runner, schedules, jobs.WithCheckInterval(cfg.CheckInterval))
//	if err != nil {
//	    return err
//	}
//	go sched.Start(ctx)
//
//	// manual trigger, e.g. from an admin endpoint
//	report, err := runner.RunJob(ctx, jobs.CheckGracePeriod, true)
//
// # Schedules
//
// ParseSchedule accepts "@every <duration>", "@hourly", "hourly :MM",
// "@daily" and "daily HH:MM". Times are evaluated in the scheduler clock
// location, UTC by default in billingd.
package jobs
