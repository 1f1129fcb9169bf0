package reconciliation

import (
	"context"

	"github.com/robfig/cron/v3"
)

// Schedule registers Run on the given cron expression, matching the
// teacher's cron-scheduled job wiring; a run that returns an error is
// logged by Schedule's wrapped func and then dropped, since cron has no
// return-value channel to propagate it through.
func (j *Job) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		ctx := context.Background()
		if _, err := j.Run(ctx); err != nil {
			j.log.Error().Err(err).Msg("reconciliation run failed")
		}
	})
}
