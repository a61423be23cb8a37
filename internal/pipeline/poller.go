package pipeline

import (
	"context"
	"time"

	"github.com/BerylCAtieno/statement-extraction-api/internal/models"
	"github.com/BerylCAtieno/statement-extraction-api/internal/utils"
)

const DefaultPollInterval = 500 * time.Millisecond

// StatusFunc fetches the progress of a document's in-flight operation.
type StatusFunc func(ctx context.Context, key models.DocumentKey) (*models.ProgressStatus, error)

// Poller reads progress at a fixed interval while an operation runs.
type Poller struct {
	Interval time.Duration
	Status   StatusFunc
	Logger   *utils.Logger
}

// Run polls until the server reports no phase or ctx is done. Poll errors are
// logged and polling continues; progress is advisory.
func (p *Poller) Run(ctx context.Context, key models.DocumentKey, onUpdate func(models.ProgressStatus)) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		st, err := p.Status(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Logger.Debug("pipeline.poll.failed", "document", key.String(), "error", err)
			continue
		}
		if st.Phase == nil {
			return nil
		}
		onUpdate(*st)
	}
}
