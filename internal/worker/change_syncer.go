package worker

import (
	"context"

	"rhledger/internal/amqp"
	"rhledger/internal/core"
	"rhledger/internal/log"
)

// Refresher reloads a collection that another process changed and
// republishes it to local subscribers.
type Refresher interface {
	Refresh(ctx context.Context, c core.Collection) error
	RefreshMonthlyStats(ctx context.Context) error
}

// ChangeSyncer keeps a process's live view current with writes made by
// other processes sharing the same database.
type ChangeSyncer struct {
	refresher Refresher
	origin    string
	logger    *log.Logger
}

// NewChangeSyncer ignores messages stamped with origin, which are this
// process's own writes.
func NewChangeSyncer(refresher Refresher, origin string, logger *log.Logger) *ChangeSyncer {
	return &ChangeSyncer{
		refresher: refresher,
		origin:    origin,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

func (s *ChangeSyncer) HandleChangeMessage(ctx context.Context, msg *amqp.ChangeMessage) error {
	if msg.Origin != "" && msg.Origin == s.origin {
		return nil
	}
	if msg.Collection == amqp.MonthlyStatsCollection {
		return s.refresher.RefreshMonthlyStats(ctx)
	}

	c, err := core.ParseCollection(msg.Collection)
	if err != nil {
		// Redelivery cannot fix an unknown collection.
		s.logger.WarnContext(ctx, "Ignoring change for unknown collection",
			log.FieldMessageID, msg.ID, log.FieldCollection, msg.Collection)
		return nil
	}
	s.logger.DebugContext(ctx, "Refreshing after remote change",
		log.FieldCollection, c, log.FieldRecordID, msg.RecordID, "origin", msg.Origin)
	return s.refresher.Refresh(ctx, c)
}
