package quotecache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mangoweb/nexus-router/pkg/logger"
	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/redisclient"
)

// Channel and key layout of the mirror. External consumers (dashboard,
// archiver) read these; the engine itself never does.
const (
	PubSubChannel = "quotes:pubsub"
	latestPrefix  = "quotes:latest:"
)

// Mirror copies every successful refresh into redis: a latest-value hash for
// point reads plus a pub/sub event for subscribers. Strictly advisory: a
// mirror failure is logged and dropped, never surfaced to the caller.
type Mirror struct {
	rdb *redisclient.Client
}

// NewMirror wraps a redis client for mirroring.
func NewMirror(rdb *redisclient.Client) *Mirror {
	return &Mirror{rdb: rdb}
}

// PublishPrice mirrors a price quote asynchronously.
func (m *Mirror) PublishPrice(q models.PriceQuote) {
	go m.publish(PriceKey(q.Symbol), models.QuoteEvent{Key: PriceKey(q.Symbol), Price: &q}, q.ToMap())
}

// PublishGas mirrors a gas quote asynchronously.
func (m *Mirror) PublishGas(q models.GasQuote) {
	go m.publish(GasKey(q.Chain), models.QuoteEvent{Key: GasKey(q.Chain), Gas: &q}, q.ToMap())
}

func (m *Mirror) publish(key string, event models.QuoteEvent, fields map[string]interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := m.rdb.HSet(ctx, latestPrefix+key, fields); err != nil {
		logger.Log.Warn("quote mirror hset failed", zap.String("key", key), zap.Error(err))
		return
	}

	payload, err := event.ToJSON()
	if err != nil {
		logger.Log.Warn("quote mirror encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := m.rdb.Publish(ctx, PubSubChannel, payload); err != nil {
		logger.Log.Warn("quote mirror publish failed", zap.String("key", key), zap.Error(err))
	}
}
