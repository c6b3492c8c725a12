package marketdata

import (
	"context"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mangoweb/nexus-router/pkg/logger"
	"github.com/mangoweb/nexus-router/pkg/metrics"
	"github.com/mangoweb/nexus-router/pkg/models"
)

// Sink receives unsolicited price ticks. The quote cache implements it so
// streamed quotes land next to polled ones and cut down refresh traffic for
// hot assets.
type Sink interface {
	StorePrice(models.PriceQuote)
}

type tickMessage struct {
	Symbol   string  `json:"symbol"`
	USDPrice float64 `json:"usd_price"`
	TsMs     int64   `json:"ts_ms"`
}

// StreamPrices dials a websocket price feed and pushes every valid tick into
// the sink, reconnecting with exponential backoff until the context ends.
func StreamPrices(ctx context.Context, wsURL string, sink Sink) {
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	err := backoff.Retry(func() error {
		logger.Log.Info("dialing price feed", zap.String("url", wsURL))
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			logger.Log.Warn("price feed dial error", zap.Error(err))
			return err
		}
		defer conn.Close()

		for {
			select {
			case <-ctx.Done():
				return backoff.Permanent(ctx.Err())
			default:
				var msg tickMessage
				if err := conn.ReadJSON(&msg); err != nil {
					logger.Log.Warn("price feed read error", zap.Error(err))
					return err
				}
				if msg.Symbol == "" || msg.USDPrice <= 0 {
					metrics.QuoteFetchErrors.WithLabelValues("pricefeed-ws", "price").Inc()
					continue
				}
				ts := time.UnixMilli(msg.TsMs).UTC()
				if msg.TsMs == 0 || ts.After(time.Now()) {
					ts = time.Now().UTC()
				}
				sink.StorePrice(models.PriceQuote{
					Symbol:    strings.ToUpper(msg.Symbol),
					USDPrice:  msg.USDPrice,
					Timestamp: ts,
					Source:    "pricefeed-ws",
				})
				metrics.QuoteFetchCounter.WithLabelValues("pricefeed-ws", "price").Inc()
			}
		}
	}, bo)

	if err != nil && !strings.Contains(err.Error(), "context canceled") {
		logger.Log.Error("price feed reader stopped", zap.Error(err))
	}
}
