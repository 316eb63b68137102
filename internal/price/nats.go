package price

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Streaming price subjects published by the oracle relay. One subject per
// asset: loan.prices.ETH, loan.prices.USDC, ...
const (
	priceStreamName  = "LOAN_PRICES"
	priceSubject     = "loan.prices.>"
	priceConsumer    = "lenddesk-prices"
	priceMaxDeliver  = 5
	priceAckWaitSecs = 30
)

// priceUpdateWire is the pushed oracle update payload.
type priceUpdateWire struct {
	Symbol      string `json:"symbol"`
	Price       string `json:"price"`
	TimestampUS int64  `json:"timestamp_us"`
}

// Feed consumes pushed oracle updates over NATS JetStream and installs them
// into the cache, keeping the snapshot warm between pull refreshes.
type Feed struct {
	js       jetstream.JetStream
	cache    *Cache
	logger   zerolog.Logger
	consumer jetstream.ConsumeContext
}

// NewFeed builds a feed writing into the given cache.
func NewFeed(js jetstream.JetStream, cache *Cache, logger zerolog.Logger) *Feed {
	return &Feed{js: js, cache: cache, logger: logger}
}

// Subscribe creates the durable consumer and starts delivering updates.
// Messages use explicit ACK; malformed payloads are ACKed and dropped since
// redelivery cannot fix them.
func (f *Feed) Subscribe(ctx context.Context) error {
	consumer, err := f.js.CreateOrUpdateConsumer(ctx, priceStreamName, jetstream.ConsumerConfig{
		Durable:       priceConsumer,
		FilterSubject: priceSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       priceAckWaitSecs * time.Second,
		MaxDeliver:    priceMaxDeliver,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		var wire priceUpdateWire
		if err := json.Unmarshal(msg.Data(), &wire); err != nil {
			f.logger.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping malformed price update")
			msg.Ack()
			return
		}

		value, ok := new(big.Int).SetString(wire.Price, 10)
		if !ok {
			f.logger.Warn().Str("asset", wire.Symbol).Str("price", wire.Price).Msg("dropping unparsable price")
			msg.Ack()
			return
		}

		f.cache.Apply(wire.Symbol, value, time.UnixMicro(wire.TimestampUS).UTC())
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}

	f.consumer = consumeCtx
	f.logger.Info().Str("subject", priceSubject).Str("consumer", priceConsumer).Msg("subscribed to price feed")
	return nil
}

// Stop halts delivery. Safe to call when Subscribe never ran.
func (f *Feed) Stop() {
	if f.consumer != nil {
		f.consumer.Stop()
	}
}

// EnsureStream creates the price stream if the relay has not already done
// so. Mirrors the relay's own configuration.
func EnsureStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      priceStreamName,
		Subjects:  []string{priceSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("ensure price stream: %w", err)
	}
	return nil
}
