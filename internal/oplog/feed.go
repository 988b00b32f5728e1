// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package oplog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arialgardner/techno-canvas-sub001/internal/config"
	"github.com/arialgardner/techno-canvas-sub001/internal/logging"
)

// Feed mirrors appended operations onto a JetStream stream so other
// processes can follow a canvas without access to the local BadgerDB. The
// feed is an optional side channel: the BadgerLog remains the source of
// truth, and feed publish failures never fail an append.
type Feed struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string

	mu     sync.Mutex
	closed bool
}

// FeedSubject returns the JetStream subject carrying operations for one
// canvas.
func FeedSubject(canvasID string) string {
	return "canvas." + canvasID + ".operations"
}

// NewFeed connects to NATS and ensures the operation stream exists. The
// stream covers canvas.*.operations with limits-based retention so it
// prunes itself the same way the local log does.
func NewFeed(ctx context.Context, cfg config.NATSConfig) (*Feed, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	f := &Feed{nc: nc, js: js, stream: cfg.StreamName}
	if err := f.ensureStream(ctx, cfg); err != nil {
		nc.Close()
		return nil, err
	}
	return f, nil
}

func (f *Feed) ensureStream(ctx context.Context, cfg config.NATSConfig) error {
	streamCfg := jetstream.StreamConfig{
		Name:        cfg.StreamName,
		Subjects:    []string{"canvas.*.operations"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      time.Hour,
		MaxBytes:    cfg.MaxStore,
		Storage:     jetstream.FileStorage,
		Discard:     jetstream.DiscardOld,
		AllowDirect: true,
	}

	_, err := f.js.Stream(ctx, cfg.StreamName)
	if err == nil {
		if _, err := f.js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", cfg.StreamName, err)
		}
		return nil
	}
	if errors.Is(err, jetstream.ErrStreamNotFound) {
		if _, err := f.js.CreateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.StreamName, err)
		}
		return nil
	}
	return fmt.Errorf("check stream %s: %w", cfg.StreamName, err)
}

// Publish mirrors a log entry to the canvas subject. The operation ID is
// used as the message ID so JetStream deduplicates redelivered entries.
func (f *Feed) Publish(ctx context.Context, entry *Entry) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return fmt.Errorf("feed is closed")
	}
	f.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	_, err = f.js.Publish(ctx, FeedSubject(entry.CanvasID), data,
		jetstream.WithMsgID(entry.Op.OperationID))
	if err != nil {
		return fmt.Errorf("publish entry: %w", err)
	}
	return nil
}

// Consume delivers every entry published to the stream to handler, starting
// from new messages only. Entries that fail to decode are acked and dropped;
// redelivering them would fail the same way. The returned stop function
// drains the consumer.
func (f *Feed) Consume(ctx context.Context, handler func(*Entry)) (func(), error) {
	cons, err := f.js.CreateOrUpdateConsumer(ctx, f.stream, jetstream.ConsumerConfig{
		FilterSubject: "canvas.*.operations",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create feed consumer: %w", err)
	}

	cctx, err := cons.Consume(func(msg jetstream.Msg) {
		var entry Entry
		if err := json.Unmarshal(msg.Data(), &entry); err != nil {
			logging.Warn().Err(err).Str("subject", msg.Subject()).Msg("dropping undecodable feed entry")
			_ = msg.Ack()
			return
		}
		handler(&entry)
		_ = msg.Ack()
	})
	if err != nil {
		return nil, fmt.Errorf("start feed consumer: %w", err)
	}

	return cctx.Stop, nil
}

// Close drains the connection.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	return f.nc.Drain()
}
