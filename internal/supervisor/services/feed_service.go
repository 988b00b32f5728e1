// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package services

import (
	"context"
	"fmt"

	"github.com/arialgardner/techno-canvas-sub001/internal/oplog"
)

// FeedConsumer matches *oplog.Feed's Consume method.
type FeedConsumer interface {
	Consume(ctx context.Context, handler func(*oplog.Entry)) (func(), error)
}

// RemoteHandler matches *engine.Engine's HandleRemote method.
type RemoteHandler interface {
	HandleRemote(ctx context.Context, entry *oplog.Entry)
}

// FeedBridgeService pumps operations arriving on the NATS feed into the
// synchronization engine. The engine's dedup index and own-echo handling
// make redelivery and this instance's own published entries safe.
type FeedBridgeService struct {
	feed   FeedConsumer
	engine RemoteHandler
}

// NewFeedBridgeService wires the feed consumer to the engine.
func NewFeedBridgeService(feed FeedConsumer, engine RemoteHandler) *FeedBridgeService {
	return &FeedBridgeService{feed: feed, engine: engine}
}

// Serve implements suture.Service. The consumer runs until ctx is
// canceled, then drains before returning.
func (s *FeedBridgeService) Serve(ctx context.Context) error {
	stop, err := s.feed.Consume(ctx, func(entry *oplog.Entry) {
		s.engine.HandleRemote(ctx, entry)
	})
	if err != nil {
		return fmt.Errorf("start feed consumer: %w", err)
	}

	<-ctx.Done()
	stop()
	return ctx.Err()
}

// String implements fmt.Stringer for supervisor logs.
func (s *FeedBridgeService) String() string {
	return "nats-feed-bridge"
}
