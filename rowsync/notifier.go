// Copyright 2025 Printdesk
// SPDX-License-Identifier: Apache-2.0

package rowsync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// Notifier delivers "poke" notifications telling connected clients to pull.
// Pokes fire strictly after the originating transaction commits, via the
// AfterCommit hooks of the retry controller.
type Notifier interface {
	Poke(ctx context.Context, channels []string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, channels []string) error

func (f NotifierFunc) Poke(ctx context.Context, channels []string) error {
	return f(ctx, channels)
}

// pokeMessage is the payload published on each channel. Clients treat any
// message as "pull now"; content is informational.
const pokeMessage = "poke"

// RedisNotifier fans pokes out over Redis pub/sub, one channel per tenant (or
// whatever channel scheme PokeChannels produces).
type RedisNotifier struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisNotifier creates a notifier around an existing Redis client. The
// caller owns the client's lifecycle.
func NewRedisNotifier(client *redis.Client, logger *slog.Logger) *RedisNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisNotifier{client: client, logger: logger}
}

func (n *RedisNotifier) Poke(ctx context.Context, channels []string) error {
	var errs []error
	for _, channel := range channels {
		if err := n.client.Publish(ctx, channel, pokeMessage).Err(); err != nil {
			n.logger.Error("Failed to publish poke", "channel", channel, "error", err)
			errs = append(errs, err)
			continue
		}
		n.logger.Debug("Published poke", "channel", channel)
	}
	return errors.Join(errs...)
}
