// Package monitor prints the change events of the orders collection.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"shopdb/internal/database"
)

type Invalidator interface {
	Invalidate(ctx context.Context) error
}

type Options struct {
	// Invalidator, when set, is called after every event.
	Invalidator Invalidator
	Logger      *zap.Logger
}

// Run blocks printing one line per event until ctx is cancelled, which is
// not an error, or the feed fails.
func Run(ctx context.Context, feed database.ChangeFeed, out io.Writer, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("watching orders for changes")

	err := feed.Watch(ctx, func(ev database.ChangeEvent) error {
		line, err := Format(ev)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(out, "Change detected:", line); err != nil {
			return err
		}
		if opts.Invalidator != nil {
			if err := opts.Invalidator.Invalidate(ctx); err != nil {
				logger.Warn("report cache invalidation failed", zap.Error(err))
			}
		}
		return nil
	})
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || err == nil) {
		logger.Info("stopped watching orders")
		return nil
	}
	return err
}

// Format renders an event as relaxed extended JSON. Events from a change
// stream are printed as received.
func Format(ev database.ChangeEvent) (string, error) {
	if ev.Raw != "" {
		return ev.Raw, nil
	}
	doc := bson.D{
		{Key: "operationType", Value: ev.OperationType},
		{Key: "ns", Value: bson.M{"coll": ev.Collection}},
		{Key: "documentKey", Value: ev.DocumentKey},
	}
	if ev.FullDocument != nil {
		doc = append(doc, bson.E{Key: "fullDocument", Value: ev.FullDocument})
	}
	if ev.UpdatedFields != nil {
		doc = append(doc, bson.E{Key: "updateDescription", Value: bson.M{"updatedFields": ev.UpdatedFields}})
	}
	if !ev.ClusterTime.IsZero() {
		doc = append(doc, bson.E{Key: "wallTime", Value: ev.ClusterTime})
	}
	b, err := bson.MarshalExtJSON(doc, false, false)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
