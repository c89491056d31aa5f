// Package notify forwards validated accounts to external channels.
//
// A Sink receives the combo id and the opaque account info reported by a
// peer. The gateway never inspects the account info; it is passed through as
// raw JSON.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/chainguard-dev/clog"
	"golang.org/x/sync/errgroup"
)

// Sink delivers one validation notification.
type Sink interface {
	Notify(ctx context.Context, id string, account json.RawMessage) error
}

// LogSink writes notifications to the context logger.
type LogSink struct{}

// Notify implements Sink.
func (LogSink) Notify(ctx context.Context, id string, account json.RawMessage) error {
	clog.FromContext(ctx).With("combo", id).Infof("Combo validated: %s", compact(account))
	return nil
}

// Multi fans a notification out to every sink concurrently. A failing sink
// does not prevent delivery to the others; failures are returned joined.
type Multi []Sink

// Notify implements Sink.
func (m Multi) Notify(ctx context.Context, id string, account json.RawMessage) error {
	errs := make([]error, len(m))
	var g errgroup.Group
	for i, s := range m {
		g.Go(func() error {
			errs[i] = s.Notify(ctx, id, account)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Message renders the human readable notification text shared by the chat
// sinks.
func Message(id string, account json.RawMessage) string {
	return "Validated combo " + id + "\n" + compact(account)
}

func compact(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
