// Package events serves the long-lived event surface over websockets.
//
// Peers exchange JSON envelopes of the form {"event": name, "data": {...}}.
// Every command carries its own auth token and is checked on its own; the
// connection itself holds no authorization state.
//
// # Commands
//
//	fetch      {keyspace, auth[, limit]}  -> combo | no_combos | errors
//	invalid    {uuid, keyspace, auth}      -> invalidated | errors
//	validate   {id, acc, auth}             -> (forwarded to the notification sink)
//	settings   {auth}                      -> settings
//	connect    {auth}                      -> authenticated
//	disconnect {}                          -> connection closed
//
// A bad token on connect or settings gets no reply at all, so a peer
// guessing tokens cannot tell a rejection from a lost message. The data
// commands answer a bad token with an errors event.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dreamware/comboq/internal/auth"
	"github.com/dreamware/comboq/internal/combo"
	"github.com/dreamware/comboq/internal/notify"
)

const (
	readLimit    = 1 << 20
	writeTimeout = 5 * time.Second
)

// Options configures a Gateway.
type Options struct {
	Registry *combo.Registry
	Auth     *auth.AllowList
	Sink     notify.Sink
	Settings Settings
	// Hub keeps peers alive. Nil disables keepalive.
	Hub *Hub
	// Rate and Burst bound the events accepted per peer. A zero Rate
	// disables the limit.
	Rate  rate.Limit
	Burst int
	// OriginPatterns is passed to websocket.AcceptOptions.
	OriginPatterns []string
	// InsecureSkipVerify disables the origin check.
	InsecureSkipVerify bool
}

// Gateway is the http.Handler accepting event peers.
type Gateway struct {
	registry *combo.Registry
	auth     *auth.AllowList
	sink     notify.Sink
	settings Settings
	hub      *Hub
	rate     rate.Limit
	burst    int
	accept   *websocket.AcceptOptions
}

// NewGateway creates a gateway. A nil sink logs notifications.
func NewGateway(opts Options) *Gateway {
	g := &Gateway{
		registry: opts.Registry,
		auth:     opts.Auth,
		sink:     opts.Sink,
		settings: opts.Settings,
		hub:      opts.Hub,
		rate:     opts.Rate,
		burst:    opts.Burst,
		accept: &websocket.AcceptOptions{
			OriginPatterns:     opts.OriginPatterns,
			InsecureSkipVerify: opts.InsecureSkipVerify,
		},
	}
	if g.sink == nil {
		g.sink = notify.LogSink{}
	}
	if g.burst <= 0 {
		g.burst = 1
	}
	return g
}

type peer struct {
	id      string
	conn    *websocket.Conn
	limiter *rate.Limiter
}

func (p *peer) ID() string { return p.id }

func (p *peer) Ping(ctx context.Context) error { return p.conn.Ping(ctx) }

func (p *peer) Close(reason string) { _ = p.conn.Close(websocket.StatusGoingAway, reason) }

func (p *peer) send(ctx context.Context, env Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, p.conn, env)
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, g.accept)
	if err != nil {
		clog.FromContext(r.Context()).Warnf("Websocket upgrade failed: %v", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(readLimit)

	p := &peer{id: uuid.NewString(), conn: conn}
	if g.rate > 0 {
		p.limiter = rate.NewLimiter(g.rate, g.burst)
	}
	if g.hub != nil {
		g.hub.Add(p)
		defer g.hub.Remove(p.id)
	}

	ctx := clog.WithLogger(r.Context(), clog.FromContext(r.Context()).With("peer", p.id))
	log := clog.FromContext(ctx)
	log.Debugf("Peer attached from %s", r.RemoteAddr)

	for {
		// Text and binary frames are both decoded as JSON text.
		_, msg, err := conn.Read(ctx)
		if err != nil {
			log.Infof("Node disconnected (%v)", websocket.CloseStatus(err))
			return
		}

		if p.limiter != nil && !p.limiter.Allow() {
			observe("", resultRateLimited)
			if err := p.send(ctx, errorsEvent("rate limited")); err != nil {
				return
			}
			continue
		}

		replies, done := g.handle(ctx, msg)
		for _, env := range replies {
			if err := p.send(ctx, env); err != nil {
				log.Warnf("Failed to send %s: %v", env.Event, err)
				return
			}
		}
		if done {
			log.Info("Node disconnected")
			_ = conn.Close(websocket.StatusNormalClosure, "disconnect")
			return
		}
	}
}

// handle processes one inbound message. done reports that the peer asked to
// disconnect.
func (g *Gateway) handle(ctx context.Context, msg []byte) (replies []Envelope, done bool) {
	var env Envelope
	if err := jsonUnmarshal(msg, &env); err != nil {
		observe("", resultMalformed)
		return []Envelope{errorsEvent("error when parsing json", err.Error())}, false
	}
	if env.Event == "" {
		observe("", resultMalformed)
		return []Envelope{missingKey("event")}, false
	}

	ctx = clog.WithLogger(ctx, clog.FromContext(ctx).With("event", env.Event))

	switch env.Event {
	case EventFetch:
		return g.fetch(ctx, env), false
	case EventInvalid:
		return g.invalid(ctx, env), false
	case EventValidate:
		return g.validate(ctx, env), false
	case EventSettings:
		return g.settingsReply(ctx, env), false
	case EventConnect:
		return g.connect(ctx, env), false
	case EventDisconnect:
		observe(EventDisconnect, resultOK)
		return nil, true
	default:
		observe(env.Event, resultMalformed)
		return []Envelope{errorsEvent(fmt.Sprintf("unknown event %q", env.Event))}, false
	}
}

// parse decodes the payload of a data command, returning the error reply to
// send when it is malformed.
func parse(env Envelope) (payload, []Envelope) {
	p, err := decodePayload(env.Data)
	if err != nil {
		observe(env.Event, resultMalformed)
		return payload{}, []Envelope{errorsEvent("error when parsing json", err.Error())}
	}
	return p, nil
}

func (g *Gateway) authorize(ctx context.Context, event string, token *string) []Envelope {
	if token == nil {
		observe(event, resultMalformed)
		return []Envelope{missingKey("auth")}
	}
	if !g.auth.Allowed(*token) {
		clog.FromContext(ctx).Debug("Rejected unauthorized event")
		observe(event, resultUnauthorized)
		return []Envelope{errorsEvent("Unauthorized")}
	}
	return nil
}

func (g *Gateway) store(event string, name *string) (*combo.Store, []Envelope) {
	if name == nil {
		observe(event, resultMalformed)
		return nil, []Envelope{missingKey("keyspace")}
	}
	st, err := g.registry.Store(*name)
	if err != nil {
		observe(event, resultError)
		return nil, []Envelope{errorsEvent(err.Error())}
	}
	return st, nil
}

func (g *Gateway) fetch(ctx context.Context, env Envelope) []Envelope {
	p, errs := parse(env)
	if errs != nil {
		return errs
	}
	if p.category() == nil {
		observe(env.Event, resultMalformed)
		return []Envelope{missingKey("keyspace")}
	}
	if errs := g.authorize(ctx, env.Event, p.Auth); errs != nil {
		return errs
	}
	st, errs := g.store(env.Event, p.category())
	if errs != nil {
		return errs
	}

	if err := st.CheckLimit(p.Limit); err != nil {
		observe(env.Event, resultMalformed)
		return []Envelope{errorsEvent(err.Error())}
	}

	res := st.Dequeue(ctx, p.Limit)
	switch res.Status {
	case combo.StatusEmpty:
		observe(env.Event, resultOK)
		return []Envelope{newEnvelope(EventNoCombos, struct{}{})}
	case combo.StatusFailed:
		observe(env.Event, resultError)
		return []Envelope{errorsEvent(res.Errors...)}
	default:
		observe(env.Event, resultOK)
		return []Envelope{newEnvelope(EventCombo, res)}
	}
}

func (g *Gateway) invalid(ctx context.Context, env Envelope) []Envelope {
	p, errs := parse(env)
	if errs != nil {
		return errs
	}
	switch {
	case p.uuid() == nil:
		observe(env.Event, resultMalformed)
		return []Envelope{missingKey("uuid")}
	case p.category() == nil:
		observe(env.Event, resultMalformed)
		return []Envelope{missingKey("keyspace")}
	}
	if errs := g.authorize(ctx, env.Event, p.Auth); errs != nil {
		return errs
	}
	st, errs := g.store(env.Event, p.category())
	if errs != nil {
		return errs
	}

	id := *p.uuid()
	if err := st.Invalidate(ctx, id); err != nil {
		observe(env.Event, resultError)
		return []Envelope{errorsEvent(err.Error())}
	}
	observe(env.Event, resultOK)
	return []Envelope{newEnvelope(EventInvalidated, map[string]string{"uuid": id})}
}

func (g *Gateway) validate(ctx context.Context, env Envelope) []Envelope {
	p, errs := parse(env)
	if errs != nil {
		return errs
	}
	switch {
	case p.Acc == nil:
		observe(env.Event, resultMalformed)
		return []Envelope{missingKey("acc")}
	case p.ID == nil:
		observe(env.Event, resultMalformed)
		return []Envelope{missingKey("id")}
	}
	if errs := g.authorize(ctx, env.Event, p.Auth); errs != nil {
		return errs
	}

	if err := g.sink.Notify(ctx, *p.ID, p.Acc); err != nil {
		clog.FromContext(ctx).Errorf("Notification failed for %s: %v", *p.ID, err)
		observe(env.Event, resultError)
		return []Envelope{errorsEvent("could not deliver notification", err.Error())}
	}
	observe(env.Event, resultOK)
	return nil
}

// silentAuth checks connect and settings. Every failure is dropped without
// a reply.
func (g *Gateway) silentAuth(ctx context.Context, env Envelope) bool {
	p, err := decodePayload(env.Data)
	if err != nil {
		observe(env.Event, resultMalformed)
		return false
	}
	if p.Auth == nil || !g.auth.Allowed(*p.Auth) {
		clog.FromContext(ctx).Debug("Dropped unauthorized event")
		observe(env.Event, resultUnauthorized)
		return false
	}
	observe(env.Event, resultOK)
	return true
}

func (g *Gateway) settingsReply(ctx context.Context, env Envelope) []Envelope {
	if !g.silentAuth(ctx, env) {
		return nil
	}
	clog.FromContext(ctx).Debug("Sending settings")
	return []Envelope{newEnvelope(EventSettings, g.settings)}
}

func (g *Gateway) connect(ctx context.Context, env Envelope) []Envelope {
	ok := g.silentAuth(ctx, env)
	clog.FromContext(ctx).Info("Node connected")
	if !ok {
		return nil
	}
	return []Envelope{newEnvelope(EventAuthenticated, struct{}{})}
}

var errEmptyMessage = errors.New("empty message")

func jsonUnmarshal(msg []byte, v any) error {
	if len(msg) == 0 {
		return errEmptyMessage
	}
	return json.Unmarshal(msg, v)
}
