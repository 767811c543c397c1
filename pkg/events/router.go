package events

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Router distributes run events to handlers over an in-process watermill
// pub/sub. Publishing blocks until subscribers ack, so a progress display
// never lags behind the run it reports on.
type Router struct {
	logger     watermill.LoggerAdapter
	Publisher  message.Publisher
	Subscriber message.Subscriber
	router     *message.Router
}

type RouterOption func(*Router)

func WithWatermillLogger(logger watermill.LoggerAdapter) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

func NewRouter(options ...RouterOption) (*Router, error) {
	ret := &Router{
		logger: watermill.NopLogger{},
	}
	for _, o := range options {
		o(ret)
	}

	goPubSub := gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)
	ret.Publisher = goPubSub
	ret.Subscriber = goPubSub

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, errors.Wrap(err, "creating watermill router")
	}
	ret.router = router

	return ret, nil
}

// AddHandler subscribes f to every run event. Handlers are registered before
// Run is called.
func (r *Router) AddHandler(name string, f func(ctx context.Context, e Event) error) {
	r.router.AddNoPublisherHandler(name, Topic, r.Subscriber, func(msg *message.Message) error {
		var e Event
		if err := json.Unmarshal(msg.Payload, &e); err != nil {
			return errors.Wrap(err, "decoding run event")
		}
		return f(msg.Context(), e)
	})
}

// Run blocks until ctx is cancelled or the router is closed.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running unblocks once the router has started and handlers receive events.
func (r *Router) Running() chan struct{} {
	return r.router.Running()
}

func (r *Router) Close() error {
	err := r.Publisher.Close()
	if err != nil {
		log.Error().Err(err).Msg("failed to close event publisher")
	}
	if err := r.router.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close event router")
		return err
	}
	return err
}

// Emitter publishes run events. The zero value and a nil *Emitter are both
// safe no-ops, so components can emit unconditionally.
type Emitter struct {
	pub message.Publisher
}

func NewEmitter(pub message.Publisher) *Emitter {
	return &Emitter{pub: pub}
}

// Emit publishes e. Failures are logged, never propagated: events must not be
// able to fail a run.
func (e *Emitter) Emit(event Event) {
	if e == nil || e.pub == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", string(event.Type)).Msg("failed to encode run event")
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := e.pub.Publish(Topic, msg); err != nil {
		log.Error().Err(err).Str("type", string(event.Type)).Msg("failed to publish run event")
	}
}
