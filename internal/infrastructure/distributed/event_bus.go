package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"meetkit/internal/core/domain"
	"meetkit/internal/core/ports"
	"meetkit/pkg/circuitbreaker"
	"meetkit/pkg/retry"
)

// EventType represents the type of event
type EventType string

const (
	EventMetricsSnapshot EventType = "metrics.snapshot"
	EventTileAdded       EventType = "tile.added"
	EventTileRemoved     EventType = "tile.removed"
	EventClient          EventType = "client.event"
)

// Event is the message published to the shared channel.
type Event struct {
	Type       EventType         `json:"type"`
	InstanceID string            `json:"instance_id"`
	Timestamp  time.Time         `json:"timestamp"`
	TileID     *domain.TileID    `json:"tile_id,omitempty"`
	AttendeeID domain.AttendeeID `json:"attendee_id,omitempty"`
	Name       string            `json:"name,omitempty"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
}

// Publisher is the slice of the redis client used for publishing.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Subscriber is the slice of the redis client used for subscribing.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

const publishTimeout = 3 * time.Second

// EventPublisher mirrors SDK observer callbacks onto a redis channel so other
// processes can follow a session. Callbacks only enqueue; a separate
// goroutine started by Run does the network I/O.
type EventPublisher struct {
	client     Publisher
	channel    string
	instanceID string
	logger     *zap.SugaredLogger

	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
	failLog rate.Sometimes

	events  chan *Event
	dropped atomic.Int64
	failed  atomic.Int64
	now     func() time.Time
}

type PublisherOption func(*EventPublisher)

// WithPublishRetry retries each publish with backoff.
func WithPublishRetry(cfg retry.Config) PublisherOption {
	return func(p *EventPublisher) { p.retry = cfg }
}

// WithCircuitBreaker fails publishes fast while redis keeps failing.
func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) PublisherOption {
	return func(p *EventPublisher) { p.breaker = cb }
}

func NewEventPublisher(client Publisher, channel, instanceID string, buffer int, logger *zap.SugaredLogger, opts ...PublisherOption) *EventPublisher {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if buffer <= 0 {
		buffer = 256
	}
	p := &EventPublisher{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		logger:     logger,
		retry:      retry.Config{MaxAttempts: 1},
		failLog:    rate.Sometimes{First: 1, Interval: 10 * time.Second},
		events:     make(chan *Event, buffer),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run publishes queued events until ctx is cancelled. Events still queued at
// that point are dropped.
func (p *EventPublisher) Run(ctx context.Context) error {
	p.logger.Infow("event publisher started", "channel", p.channel, "instance_id", p.instanceID)
	for {
		select {
		case <-ctx.Done():
			p.logger.Infow("event publisher stopped", "dropped", p.dropped.Load())
			return nil
		case event := <-p.events:
			if err := p.publish(ctx, event); err != nil && ctx.Err() == nil {
				failed := p.failed.Add(1)
				p.failLog.Do(func() {
					p.logger.Warnw("failed to publish event",
						"type", event.Type,
						"failed_total", failed,
						"error", err,
					)
				})
			}
		}
	}
}

func (p *EventPublisher) publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	send := func(ctx context.Context) error {
		return retry.Do(ctx, p.retry, func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, publishTimeout)
			defer cancel()
			return p.client.Publish(ctx, p.channel, data).Err()
		})
	}

	if p.breaker != nil {
		err = p.breaker.Execute(ctx, send)
	} else {
		err = send(ctx)
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debugw("published event", "type", event.Type, "tile_id", event.TileID)
	return nil
}

func (p *EventPublisher) enqueue(event *Event) {
	event.InstanceID = p.instanceID
	event.Timestamp = p.now()

	select {
	case p.events <- event:
	default:
		if p.dropped.Add(1)%100 == 1 {
			p.logger.Warnw("event publisher backlog full, dropping events", "dropped", p.dropped.Load())
		}
	}
}

// Dropped counts events discarded because the backlog was full.
func (p *EventPublisher) Dropped() int64 {
	return p.dropped.Load()
}

// Failed counts events that could not be published, including those
// rejected by an open circuit breaker.
func (p *EventPublisher) Failed() int64 {
	return p.failed.Load()
}

func (p *EventPublisher) OnMetricsReceive(snapshot domain.MetricSnapshot) {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		p.logger.Warnw("failed to marshal metrics snapshot", "error", err)
		return
	}
	p.enqueue(&Event{Type: EventMetricsSnapshot, Payload: payload})
}

func (p *EventPublisher) OnAddVideoTrack(tile domain.VideoTileState) {
	p.enqueue(p.tileEvent(EventTileAdded, tile))
}

func (p *EventPublisher) OnRemoveVideoTrack(tile domain.VideoTileState) {
	p.enqueue(p.tileEvent(EventTileRemoved, tile))
}

func (p *EventPublisher) tileEvent(kind EventType, tile domain.VideoTileState) *Event {
	id := tile.TileID
	payload, _ := json.Marshal(tile)
	return &Event{Type: kind, TileID: &id, AttendeeID: tile.AttendeeID, Payload: payload}
}

func (p *EventPublisher) clientEvent(name string, payload interface{}) {
	event := &Event{Type: EventClient, Name: name}
	if payload != nil {
		event.Payload, _ = json.Marshal(payload)
	}
	p.enqueue(event)
}

func (p *EventPublisher) OnAudioClientConnecting(reconnecting bool) {
	p.clientEvent("audio_client_connecting", map[string]bool{"reconnecting": reconnecting})
}

func (p *EventPublisher) OnAudioClientStart(reconnecting bool) {
	p.clientEvent("audio_client_start", map[string]bool{"reconnecting": reconnecting})
}

func (p *EventPublisher) OnAudioClientStop(status domain.SessionStatus) {
	p.clientEvent("audio_client_stop", status)
}

func (p *EventPublisher) OnAudioClientReconnectionCancel() {
	p.clientEvent("audio_client_reconnection_cancel", nil)
}

func (p *EventPublisher) OnConnectionRecover() { p.clientEvent("connection_recover", nil) }

func (p *EventPublisher) OnConnectionBecomePoor() { p.clientEvent("connection_become_poor", nil) }

func (p *EventPublisher) OnVideoClientConnecting() { p.clientEvent("video_client_connecting", nil) }

func (p *EventPublisher) OnVideoClientStart() { p.clientEvent("video_client_start", nil) }

func (p *EventPublisher) OnVideoClientStop(status domain.SessionStatus) {
	p.clientEvent("video_client_stop", status)
}

var (
	_ ports.MetricsObserver    = (*EventPublisher)(nil)
	_ ports.VideoTileObserver  = (*EventPublisher)(nil)
	_ ports.AudioVideoObserver = (*EventPublisher)(nil)
)

// Follow subscribes to channel and calls handler for every event published
// by another instance until ctx is cancelled.
func Follow(ctx context.Context, client Subscriber, channel, instanceID string, logger *zap.SugaredLogger, handler func(*Event) error) error {
	pubsub := client.Subscribe(ctx, channel)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			// Skip events from this instance
			if event.InstanceID == instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}
