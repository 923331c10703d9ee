package pulse

import (
	"context"
	"sync"
	"time"

	"github.com/HerbHall/pulsewatch/internal/event"
	"github.com/HerbHall/pulsewatch/pkg/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// NotificationDispatcher fans transitions out to every matching channel.
// Channels are notified concurrently; a failing or slow channel is logged and
// never affects the others.
type NotificationDispatcher struct {
	channels *ChannelStore
	product  string
	timeout  time.Duration
	every    time.Duration
	burst    int
	logger   *zap.Logger

	// build is swapped in tests.
	build func(ch *models.NotificationChannel) (Notifier, error)

	mu       sync.Mutex
	limiters map[limiterKey]*rate.Limiter
}

// limiterKey scopes rate limiting to one service on one channel, so a
// flapping service is throttled without muting other services.
type limiterKey struct {
	channel string
	service string
}

// NewNotificationDispatcher creates a dispatcher using the notification settings in cfg.
func NewNotificationDispatcher(channels *ChannelStore, cfg Config, logger *zap.Logger) *NotificationDispatcher {
	cfg = cfg.withDefaults()
	return &NotificationDispatcher{
		channels: channels,
		product:  cfg.ProductName,
		timeout:  cfg.NotifyTimeout,
		every:    cfg.NotifyRate,
		burst:    cfg.NotifyBurst,
		logger:   logger,
		build:    buildNotifier,
		limiters: make(map[limiterKey]*rate.Limiter),
	}
}

// Register subscribes the dispatcher to both transition topics.
func (d *NotificationDispatcher) Register(sub event.Subscriber) (unsubscribe func()) {
	down := sub.Subscribe(TopicServiceDown, d.HandleTransitionEvent)
	up := sub.Subscribe(TopicServiceUp, d.HandleTransitionEvent)
	return func() {
		down()
		up()
	}
}

// HandleTransitionEvent is the bus handler for transition topics.
func (d *NotificationDispatcher) HandleTransitionEvent(ctx context.Context, ev event.Event) {
	t, ok := ev.Payload.(models.TransitionEvent)
	if !ok {
		d.logger.Warn("unexpected payload type for transition event",
			zap.String("topic", ev.Topic),
		)
		return
	}
	d.Dispatch(ctx, t)
}

func (d *NotificationDispatcher) limiter(channelID, service string) *rate.Limiter {
	key := limiterKey{channel: channelID, service: service}
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[key]
	if !ok {
		l = rate.NewLimiter(rate.Every(d.every), d.burst)
		d.limiters[key] = l
	}
	return l
}

// Dispatch delivers t to every enabled channel subscribed to its new status
// and waits for all deliveries. It returns the number delivered.
func (d *NotificationDispatcher) Dispatch(ctx context.Context, t models.TransitionEvent) int {
	channels, err := d.channels.List(ctx)
	if err != nil {
		d.logger.Warn("failed to load notification channels", zap.Error(err))
		return 0
	}

	n := NewNotification(t, d.product)
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		delivered int
	)
	for i := range channels {
		ch := channels[i]
		if !ch.Wants(t.Current) {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.deliver(ctx, &ch, n) {
				mu.Lock()
				delivered++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return delivered
}

// deliver sends n through one channel, recovering from notifier panics.
func (d *NotificationDispatcher) deliver(ctx context.Context, ch *models.NotificationChannel, n *Notification) (ok bool) {
	log := d.logger.With(
		zap.String("channel_id", ch.ID),
		zap.String("channel_type", string(ch.Type)),
		zap.String("service", n.ServiceName),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("notifier panicked", zap.Any("panic", r))
			notificationsTotal.WithLabelValues(string(ch.Type), "error").Inc()
			ok = false
		}
	}()

	if !d.limiter(ch.ID, n.ServiceName).Allow() {
		log.Warn("notification dropped by rate limit")
		notificationsTotal.WithLabelValues(string(ch.Type), "limited").Inc()
		return false
	}

	notifier, err := d.build(ch)
	if err != nil {
		log.Warn("failed to build notifier", zap.Error(err))
		notificationsTotal.WithLabelValues(string(ch.Type), "error").Inc()
		return false
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()
	if err := notifier.Notify(sendCtx, n); err != nil {
		log.Warn("notification delivery failed", zap.Error(err))
		notificationsTotal.WithLabelValues(string(ch.Type), "error").Inc()
		return false
	}
	notificationsTotal.WithLabelValues(string(ch.Type), "success").Inc()
	log.Debug("notification delivered", zap.String("status", string(n.Status)))

	if err := d.channels.MarkTriggered(sendCtx, ch.ID, time.Now()); err != nil {
		log.Debug("failed to record last trigger", zap.Error(err))
	}
	return true
}
