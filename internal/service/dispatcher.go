package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zeroxmods/certmint/internal/model"
	"github.com/zeroxmods/certmint/pkg/logger"
)

// MintEvent 订单铸造状态变更事件
type MintEvent struct {
	OrderID             string            `json:"order_id"`
	Reference           string            `json:"reference"`
	OrderStatus         model.OrderStatus `json:"order_status"`
	MintStep            model.MintStep    `json:"mint_step"`
	Error               string            `json:"error,omitempty"`
	AuthenticityTokenID string            `json:"authenticity_token_id,omitempty"`
	AuthenticitySerial  int64             `json:"authenticity_serial,omitempty"`
	OwnershipTokenID    string            `json:"ownership_token_id,omitempty"`
	OwnershipSerial     int64             `json:"ownership_serial,omitempty"`
	At                  time.Time         `json:"at"`
}

// Notifier receives mint events. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, evt MintEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, evt MintEvent) error

func (f NotifierFunc) Notify(ctx context.Context, evt MintEvent) error { return f(ctx, evt) }

// EventDispatcher 本地异步投递：编排器只入队，不等待 websocket / MQ
type EventDispatcher struct {
	sinks     []Notifier
	ch        chan MintEvent
	timeout   time.Duration
	wg        sync.WaitGroup
	metricsCh chan time.Duration
}

func NewEventDispatcher(queueSize int, sinks ...Notifier) *EventDispatcher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &EventDispatcher{
		sinks:     sinks,
		ch:        make(chan MintEvent, queueSize),
		timeout:   5 * time.Second,
		metricsCh: make(chan time.Duration, 4096),
	}
}

// Notify enqueues evt; a full queue drops it with a warning.
func (d *EventDispatcher) Notify(_ context.Context, evt MintEvent) error {
	if evt.At.IsZero() {
		evt.At = time.Now()
	}
	select {
	case d.ch <- evt:
	default:
		logger.Warn("mint event queue full, drop", zap.String("order_id", evt.OrderID), zap.String("status", string(evt.OrderStatus)))
	}
	return nil
}

// Start 启动投递 worker；返回停止函数（尽量排空队列）
func (d *EventDispatcher) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 2
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case evt := <-d.ch:
					d.deliver(evt)
				case <-stopCh:
					for {
						select {
						case evt := <-d.ch:
							d.deliver(evt)
						default:
							return
						}
					}
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
		done := make(chan struct{})
		go func() { d.wg.Wait(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *EventDispatcher) deliver(evt MintEvent) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		if err := s.Notify(ctx, evt); err != nil {
			logger.Warn("mint event delivery failed", zap.String("order_id", evt.OrderID), zap.Error(err))
		}
		cancel()
	}
	select {
	case d.metricsCh <- time.Since(evt.At):
	default:
	}
}

// Metrics 返回事件从产生到投递完成的耗时
func (d *EventDispatcher) Metrics() <-chan time.Duration { return d.metricsCh }

// QueueLen 返回当前队列长度（采样值）
func (d *EventDispatcher) QueueLen() int { return len(d.ch) }

// EventPublisher publishes a JSON payload under a routing key.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

const (
	RoutingCertificateMinted = "certificate.minted"
	RoutingCertificateFailed = "certificate.failed"
)

// BrokerNotifier forwards terminal mint events to a message broker.
func BrokerNotifier(pub EventPublisher) Notifier {
	return NotifierFunc(func(ctx context.Context, evt MintEvent) error {
		switch evt.OrderStatus {
		case model.OrderCompleted:
			return pub.Publish(ctx, RoutingCertificateMinted, evt)
		case model.OrderFailed:
			return pub.Publish(ctx, RoutingCertificateFailed, evt)
		default:
			return nil
		}
	})
}
