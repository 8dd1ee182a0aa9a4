package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/streadway/amqp"
)

// Pusher is the pipeline entry point. Satisfied by delivery.Pipeline.
type Pusher interface {
	HandlePush(ctx context.Context, raw []byte) error
}

// PushConsumer hands each delivery body to the pipeline. Bodies that are not
// JSON are rejected straight to the dead-letter queue; a pipeline failure is
// requeued until the attempt cap, then dead-lettered.
type PushConsumer struct {
	base          *BaseConsumer
	pipeline      Pusher
	logger        *slog.Logger
	maxDeliveries int
}

func NewPushConsumer(base *BaseConsumer, pipeline Pusher, logger *slog.Logger, maxDeliveries int) *PushConsumer {
	if maxDeliveries <= 0 {
		maxDeliveries = 5
	}
	return &PushConsumer{
		base:          base,
		pipeline:      pipeline,
		logger:        logger,
		maxDeliveries: maxDeliveries,
	}
}

func (p *PushConsumer) Start(ctx context.Context) error {
	return p.base.Start(ctx, p.handleDelivery)
}

func (p *PushConsumer) handleDelivery(ctx context.Context, msg amqp.Delivery) error {
	if !json.Valid(msg.Body) {
		p.logger.Error("push body is not valid JSON, dead-lettering")
		_ = msg.Reject(false)
		return nil
	}

	if err := p.pipeline.HandlePush(ctx, msg.Body); err != nil {
		requeue := p.shouldRetry(&msg)
		if requeue {
			p.logger.Warn("push handling failed, message requeued", slog.Any("error", err))
		} else {
			p.logger.Error("push handling failed, message dead-lettered", slog.Any("error", err))
		}
		_ = msg.Nack(false, requeue)
		return err
	}

	return msg.Ack(false)
}

func (p *PushConsumer) shouldRetry(msg *amqp.Delivery) bool {
	return deliveryAttempts(msg) < p.maxDeliveries
}

func deliveryAttempts(msg *amqp.Delivery) int {
	if msg.Headers == nil {
		if msg.Redelivered {
			return 1
		}
		return 0
	}
	if raw, ok := msg.Headers["x-death"]; ok {
		if deaths, ok := raw.([]interface{}); ok && len(deaths) > 0 {
			if table, ok := deaths[0].(amqp.Table); ok {
				if count, ok := table["count"].(int64); ok {
					return int(count)
				}
			}
		}
	}
	if msg.Redelivered {
		return 1
	}
	return 0
}
