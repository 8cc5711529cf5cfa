package observability

import (
	"context"
	"sync/atomic"
)

// Publisher carries operational events with tracing headers.
type Publisher interface {
	PublishWithHeaders(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

type publisherHolder struct{ Publisher }

var defaultPublisher atomic.Pointer[publisherHolder]

// SetPublisher installs the process-wide publisher; nil disables publishing.
func SetPublisher(publisher Publisher) {
	if publisher == nil {
		defaultPublisher.Store(nil)
		return
	}
	defaultPublisher.Store(&publisherHolder{publisher})
}

// PublishEvent sends message on routingKey and counts failures.
func PublishEvent(ctx context.Context, routingKey string, message any, headers map[string]string) error {
	holder := defaultPublisher.Load()
	if holder == nil {
		return nil
	}
	if err := holder.PublishWithHeaders(ctx, routingKey, message, headers); err != nil {
		IncAMQPPublishError()
		return err
	}
	return nil
}
