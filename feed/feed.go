package feed

import (
	"context"
	"sync"

	"github.com/fleetgate/fleetgate/config"
)

type ConsumerFunc func(data interface{}) error

/*
Feed is the in-process fan-out for applied fixes. The applier publishes,
side sinks (time series trail, snapshot cache) subscribe. Consumers run
inline on the publisher's goroutine; a failing consumer is logged and does
not stop delivery to the others.
*/
type Feed struct {
	ctx       context.Context
	mu        sync.RWMutex
	consumers []ConsumerFunc
}

func NewFeed(ctx context.Context) *Feed {
	return &Feed{
		ctx: ctx,
	}
}

func (f *Feed) Publish(data interface{}) {
	log := config.GetLogger(f.ctx)

	f.mu.RLock()
	consumers := make([]ConsumerFunc, len(f.consumers))
	copy(consumers, f.consumers)
	f.mu.RUnlock()

	for _, consumerFunc := range consumers {
		err := consumerFunc(data)
		if err == nil {
			log.Debugf("Data forwarded and processed.")
		} else {
			log.Errorf("Failed to forward data. %v", err)
		}
	}
}

func (f *Feed) Subscribe(consumerFunc ConsumerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.consumers = append(f.consumers, consumerFunc)
}
