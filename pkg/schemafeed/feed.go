package schemafeed

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/prompted365/golf/pkg/models"
	"github.com/prompted365/golf/pkg/schema"
)

// Persister receives every applied schema so it survives restarts. The
// postgres schema store satisfies it.
type Persister interface {
	Save(ctx context.Context, s *models.IntegrationSchema) error
}

// Recorder counts applied schema events. The metrics registry satisfies it.
type Recorder interface {
	IncSchemaEvent(integration string)
}

// Feed drains a consumer and applies each message, an IntegrationSchema
// encoded as JSON, to the registry. Store and Metrics are optional.
type Feed struct {
	Bus      Consumer
	Registry *schema.Registry
	Store    Persister
	Metrics  Recorder

	// RetryDelay spaces out retries after transport errors.
	RetryDelay time.Duration
}

// Run blocks until ctx is cancelled. Malformed or invalid schemas are
// logged and skipped; one bad producer must not stall the feed.
func (f *Feed) Run(ctx context.Context) {
	delay := f.RetryDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	for {
		msg, err := f.Bus.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("schema feed read error: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		f.apply(ctx, msg.Value)
	}
}

func (f *Feed) apply(ctx context.Context, value []byte) {
	var s models.IntegrationSchema
	if err := json.Unmarshal(value, &s); err != nil {
		log.Printf("schema feed decode error: %v", err)
		return
	}
	if err := f.Registry.Register(&s); err != nil {
		log.Printf("schema feed rejected %q: %v", s.Integration, err)
		return
	}
	if f.Store != nil {
		if err := f.Store.Save(ctx, &s); err != nil {
			log.Printf("schema feed persist %q: %v", s.Integration, err)
		}
	}
	if f.Metrics != nil {
		f.Metrics.IncSchemaEvent(s.Integration)
	}
}
