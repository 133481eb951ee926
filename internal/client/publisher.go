package client

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-parity/internal/report"
)

// Putter is the part of FlightClient a Publisher needs.
type Putter interface {
	DoPut(ctx context.Context, dataset string, record arrow.RecordBatch) error
}

// Publisher pushes report batches to one dataset through a circuit
// breaker.
type Publisher struct {
	putter  Putter
	dataset string
	breaker *CircuitBreaker
}

func NewPublisher(p Putter, dataset string, breaker *CircuitBreaker) *Publisher {
	return &Publisher{putter: p, dataset: dataset, breaker: breaker}
}

// Publish sends rec. Nil or empty batches are a no-op.
func (p *Publisher) Publish(ctx context.Context, rec arrow.RecordBatch) error {
	if rec == nil || rec.NumRows() == 0 {
		return nil
	}
	if !rec.Schema().Equal(report.Schema) {
		return fmt.Errorf("publish: record does not have the report schema")
	}
	err := p.breaker.Do(func() error {
		return p.putter.DoPut(ctx, p.dataset, rec)
	})
	if err != nil {
		log.Warn().Err(err).Str("dataset", p.dataset).Str("breaker", p.breaker.State().String()).Msg("Failed to publish parity report")
		return err
	}
	log.Info().Int64("rows", rec.NumRows()).Str("dataset", p.dataset).Msg("Published parity report")
	return nil
}
