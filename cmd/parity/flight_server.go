package main

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-parity/internal/report"
)

// ParityFlightServer collects report batches pushed by remote parity runs.
type ParityFlightServer struct {
	flight.BaseFlightServer
	store *reportStore
	alloc memory.Allocator
}

func NewParityFlightServer(store *reportStore) *ParityFlightServer {
	return &ParityFlightServer{
		store: store,
		alloc: memory.NewGoAllocator(),
	}
}

func (s *ParityFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	return fmt.Errorf("DoExchange not implemented")
}

func (s *ParityFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	var dataset []string
	if desc := reader.LatestFlightDescriptor(); desc != nil {
		dataset = desc.Path
	}
	for reader.Next() {
		rows, err := report.Rows(reader.Record())
		if err != nil {
			return err
		}
		s.store.Add(rows)
		reportRows.WithLabelValues("flight").Add(float64(len(rows)))
		log.Info().Strs("dataset", dataset).Int("rows", len(rows)).Msg("DoPut received report batch")
	}
	return reader.Err()
}

func StartFlightServer(addr string, store *reportStore) {
	server := flight.NewFlightServer()
	server.RegisterFlightService(NewParityFlightServer(store))

	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", addr).Msg("Starting Parity Flight Server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
