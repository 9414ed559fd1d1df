package blockctl

import "sync/atomic"

// ClientStats is a snapshot of client activity since creation.
type ClientStats struct {
	// Exchanges is the number of completed control exchanges,
	// including ones the controller answered with ERR
	Exchanges int64

	// ControllerErrors counts ERR responses
	ControllerErrors int64

	// Errors counts failed exchanges (connection, timeout, protocol)
	Errors int64

	// DataSessions counts data connections opened through the client
	DataSessions int64
}

type clientStatsCollector struct {
	exchanges        atomic.Int64
	controllerErrors atomic.Int64
	errors           atomic.Int64
	dataSessions     atomic.Int64
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{}
}

func (s *clientStatsCollector) recordExchange()        { s.exchanges.Add(1) }
func (s *clientStatsCollector) recordControllerError() { s.controllerErrors.Add(1) }
func (s *clientStatsCollector) recordError()           { s.errors.Add(1) }
func (s *clientStatsCollector) recordDataSession()     { s.dataSessions.Add(1) }

func (s *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Exchanges:        s.exchanges.Load(),
		ControllerErrors: s.controllerErrors.Load(),
		Errors:           s.errors.Load(),
		DataSessions:     s.dataSessions.Load(),
	}
}
