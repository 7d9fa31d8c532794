package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	loaderrors "github.com/devrev/pairdb/bulkloader/internal/errors"
	"github.com/devrev/pairdb/bulkloader/internal/model"
	"github.com/devrev/pairdb/bulkloader/internal/transport"
)

// session streams the units assigned to one endpoint. It is owned by a single
// worker; nothing in it is shared.
type session struct {
	coord *Coordinator
	units []*model.RangeUnit
	state model.StreamSession
	conn  transport.Conn

	// Session-local connections to fallback replicas, closed when the session ends
	fallbacks      map[model.HostAddress]transport.Conn
	fallbackErrors map[model.HostAddress]error

	connected chan<- connectResult
	release   <-chan struct{}
	unitCh    chan<- model.UnitOutcome
	sessionCh chan<- model.EndpointOutcome
	logger    *zap.Logger

	connectReported bool
	finished        bool
}

func (s *session) run(ctx context.Context) error {
	defer s.report()

	s.state.StartTime = time.Now()
	s.coord.metrics.SessionStarted()
	s.transition(model.SessionStateConnecting)

	conn, err := s.coord.connect(ctx, s.state.Endpoint)
	s.reportConnect(err)
	if err != nil {
		s.logger.Warn("Endpoint unreachable, its units will be rerouted", zap.Error(err))
		s.state.LastError = loaderrors.HostUnavailable("endpoint "+s.state.Endpoint.String()+" unreachable", err)
		s.transition(model.SessionStateFailed)
	} else {
		s.conn = conn
	}

	select {
	case <-s.release:
	case <-ctx.Done():
	}
	if ctx.Err() != nil {
		return s.finish(ctx, 0)
	}

	if s.conn != nil {
		s.transition(model.SessionStateStreaming)
		s.logger.Debug("Streaming session started", zap.Int("units", len(s.units)))
	}

	for i, unit := range s.units {
		if ctx.Err() != nil {
			return s.finish(ctx, i)
		}
		s.deliver(ctx, unit)
	}
	return s.finish(ctx, len(s.units))
}

// deliver sends unit to the endpoint, then to its fallback replicas in order,
// and reports exactly one outcome for it
func (s *session) deliver(ctx context.Context, unit *model.RangeUnit) {
	ep := s.state.Endpoint
	outcome := model.UnitOutcome{
		UnitID:  unit.ID,
		Table:   unit.Table,
		Range:   unit.Range,
		Primary: ep,
	}

	var errs error
	if s.conn != nil {
		outcome.Attempts++
		err := s.send(ctx, s.conn, unit)
		if err == nil {
			s.complete(&outcome, ep)
			return
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", ep, err))
		if transport.IsConnectionLost(err) {
			s.loseConnection(err)
		}
	} else if s.state.LastError != nil {
		errs = multierr.Append(errs, s.state.LastError)
	}

	for _, fb := range unit.Replicas.Fallbacks(ep) {
		if ctx.Err() != nil {
			break
		}
		conn, err := s.fallback(ctx, fb)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		s.coord.metrics.RecordReroute()
		s.logger.Info("Rerouting unit to fallback replica",
			zap.String("unit", unit.ID),
			zap.String("fallback", fb.String()))

		outcome.Attempts++
		err = s.send(ctx, conn, unit)
		if err == nil {
			s.complete(&outcome, fb)
			return
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", fb, err))
		if transport.IsConnectionLost(err) {
			s.dropFallback(fb, err)
		}
	}

	if ctx.Err() != nil {
		errs = loaderrors.Canceled("unit "+unit.ID+" canceled", multierr.Append(errs, ctx.Err()))
	} else if errs == nil {
		errs = loaderrors.HostUnavailable("no replica available for unit "+unit.ID, nil)
	}
	outcome.Err = errs
	s.logger.Error("Unit failed on every replica",
		zap.String("unit", unit.ID),
		zap.Int("attempts", outcome.Attempts),
		zap.Error(errs))
	s.coord.metrics.RecordUnitOutcome("failed")
	s.unitCh <- outcome
}

// send streams one unit over conn and accounts the acknowledged bytes to this session
func (s *session) send(ctx context.Context, conn transport.Conn, unit *model.RangeUnit) error {
	start := time.Now()
	n, err := conn.Send(ctx, unit)
	if err != nil {
		s.logger.Warn("Unit send failed",
			zap.String("unit", unit.ID),
			zap.String("target", conn.Endpoint().String()),
			zap.Error(err))
		return err
	}

	s.state.BytesSent += n
	s.state.UnitsSent++
	s.coord.metrics.RecordUnitSent(conn.Endpoint().String(), n, time.Since(start).Seconds())
	s.logger.Debug("Unit acknowledged",
		zap.String("unit", unit.ID),
		zap.String("target", conn.Endpoint().String()),
		zap.Int("partitions", len(unit.Partitions)),
		zap.Int64("bytes", n))
	return nil
}

func (s *session) complete(outcome *model.UnitOutcome, on model.HostAddress) {
	target := on
	outcome.CompletedOn = &target
	outcome.Err = nil
	if on == outcome.Primary {
		s.coord.metrics.RecordUnitOutcome("completed")
	} else {
		s.coord.metrics.RecordUnitOutcome("rerouted")
	}
	s.unitCh <- *outcome
}

// fallback returns a cached connection to ep, connecting on first use.
// An endpoint that failed once is not retried within this session.
func (s *session) fallback(ctx context.Context, ep model.HostAddress) (transport.Conn, error) {
	if conn, ok := s.fallbacks[ep]; ok {
		return conn, nil
	}
	if err, ok := s.fallbackErrors[ep]; ok {
		return nil, err
	}

	conn, err := s.coord.connect(ctx, ep)
	if err != nil {
		if ctx.Err() == nil {
			s.markFallbackFailed(ep, err)
		}
		return nil, err
	}
	if s.fallbacks == nil {
		s.fallbacks = make(map[model.HostAddress]transport.Conn)
	}
	s.fallbacks[ep] = conn
	return conn, nil
}

func (s *session) dropFallback(ep model.HostAddress, err error) {
	if conn, ok := s.fallbacks[ep]; ok {
		_ = conn.Close()
		delete(s.fallbacks, ep)
	}
	s.markFallbackFailed(ep, err)
}

func (s *session) markFallbackFailed(ep model.HostAddress, err error) {
	if s.fallbackErrors == nil {
		s.fallbackErrors = make(map[model.HostAddress]error)
	}
	s.fallbackErrors[ep] = fmt.Errorf("%s: %w", ep, err)
}

// loseConnection fails the session; remaining units go straight to fallbacks
func (s *session) loseConnection(err error) {
	s.logger.Warn("Connection lost, rerouting remaining units", zap.Error(err))
	_ = s.conn.Close()
	s.conn = nil
	s.state.LastError = loaderrors.HostUnavailable("connection to "+s.state.Endpoint.String()+" lost", err)
	s.transition(model.SessionStateFailed)
}

// finish reports units from index next onward as canceled and settles the
// session's terminal state
func (s *session) finish(ctx context.Context, next int) error {
	if err := ctx.Err(); err != nil {
		for _, unit := range s.units[next:] {
			s.coord.metrics.RecordUnitOutcome("canceled")
			s.unitCh <- model.UnitOutcome{
				UnitID:  unit.ID,
				Table:   unit.Table,
				Range:   unit.Range,
				Primary: s.state.Endpoint,
				Err:     loaderrors.Canceled("unit "+unit.ID+" canceled", err),
			}
		}
		if s.state.State != model.SessionStateFailed {
			s.state.LastError = loaderrors.Canceled("session canceled", err)
			s.transition(model.SessionStateFailed)
		}
	} else if s.state.State == model.SessionStateStreaming {
		s.transition(model.SessionStateComplete)
	}

	s.finished = true
	s.coord.metrics.SessionFinished(string(s.state.State))
	s.logger.Info("Streaming session finished",
		zap.String("state", string(s.state.State)),
		zap.Int("units_sent", s.state.UnitsSent),
		zap.Int64("bytes_sent", s.state.BytesSent),
		zap.Duration("duration", time.Since(s.state.StartTime)))
	return s.state.LastError
}

func (s *session) reportConnect(err error) {
	s.connectReported = true
	s.connected <- connectResult{endpoint: s.state.Endpoint, err: err}
}

// report closes every connection, then hands the session outcome to the
// coordinator. It also runs when the session panicked, so the coordinator
// never waits on a session that stopped early.
func (s *session) report() {
	s.closeAll()

	ep := s.state.Endpoint.String()
	if !s.connectReported {
		s.reportConnect(loaderrors.InternalError("session for "+ep+" stopped before connecting", nil))
	}
	if !s.finished {
		s.state.LastError = loaderrors.InternalError("session for "+ep+" stopped unexpectedly", s.state.LastError)
		s.state.State = model.SessionStateFailed
		s.coord.metrics.SessionFinished(string(s.state.State))
		s.logger.Error("Streaming session stopped unexpectedly", zap.Int("units_sent", s.state.UnitsSent))
	}

	s.sessionCh <- model.EndpointOutcome{
		Endpoint:  s.state.Endpoint,
		State:     s.state.State,
		BytesSent: s.state.BytesSent,
		UnitsSent: s.state.UnitsSent,
		Err:       s.state.LastError,
	}
}

func (s *session) transition(to model.SessionState) {
	if !model.CanTransition(s.state.State, to) {
		s.logger.Error("Invalid session transition",
			zap.String("from", string(s.state.State)),
			zap.String("to", string(to)))
		return
	}
	s.state.State = to
}

func (s *session) closeAll() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	for ep, conn := range s.fallbacks {
		_ = conn.Close()
		delete(s.fallbacks, ep)
	}
}
