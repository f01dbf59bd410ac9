/*
Package notify carries engine events out of the request path.

PURPOSE:
  The engine raises two kinds of events: a plan fell through to donor
  mobilization, and an urgent commit preempted a routine reservation.
  Both are fire-and-forget - delivery is not part of the engine's
  correctness - so every implementation here logs failures and returns.

IMPLEMENTATIONS:
  - LogNotifier: structured log lines only, the default wiring
  - AMQPNotifier (amqp.go): publishes JSON messages to durable queues
    for an outreach service to consume

SEE ALSO:
  - engine/lifecycle.go: Notifier contract
  - engine/reservation.go: PreemptionObserver contract
*/
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/warp/bloodbank/engine"
)

// LogNotifier satisfies both engine.Notifier and
// engine.PreemptionObserver with structured log lines.
type LogNotifier struct {
	Log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{Log: log}
}

func (n *LogNotifier) MobilizationRequested(ctx context.Context, demand engine.DemandRequest, donors []engine.DonorMatch) {
	evt := n.Log.Warn().
		Str("demand", string(demand.ID)).
		Str("blood_type", string(demand.BloodType)).
		Str("component", string(demand.Component)).
		Str("required", demand.RequiredVolume.String()).
		Int("donors", len(donors))
	if len(donors) > 0 && donors[0].DistanceKm != nil {
		evt = evt.Float64("nearest_km", *donors[0].DistanceKm)
	}
	evt.Msg("inventory exhausted, donor mobilization requested")
}

func (n *LogNotifier) UnitPreempted(ctx context.Context, displaced engine.DemandRequest, unit engine.BloodUnit, by engine.DemandID) {
	n.Log.Warn().
		Str("unit", string(unit.ID)).
		Str("displaced_demand", string(displaced.ID)).
		Str("urgent_demand", string(by)).
		Msg("reserved unit preempted by urgent demand")
}
