/*
amqp.go - RabbitMQ publisher for mobilization and preemption events

PURPOSE:
  Publishes engine events as JSON messages onto durable queues so an
  outreach service (SMS, phone bank) can contact donors and displaced
  requesters. Publish failures are logged, never propagated: losing a
  notification must not fail the demand operation that raised it.
*/
package notify

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/warp/bloodbank/engine"
)

const (
	QueueMobilization = "bloodbank.mobilization"
	QueuePreemption   = "bloodbank.preemption"

	publishTimeout = 5 * time.Second
)

// MobilizationMessage is the wire shape of a mobilization request.
type MobilizationMessage struct {
	DemandID       string         `json:"demand_id"`
	BloodType      string         `json:"blood_type"`
	Component      string         `json:"component"`
	RequiredVolume string         `json:"required_volume"`
	Urgency        string         `json:"urgency"`
	Donors         []DonorMessage `json:"donors"`
}

// DonorMessage is one candidate donor, distance-ranked when the demand
// carried an origin.
type DonorMessage struct {
	DonorID    string   `json:"donor_id"`
	Name       string   `json:"name"`
	BloodType  string   `json:"blood_type"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// PreemptionMessage reports a routine reservation displaced by an
// urgent demand.
type PreemptionMessage struct {
	UnitID           string `json:"unit_id"`
	DisplacedDemand  string `json:"displaced_demand_id"`
	PreemptingDemand string `json:"preempting_demand_id"`
}

// AMQPNotifier satisfies engine.Notifier and engine.PreemptionObserver
// over a RabbitMQ connection.
type AMQPNotifier struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  zerolog.Logger
}

// NewAMQPNotifier dials the broker and declares the durable queues.
func NewAMQPNotifier(url string, log zerolog.Logger) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	n := &AMQPNotifier{conn: conn, ch: ch, log: log}
	for _, q := range []string{QueueMobilization, QueuePreemption} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			n.Close()
			return nil, err
		}
	}
	return n, nil
}

func (n *AMQPNotifier) Close() {
	if n.ch != nil {
		_ = n.ch.Close()
	}
	if n.conn != nil {
		_ = n.conn.Close()
	}
}

func (n *AMQPNotifier) MobilizationRequested(ctx context.Context, demand engine.DemandRequest, donors []engine.DonorMatch) {
	msg := MobilizationMessage{
		DemandID:       string(demand.ID),
		BloodType:      string(demand.BloodType),
		Component:      string(demand.Component),
		RequiredVolume: demand.RequiredVolume.String(),
		Urgency:        string(demand.Urgency),
	}
	for _, d := range donors {
		msg.Donors = append(msg.Donors, DonorMessage{
			DonorID:    string(d.Donor.ID),
			Name:       d.Donor.Name,
			BloodType:  string(d.Donor.BloodType),
			DistanceKm: d.DistanceKm,
		})
	}
	n.publishJSON(ctx, QueueMobilization, msg)
}

func (n *AMQPNotifier) UnitPreempted(ctx context.Context, displaced engine.DemandRequest, unit engine.BloodUnit, by engine.DemandID) {
	n.publishJSON(ctx, QueuePreemption, PreemptionMessage{
		UnitID:           string(unit.ID),
		DisplacedDemand:  string(displaced.ID),
		PreemptingDemand: string(by),
	})
}

func (n *AMQPNotifier) publishJSON(ctx context.Context, queue string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		n.log.Error().Err(err).Str("queue", queue).Msg("notify: marshal failed")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = n.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		n.log.Error().Err(err).Str("queue", queue).Msg("notify: publish failed")
	}
}
