package order

import (
	"bytes"
	_ "embed"
	"time"

	"github.com/dmitrymomot/sagakit/pkg/saga"
	"github.com/dmitrymomot/sagakit/pkg/statemachine"
)

const (
	Initial            statemachine.State = "Initial"
	WaitingForPayment  statemachine.State = "WaitingForPayment"
	WaitingForShipping statemachine.State = "WaitingForShipping"
	Finalized          statemachine.State = "Finalized"
)

const (
	OrderCreated    statemachine.Event = "OrderCreated"
	PaymentReceived statemachine.Event = "PaymentReceived"
	OrderShipped    statemachine.Event = "OrderShipped"
	TimeoutExpired                     = saga.DefaultTimeoutEvent
)

// DefaultPaymentTimeout is how long an order waits for payment before it is cancelled.
const DefaultPaymentTimeout = 10 * time.Second

//go:embed order.yaml
var definitionYAML []byte

// Definition returns the order saga with the given payment timeout.
func Definition(paymentTimeout time.Duration) statemachine.Definition {
	if paymentTimeout <= 0 {
		paymentTimeout = DefaultPaymentTimeout
	}

	return statemachine.Definition{
		Name:     "order",
		Initial:  Initial,
		Terminal: []statemachine.State{Finalized},
		Transitions: []statemachine.Transition{
			{
				From: Initial, Event: OrderCreated, To: WaitingForPayment,
				Effects: []statemachine.Effect{
					statemachine.ScheduleTimeout(paymentTimeout),
					statemachine.Log("Order created"),
				},
			},
			{
				From: WaitingForPayment, Event: PaymentReceived, To: WaitingForShipping,
				Effects: []statemachine.Effect{
					statemachine.CancelTimeout(),
					statemachine.Log("Payment received"),
				},
			},
			{
				From: WaitingForPayment, Event: TimeoutExpired, To: Finalized,
				Effects: []statemachine.Effect{
					statemachine.Log("Order cancelled after timeout, no payment received"),
				},
			},
			{
				From: WaitingForShipping, Event: OrderShipped, To: Finalized,
				Effects: []statemachine.Effect{
					statemachine.Log("Order shipped"),
				},
			},
		},
	}
}

// Machine builds the order state machine. It panics only if Definition is broken.
func Machine(paymentTimeout time.Duration) *statemachine.Machine {
	return statemachine.MustNew(Definition(paymentTimeout))
}

// LoadMachine builds the order machine from its embedded YAML definition.
func LoadMachine() (*statemachine.Machine, error) {
	return statemachine.LoadDefinition(bytes.NewReader(definitionYAML))
}

// Payload is the body every order event carries.
type Payload struct {
	OrderID string `json:"order_id"`
}

// NewEvent builds an envelope for an order event.
func NewEvent(event statemachine.Event, orderID string) (saga.Envelope, error) {
	return saga.NewEnvelope(event, orderID, Payload{OrderID: orderID})
}

// Command maps an operator command to its event: create, pay and ship.
func Command(cmd string) (statemachine.Event, bool) {
	switch cmd {
	case "create":
		return OrderCreated, true
	case "pay":
		return PaymentReceived, true
	case "ship":
		return OrderShipped, true
	default:
		return "", false
	}
}
