package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/sagakit/pkg/feed"
	"github.com/dmitrymomot/sagakit/pkg/saga"
	"github.com/dmitrymomot/sagakit/pkg/saga/order"
	"github.com/dmitrymomot/sagakit/pkg/transport"
)

const consoleHelp = `Commands:
  create [order-id]   place an order (a new id is generated when omitted)
  pay [order-id]      record the payment
  ship [order-id]     ship the order
  q                   quit`

// console reads operator commands line by line and publishes the matching
// order events.
type console struct {
	pub   transport.Publisher
	newID func() string
	out   io.Writer
}

func newConsole(pub transport.Publisher, out io.Writer) *console {
	return &console{pub: pub, newID: uuid.NewString, out: out}
}

// run processes lines from in until "q", EOF or ctx cancellation.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	fmt.Fprintln(c.out, consoleHelp)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				default:
					return nil
				}
			}
			if quit := c.exec(ctx, line); quit {
				return nil
			}
		}
	}
}

// exec handles one line and reports whether the operator asked to quit.
func (c *console) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	if fields[0] == "q" {
		return true
	}

	event, ok := order.Command(fields[0])
	if !ok || len(fields) > 2 {
		fmt.Fprintln(c.out, consoleHelp)
		return false
	}

	id := c.newID()
	if len(fields) == 2 {
		id = fields[1]
	}

	env, err := order.NewEvent(event, id)
	if err != nil {
		fmt.Fprintf(c.out, "error: %v\n", err)
		return false
	}

	switch err := c.pub.Publish(ctx, env); {
	case err == nil:
		fmt.Fprintf(c.out, "> %s %s\n", event, id)
	case errors.Is(err, saga.ErrNotFound):
		fmt.Fprintf(c.out, "no order %s, create it first\n", id)
	default:
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
	return false
}

// printTransitions writes every committed transition until the subscription ends.
func printTransitions(ctx context.Context, f *feed.Feed[saga.Transitioned], out io.Writer) {
	sub := f.Subscribe(ctx)
	defer sub.Close()

	for tr := range sub.C() {
		suffix := ""
		if tr.Terminal {
			suffix = " (final)"
		}
		fmt.Fprintf(out, "  order %s: %s -> %s on %s, v%d%s\n",
			tr.CorrelationID, tr.From, tr.To, tr.Event, tr.Version, suffix)
	}
}
