package statemachine

import (
	"errors"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

type yamlDefinition struct {
	Name        string           `yaml:"name"`
	Initial     string           `yaml:"initial"`
	Terminal    []string         `yaml:"terminal"`
	Transitions []yamlTransition `yaml:"transitions"`
}

type yamlTransition struct {
	From    string       `yaml:"from"`
	Event   string       `yaml:"event"`
	To      string       `yaml:"to"`
	Effects []yamlEffect `yaml:"effects"`
}

type yamlEffect struct {
	Kind    string `yaml:"kind"`
	Delay   string `yaml:"delay,omitempty"`
	Message string `yaml:"message,omitempty"`
}

// DecodeDefinition reads a YAML document into a Definition.
//
//	name: order
//	initial: Initial
//	terminal: [Finalized]
//	transitions:
//	  - from: Initial
//	    event: OrderCreated
//	    to: WaitingForPayment
//	    effects:
//	      - {kind: schedule_timeout, delay: 10s}
//	      - {kind: log, message: Order created}
func DecodeDefinition(r io.Reader) (Definition, error) {
	var raw yamlDefinition
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		return Definition{}, errors.Join(ErrDecodeDefinition, err)
	}

	def := Definition{
		Name:        raw.Name,
		Initial:     State(raw.Initial),
		Terminal:    make([]State, 0, len(raw.Terminal)),
		Transitions: make([]Transition, 0, len(raw.Transitions)),
	}
	for _, s := range raw.Terminal {
		def.Terminal = append(def.Terminal, State(s))
	}

	for i, rt := range raw.Transitions {
		t := Transition{
			From:  State(rt.From),
			Event: Event(rt.Event),
			To:    State(rt.To),
		}
		for _, re := range rt.Effects {
			e := Effect{Kind: EffectKind(re.Kind), Message: re.Message}
			if re.Delay != "" {
				d, err := time.ParseDuration(re.Delay)
				if err != nil {
					return Definition{}, errors.Join(ErrDecodeDefinition,
						fmt.Errorf("transition[%d]: invalid delay %q: %w", i, re.Delay, err))
				}
				e.Delay = d
			}
			t.Effects = append(t.Effects, e)
		}
		def.Transitions = append(def.Transitions, t)
	}

	return def, nil
}

// LoadDefinition decodes and validates a YAML definition.
func LoadDefinition(r io.Reader) (*Machine, error) {
	def, err := DecodeDefinition(r)
	if err != nil {
		return nil, err
	}
	return New(def)
}
