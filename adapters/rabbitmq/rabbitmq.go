package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	cbus "github.com/next-trace/scg-owner-watch/contract/bus"
	werr "github.com/next-trace/scg-owner-watch/contract/errors"
)

// Broker is the minimal AMQP surface the connection needs: binding
// management for the connection's private queue plus publishing to the
// signal exchange. Users can provide a wrapper around their channel to
// satisfy this.
type Broker interface {
	Bind(ctx context.Context, routingKey string) error
	Unbind(ctx context.Context, routingKey string) error
	Publish(ctx context.Context, routingKey string, body []byte, headers map[string]string) error
}

// Conn implements bus.Connection over an AMQP topic exchange. Installing a
// match rule binds the private queue with the rule's routing key; the
// consuming side feeds deliveries through HandleDelivery.
type Conn struct {
	broker     Broker
	propagator cbus.HeaderPropagator // optional, for context propagation into headers

	mu      sync.Mutex
	filters []cbus.MessageFilter
	binds   map[string]int // rule string -> install count
}

// Ensure Conn implements the connection contract.
var _ cbus.Connection = (*Conn)(nil)

// New creates a new RabbitMQ connection adapter with the provided broker.
func New(b Broker) *Conn {
	return &Conn{broker: b, binds: make(map[string]int)}
}

// NewWithPropagator allows configuring a HeaderPropagator for context
// propagation on emitted signals.
func NewWithPropagator(b Broker, hp cbus.HeaderPropagator) *Conn {
	conn := New(b)
	conn.propagator = hp

	return conn
}

func (c *Conn) AddFilter(f cbus.MessageFilter) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.filters = append(c.filters, f)

	return nil
}

func (c *Conn) AddMatch(ctx context.Context, rule cbus.MatchRule) error {
	if err := c.ready(ctx, werr.ErrMatchAddFailed, "add match"); err != nil {
		return err
	}

	// AMQP bindings are set-like: only the first install per rule needs a
	// broker call, later ones just raise the count.
	key := rule.String()

	c.mu.Lock()
	installs := c.binds[key]
	c.mu.Unlock()

	if installs == 0 {
		if err := c.broker.Bind(ctx, routingFor(rule.Member, rule.Arg0)); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			return fmt.Errorf("rabbitmq add match %q: %w", rule, errors.Join(werr.ErrMatchAddFailed, err))
		}
	}

	c.mu.Lock()
	c.binds[key]++
	c.mu.Unlock()

	return nil
}

func (c *Conn) RemoveMatch(ctx context.Context, rule cbus.MatchRule) error {
	if err := c.ready(ctx, werr.ErrMatchRemoveFailed, "remove match"); err != nil {
		return err
	}

	key := rule.String()

	c.mu.Lock()

	if c.binds[key] == 0 {
		c.mu.Unlock()
		return fmt.Errorf("rabbitmq remove match %q: %w", rule, werr.ErrUnknownMatch)
	}

	c.binds[key]--
	last := c.binds[key] == 0

	if last {
		delete(c.binds, key)
	}

	c.mu.Unlock()

	if !last {
		return nil
	}

	if err := c.broker.Unbind(ctx, routingFor(rule.Member, rule.Arg0)); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq remove match %q: %w", rule, errors.Join(werr.ErrMatchRemoveFailed, err))
	}

	return nil
}

// Emit publishes sig to the signal exchange under its routing key.
func (c *Conn) Emit(ctx context.Context, sig *cbus.Signal) error {
	if err := c.ready(ctx, werr.ErrEmitFailed, "emit"); err != nil {
		return err
	}

	w, err := encode(sig)
	if err != nil {
		return fmt.Errorf("rabbitmq emit: %w", errors.Join(werr.ErrEmitFailed, err))
	}

	body, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("rabbitmq emit serialize: %w", errors.Join(werr.ErrEmitFailed, err))
	}

	headers := map[string]string{}
	if c.propagator != nil {
		c.propagator.Inject(ctx, headers)
	}

	if err := c.broker.Publish(ctx, routingFor(sig.Member, w.arg0()), body, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("rabbitmq emit publish: %w", errors.Join(werr.ErrEmitFailed, err))
	}

	return nil
}

// HandleDelivery runs for every delivery on the private queue, typically
// from the concrete connection's consume goroutine. Undecodable payloads
// are dropped so the delivery stream keeps flowing.
func (c *Conn) HandleDelivery(body []byte) {
	sig, err := decode(body)
	if err != nil {
		return
	}

	c.mu.Lock()
	filters := append([]cbus.MessageFilter(nil), c.filters...)
	c.mu.Unlock()

	for _, f := range filters {
		if f(sig) == cbus.Handled {
			return
		}
	}
}

func (c *Conn) ready(ctx context.Context, base error, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.broker == nil {
		return fmt.Errorf("rabbitmq %s: %w", label, errors.Join(base, werr.ErrNotConnected))
	}

	return nil
}

// helpers (duplicated per adapter for simplicity and test isolation)

type wireSignal struct {
	Interface string   `json:"interface"`
	Member    string   `json:"member"`
	Args      []string `json:"args"`
}

func (w wireSignal) arg0() string {
	if len(w.Args) > 0 {
		return w.Args[0]
	}

	return ""
}

func encode(sig *cbus.Signal) (wireSignal, error) {
	w := wireSignal{Interface: sig.Interface, Member: sig.Member, Args: make([]string, 0, len(sig.Args))}

	for _, a := range sig.Args {
		s, ok := a.(string)
		if !ok {
			return wireSignal{}, fmt.Errorf("non-string signal argument %T", a)
		}

		w.Args = append(w.Args, s)
	}

	return w, nil
}

func decode(body []byte) (*cbus.Signal, error) {
	var w wireSignal
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, errors.Join(werr.ErrDecodeFailed, err)
	}

	sig := &cbus.Signal{Interface: w.Interface, Member: w.Member, Args: make([]any, 0, len(w.Args))}
	for _, s := range w.Args {
		sig.Args = append(sig.Args, s)
	}

	return sig, nil
}

func routingFor(member, arg0 string) string {
	return member + "." + arg0
}
