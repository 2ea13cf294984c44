package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	cbus "github.com/next-trace/scg-owner-watch/contract/bus"
	werr "github.com/next-trace/scg-owner-watch/contract/errors"
)

const subjectPrefix = "signals."

// Subscription is the handle for one installed match rule.
type Subscription interface {
	Unsubscribe() error
}

// Client is a minimal NATS-like interface decoupled from any concrete
// library. Users can provide a wrapper around their NATS connection to
// satisfy this.
type Client interface {
	// Subscribe delivers every payload published to subject to handler.
	Subscribe(subject string, handler func(data []byte)) (Subscription, error)
	// Publish publishes a payload to a subject with optional headers.
	Publish(subject string, data []byte, headers map[string]string) error
}

// Conn implements bus.Connection over NATS subjects. Installing a match
// rule subscribes to the subject carrying ownership notifications for the
// rule's service name, so subject routing stands in for bus-side match
// rules. Conn also carries the emit side, letting a name-registry daemon
// announce ownership changes through the same adapter.
type Conn struct {
	client     Client
	propagator cbus.HeaderPropagator // optional, for context propagation into headers

	mu      sync.Mutex
	filters []cbus.MessageFilter
	subs    map[string][]Subscription // rule string -> installs
}

// Ensure Conn implements the connection contract.
var _ cbus.Connection = (*Conn)(nil)

// New creates a new NATS connection adapter with the provided client.
func New(c Client) *Conn {
	return &Conn{client: c, subs: make(map[string][]Subscription)}
}

// NewWithPropagator allows configuring a HeaderPropagator for context
// propagation on emitted signals.
func NewWithPropagator(c Client, hp cbus.HeaderPropagator) *Conn {
	conn := New(c)
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

	sub, err := c.client.Subscribe(subjectFor(rule.Member, rule.Arg0), c.deliver)
	if err != nil {
		return fmt.Errorf("nats add match %q: %w", rule, errors.Join(werr.ErrMatchAddFailed, err))
	}

	key := rule.String()

	c.mu.Lock()
	c.subs[key] = append(c.subs[key], sub)
	c.mu.Unlock()

	return nil
}

func (c *Conn) RemoveMatch(ctx context.Context, rule cbus.MatchRule) error {
	if err := c.ready(ctx, werr.ErrMatchRemoveFailed, "remove match"); err != nil {
		return err
	}

	key := rule.String()

	c.mu.Lock()

	installs := c.subs[key]
	if len(installs) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("nats remove match %q: %w", rule, werr.ErrUnknownMatch)
	}

	sub := installs[len(installs)-1]

	c.subs[key] = installs[:len(installs)-1]
	if len(c.subs[key]) == 0 {
		delete(c.subs, key)
	}

	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats remove match %q: %w", rule, errors.Join(werr.ErrMatchRemoveFailed, err))
	}

	return nil
}

// Emit publishes sig to the subject its match rules subscribe to.
func (c *Conn) Emit(ctx context.Context, sig *cbus.Signal) error {
	if err := c.ready(ctx, werr.ErrEmitFailed, "emit"); err != nil {
		return err
	}

	w, err := encode(sig)
	if err != nil {
		return fmt.Errorf("nats emit: %w", errors.Join(werr.ErrEmitFailed, err))
	}

	body, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("nats emit serialize: %w", errors.Join(werr.ErrEmitFailed, err))
	}

	headers := map[string]string{}
	if c.propagator != nil {
		c.propagator.Inject(ctx, headers)
	}

	if err := c.client.Publish(subjectFor(sig.Member, w.arg0()), body, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("nats emit publish: %w", errors.Join(werr.ErrEmitFailed, err))
	}

	return nil
}

// deliver runs on the client's delivery goroutine for every subscribed
// subject. Undecodable payloads are dropped; the signal stream must keep
// flowing for the remaining filters.
func (c *Conn) deliver(data []byte) {
	sig, err := decode(data)
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

	if c.client == nil {
		return fmt.Errorf("nats %s: %w", label, errors.Join(base, werr.ErrNotConnected))
	}

	return nil
}

// wire envelope

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

func decode(data []byte) (*cbus.Signal, error) {
	var w wireSignal
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, errors.Join(werr.ErrDecodeFailed, err)
	}

	sig := &cbus.Signal{Interface: w.Interface, Member: w.Member, Args: make([]any, 0, len(w.Args))}
	for _, s := range w.Args {
		sig.Args = append(sig.Args, s)
	}

	return sig, nil
}

func subjectFor(member, arg0 string) string {
	return subjectPrefix + member + "." + arg0
}
