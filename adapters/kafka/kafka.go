package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	cbus "github.com/next-trace/scg-owner-watch/contract/bus"
	werr "github.com/next-trace/scg-owner-watch/contract/errors"
)

// SignalTopic is the topic carrying ownership notifications. Records are
// keyed by service name.
const SignalTopic = "bus.signals"

// Writer is a minimal Kafka-like producer interface.
// Users can adapt segmentio/kafka-go or any other client to this.
type Writer interface {
	Write(topic string, key, value []byte, headers map[string]string) error
}

// Conn implements bus.Connection over a Kafka signal topic. Kafka offers
// no server-side per-name filtering, so match rules live client-side: the
// consumer stays subscribed to the whole topic and records whose decoded
// signal matches no installed rule are dropped before the filters run.
// The consuming client feeds records through HandleRecord.
type Conn struct {
	writer     Writer
	propagator cbus.HeaderPropagator // optional, for context propagation into headers

	mu      sync.Mutex
	filters []cbus.MessageFilter
	rules   map[string]int // rule string -> install count
}

// Ensure Conn implements the connection contract.
var _ cbus.Connection = (*Conn)(nil)

// New creates a new Kafka connection adapter with the provided writer.
// A nil writer is allowed for consume-only connections.
func New(w Writer) *Conn {
	return &Conn{writer: w, rules: make(map[string]int)}
}

// NewWithPropagator allows configuring a HeaderPropagator for context
// propagation on emitted signals.
func NewWithPropagator(w Writer, hp cbus.HeaderPropagator) *Conn {
	conn := New(w)
	conn.propagator = hp

	return conn
}

func (c *Conn) AddFilter(f cbus.MessageFilter) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.filters = append(c.filters, f)

	return nil
}

// AddMatch installs a client-side rule; no broker call is involved since
// the topic subscription is standing.
func (c *Conn) AddMatch(ctx context.Context, rule cbus.MatchRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.rules[rule.String()]++
	c.mu.Unlock()

	return nil
}

func (c *Conn) RemoveMatch(ctx context.Context, rule cbus.MatchRule) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := rule.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rules[key] == 0 {
		return fmt.Errorf("kafka remove match %q: %w", rule, werr.ErrUnknownMatch)
	}

	c.rules[key]--
	if c.rules[key] == 0 {
		delete(c.rules, key)
	}

	return nil
}

// Emit produces sig to the signal topic, keyed by the service name so
// per-name ordering is preserved across partitions.
func (c *Conn) Emit(ctx context.Context, sig *cbus.Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if c.writer == nil {
		return fmt.Errorf("kafka emit: %w", errors.Join(werr.ErrEmitFailed, werr.ErrNotConnected))
	}

	w, err := encode(sig)
	if err != nil {
		return fmt.Errorf("kafka emit: %w", errors.Join(werr.ErrEmitFailed, err))
	}

	value, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("kafka emit serialize: %w", errors.Join(werr.ErrEmitFailed, err))
	}

	headers := map[string]string{}
	if c.propagator != nil {
		c.propagator.Inject(ctx, headers)
	}

	if err := c.writer.Write(SignalTopic, []byte(w.arg0()), value, headers); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		return fmt.Errorf("kafka emit write: %w", errors.Join(werr.ErrEmitFailed, err))
	}

	return nil
}

// HandleRecord runs for every record fetched from the signal topic,
// typically from the concrete client's poll loop. Records matching no
// installed rule and undecodable values are dropped.
func (c *Conn) HandleRecord(_, value []byte) {
	sig, err := decode(value)
	if err != nil {
		return
	}

	candidate := cbus.MatchRule{Interface: sig.Interface, Member: sig.Member}
	if s, ok := argAt(sig, 0); ok {
		candidate.Arg0 = s
	}

	c.mu.Lock()

	if c.rules[candidate.String()] == 0 {
		c.mu.Unlock()
		return
	}

	filters := append([]cbus.MessageFilter(nil), c.filters...)
	c.mu.Unlock()

	for _, f := range filters {
		if f(sig) == cbus.Handled {
			return
		}
	}
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

func decode(value []byte) (*cbus.Signal, error) {
	var w wireSignal
	if err := json.Unmarshal(value, &w); err != nil {
		return nil, errors.Join(werr.ErrDecodeFailed, err)
	}

	sig := &cbus.Signal{Interface: w.Interface, Member: w.Member, Args: make([]any, 0, len(w.Args))}
	for _, s := range w.Args {
		sig.Args = append(sig.Args, s)
	}

	return sig, nil
}

func argAt(sig *cbus.Signal, i int) (string, bool) {
	if i >= len(sig.Args) {
		return "", false
	}

	s, ok := sig.Args[i].(string)

	return s, ok
}
