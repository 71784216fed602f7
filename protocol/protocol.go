package protocol

import (
	"fmt"
	"strings"

	"github.com/fleetgate/fleetgate/fix"
)

/*
Decoded is the result of running one frame through a decoder. Most formats
carry exactly one fix per frame; Teltonika AVL packets may carry several.
Ack holds a protocol specific acknowledgment payload when the device expects
one. A nil Ack means the transport default applies.
*/
type Decoded struct {
	Fixes []fix.LocationFix
	Ack   []byte
}

/*
Decoder turns one raw frame into canonical fixes. Match is a cheap
structural predicate used by the dispatcher to pick decode candidates;
Decode does the full parse. Both are pure and must never touch the network
or persistence.
*/
type Decoder interface {
	Name() string
	Match(frame []byte) bool
	Decode(frame []byte) (*Decoded, error)
}

// Dispatcher tries decoders in a fixed priority order and returns the first
// successful decode.
type Dispatcher struct {
	chain []Decoder
}

func DefaultDecoders() []Decoder {
	return []Decoder{
		NewGT06Decoder(),
		NewNMEADecoder(),
		NewTK103Decoder(),
		NewTeltonikaDecoder(),
		NewJSONDecoder(),
		NewGenericDecoder(),
	}
}

/*
NewDispatcher builds a dispatcher with the given decoder name order. An
empty order selects the default chain. Order matters: the generic CSV
fallback accepts nearly anything, so it has to sit at the end.
*/
func NewDispatcher(order []string) (*Dispatcher, error) {
	available := make(map[string]Decoder)
	for _, d := range DefaultDecoders() {
		available[d.Name()] = d
	}

	if len(order) == 0 {
		return &Dispatcher{chain: DefaultDecoders()}, nil
	}

	chain := make([]Decoder, 0, len(order))
	for _, name := range order {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}

		d, ok := available[name]
		if !ok {
			return nil, fmt.Errorf("unknown protocol decoder %q", name)
		}
		chain = append(chain, d)
	}

	if len(chain) == 0 {
		return nil, fmt.Errorf("empty protocol decoder chain")
	}

	return &Dispatcher{chain: chain}, nil
}

/*
Decode runs the frame through the decoder chain. Returns false when every
decoder either refuses the frame or fails to parse it. A failed parse on one
decoder does not stop the chain, a later decoder may still accept the frame.

A decode with zero usable fixes still counts as successful when it carries a
protocol specific ack: the frame was understood and the device must get its
acknowledgment, otherwise it resends the packet forever.
*/
func (d *Dispatcher) Decode(frame []byte) (*Decoded, bool) {
	for _, decoder := range d.chain {
		if !decoder.Match(frame) {
			continue
		}

		decoded, err := decoder.Decode(frame)
		if err != nil || decoded == nil {
			continue
		}
		if len(decoded.Fixes) == 0 && decoded.Ack == nil {
			continue
		}

		return decoded, true
	}

	return nil, false
}

// Names reports the active chain order, for startup logging.
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, len(d.chain))
	for _, decoder := range d.chain {
		names = append(names, decoder.Name())
	}
	return names
}
