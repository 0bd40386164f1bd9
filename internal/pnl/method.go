package pnl

import (
	"fmt"
	"strings"
)

// Method selects which open lots a sell consumes first.
type Method string

const (
	// FIFO consumes the oldest lots first.
	FIFO Method = "FIFO"
	// LIFO consumes the newest lots first.
	LIFO Method = "LIFO"
	// Specific leaves lots in acquisition-record order for plain sells.
	// Exact lot choice is made per sell with RecordSellLots.
	Specific Method = "SPECIFIC"
)

// Methods lists every supported method.
var Methods = []Method{FIFO, LIFO, Specific}

// Valid reports whether m is one of the enumerated methods.
func (m Method) Valid() bool {
	switch m {
	case FIFO, LIFO, Specific:
		return true
	}
	return false
}

func (m Method) String() string { return string(m) }

// ParseMethod parses a method name, ignoring case and surrounding spaces.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("%w: unknown accounting method %q", ErrInvalidArgument, s)
	}
	return m, nil
}
