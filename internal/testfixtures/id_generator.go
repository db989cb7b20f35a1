package testfixtures

import (
	"strconv"
	"sync/atomic"
)

// IDGenerator hands out "<prefix>-<n>" identifiers in order. The service
// harness shares one generator between series, slots, instances and jobs, so
// ids follow call order.
type IDGenerator struct {
	prefix string
	issued atomic.Uint64
}

// NewIDGenerator returns a generator for prefix, "id" when empty.
func NewIDGenerator(prefix string) *IDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &IDGenerator{prefix: prefix}
}

// Next returns the next identifier.
func (g *IDGenerator) Next() string {
	n := g.issued.Add(1)
	return g.prefix + "-" + strconv.FormatUint(n, 10)
}

// NextFunc adapts Next to the idGenerator parameter the services take.
func (g *IDGenerator) NextFunc() func() string {
	return g.Next
}

// Issued reports how many identifiers were handed out.
func (g *IDGenerator) Issued() uint64 {
	return g.issued.Load()
}

// Reset restarts the sequence at 1.
func (g *IDGenerator) Reset() {
	g.issued.Store(0)
}
