package node

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// StatsBlock is one node's counters at snapshot time. All counters are
// monotonic. Throughput comes in two flavors: wall-clock, bytes over
// the first-to-last packet span, and module-time, bytes over the time
// actually spent inside the node.
type StatsBlock struct {
	Name             string
	NumInputPackets  uint64
	NumOutputPackets uint64
	NumBytes         uint64
	NumDropped       uint64
	FirstPacketTime  time.Time
	LastPacketTime   time.Time
	TotalProcessing  time.Duration
}

// WallClockThroughput returns bytes per second over the packet span
func (b *StatsBlock) WallClockThroughput() float64 {
	span := b.LastPacketTime.Sub(b.FirstPacketTime)
	if span <= 0 {
		return 0
	}
	return float64(b.NumBytes) / span.Seconds()
}

// ModuleThroughput returns bytes per second of node processing time
func (b *StatsBlock) ModuleThroughput() float64 {
	if b.TotalProcessing <= 0 {
		return 0
	}
	return float64(b.NumBytes) / b.TotalProcessing.Seconds()
}

func (b *StatsBlock) String() string {
	return fmt.Sprintf("%s: in=%d out=%d bytes=%d dropped=%d wallClock=%.0fBps module=%.0fBps",
		b.Name, b.NumInputPackets, b.NumOutputPackets, b.NumBytes, b.NumDropped,
		b.WallClockThroughput(), b.ModuleThroughput())
}

// StatsBlock snapshots this node's counters
func (n *Node) StatsBlock() *StatsBlock {
	b := &StatsBlock{
		Name:             n.name,
		NumInputPackets:  atomic.LoadUint64(&n.numInputPackets),
		NumOutputPackets: atomic.LoadUint64(&n.numOutputPackets),
		NumBytes:         atomic.LoadUint64(&n.numBytes),
		NumDropped:       atomic.LoadUint64(&n.numDropped),
		TotalProcessing:  time.Duration(atomic.LoadInt64(&n.totalProcessing)),
	}
	if first := atomic.LoadInt64(&n.firstPacketTime); first != 0 {
		b.FirstPacketTime = time.Unix(0, first)
	}
	if last := atomic.LoadInt64(&n.lastPacketTime); last != 0 {
		b.LastPacketTime = time.Unix(0, last)
	}
	return b
}

// Collect walks the graph from root and returns one block per node in
// visit order. Duplicate names get an identity suffix so the report
// stays unambiguous.
func Collect(root *Node) []*StatsBlock {
	var blocks []*StatsBlock
	seen := make(map[string]int)
	root.Visit(func(n *Node) {
		b := n.StatsBlock()
		seen[b.Name]++
		if c := seen[b.Name]; c > 1 {
			b.Name = fmt.Sprintf("%s#%d", b.Name, c)
		}
		blocks = append(blocks, b)
	})
	return blocks
}

// Report renders the collected blocks, one line per node
func Report(root *Node) string {
	var sb strings.Builder
	for _, b := range Collect(root) {
		sb.WriteString(b.String())
		sb.WriteString("\n")
	}
	return sb.String()
}
