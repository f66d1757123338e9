package node

import (
	"sync/atomic"
	"time"

	"github.com/pion/ion-mt/pkg/packet"
)

// Transformer is the per-node processing hook. It receives a batch and
// returns the packets to forward; returning nothing means the batch was
// dropped or buffered. Errors never cross node boundaries.
type Transformer interface {
	Transform(pkts []*packet.Info) []*packet.Info
}

// TransformFunc adapts a function to the Transformer interface
type TransformFunc func(pkts []*packet.Info) []*packet.Info

// Transform calls f
func (f TransformFunc) Transform(pkts []*packet.Info) []*packet.Info {
	return f(pkts)
}

// EventHandler is implemented by hooks that react to control events
type EventHandler interface {
	HandleEvent(ev Event)
}

// Stopper is implemented by hooks that own background work
type Stopper interface {
	Stop()
}

// Predicate routes one packet down a demuxer path
type Predicate func(p *packet.Info) bool

// ConditionalPath is one named, predicate-routed branch of a demuxer
type ConditionalPath struct {
	Name      string
	Predicate Predicate
	Head      *Node
}

// Path builds a ConditionalPath, panicking on missing fields. Topology
// mistakes are construction-time programming errors.
func Path(name string, pred Predicate, head *Node) *ConditionalPath {
	if name == "" || pred == nil || head == nil {
		panic("node: conditional path requires name, predicate and head")
	}
	return &ConditionalPath{Name: name, Predicate: pred, Head: head}
}

// Node is one processing step of a pipeline graph. The node itself, not
// its hook, measures packets, bytes and processing time so statistics
// are uniform across the graph.
type Node struct {
	name   string
	hook   Transformer
	next   *Node
	inputs []*Node
	paths  []*ConditionalPath // non-nil: demuxer

	numInputPackets  uint64
	numOutputPackets uint64
	numBytes         uint64
	numDropped       uint64
	firstPacketTime  int64 // unixnano, 0 until first packet
	lastPacketTime   int64
	totalProcessing  int64 // ns
}

// New returns a node running hook
func New(name string, hook Transformer) *Node {
	return &Node{name: name, hook: hook}
}

// Simple returns a stateless one-shot transformer node
func Simple(name string, fn TransformFunc) *Node {
	return &Node{name: name, hook: fn}
}

// NewDemuxer returns a node that routes each packet to the first path
// whose predicate matches. Unmatched packets are dropped and counted.
func NewDemuxer(name string, paths ...*ConditionalPath) *Node {
	n := &Node{name: name, paths: paths}
	for _, p := range paths {
		if p == nil {
			panic("node: nil demuxer path")
		}
		p.Head.addInput(n)
	}
	return n
}

// Name returns the human readable, non-unique node name
func (n *Node) Name() string {
	return n.name
}

// Next returns the forward link
func (n *Node) Next() *Node {
	return n.next
}

// IsDemuxer reports whether this node fans out over conditional paths
func (n *Node) IsDemuxer() bool {
	return n.paths != nil
}

// Paths returns the demuxer branches, nil for plain nodes
func (n *Node) Paths() []*ConditionalPath {
	return n.paths
}

// Attach binds next as this node's successor, updating back-edges on
// both the old and the new target. Attaching to a demuxer is a
// topology misuse and panics.
func (n *Node) Attach(next *Node) *Node {
	if n.IsDemuxer() {
		panic("node: attach on demuxer " + n.name)
	}
	if n.next != nil {
		n.next.removeInput(n)
	}
	n.next = next
	if next != nil {
		next.addInput(n)
	}
	return next
}

func (n *Node) addInput(in *Node) {
	for _, i := range n.inputs {
		if i == in {
			return
		}
	}
	n.inputs = append(n.inputs, in)
}

func (n *Node) removeInput(in *Node) {
	for idx, i := range n.inputs {
		if i == in {
			n.inputs = append(n.inputs[:idx], n.inputs[idx+1:]...)
			return
		}
	}
}

// ProcessPackets runs a batch through this node and forwards the result
func (n *Node) ProcessPackets(pkts []*packet.Info) {
	if len(pkts) == 0 {
		return
	}
	entry := time.Now()
	atomic.CompareAndSwapInt64(&n.firstPacketTime, 0, entry.UnixNano())
	atomic.StoreInt64(&n.lastPacketTime, entry.UnixNano())
	atomic.AddUint64(&n.numInputPackets, uint64(len(pkts)))
	for _, p := range pkts {
		atomic.AddUint64(&n.numBytes, uint64(p.Size()))
		p.Mark("Entered " + n.name)
	}

	if n.IsDemuxer() {
		n.demux(pkts, entry)
		return
	}

	out := n.hook.Transform(pkts)
	atomic.AddInt64(&n.totalProcessing, int64(time.Since(entry)))
	if len(out) == 0 {
		return
	}
	atomic.AddUint64(&n.numOutputPackets, uint64(len(out)))
	for _, p := range out {
		p.Mark("Exited " + n.name)
	}
	if n.next != nil {
		n.next.ProcessPackets(out)
	}
}

// demux partitions the batch over the paths in declaration order,
// preserving packet order within each path.
func (n *Node) demux(pkts []*packet.Info, entry time.Time) {
	batches := make([][]*packet.Info, len(n.paths))
	for _, p := range pkts {
		routed := false
		for i, path := range n.paths {
			if path.Predicate(p) {
				batches[i] = append(batches[i], p)
				routed = true
				break
			}
		}
		if !routed {
			atomic.AddUint64(&n.numDropped, 1)
		}
	}
	atomic.AddInt64(&n.totalProcessing, int64(time.Since(entry)))
	for i, batch := range batches {
		if len(batch) == 0 {
			continue
		}
		atomic.AddUint64(&n.numOutputPackets, uint64(len(batch)))
		for _, p := range batch {
			p.Mark("Exited " + n.name)
		}
		n.paths[i].Head.ProcessPackets(batch)
	}
}

// HandleEvent delivers a control event to the hook if it cares
func (n *Node) HandleEvent(ev Event) {
	if eh, ok := n.hook.(EventHandler); ok {
		eh.HandleEvent(ev)
	}
}

// Stop terminates the hook's background work if it has any
func (n *Node) Stop() {
	if s, ok := n.hook.(Stopper); ok {
		s.Stop()
	}
}

// Visit runs fn over the graph reachable from n in pre-order, branches
// in declaration order. Each node is visited exactly once even if the
// graph contains a cycle or fan-in.
func (n *Node) Visit(fn func(*Node)) {
	n.visit(fn, make(map[*Node]bool))
}

func (n *Node) visit(fn func(*Node), seen map[*Node]bool) {
	if n == nil || seen[n] {
		return
	}
	seen[n] = true
	fn(n)
	if n.IsDemuxer() {
		for _, p := range n.paths {
			p.Head.visit(fn, seen)
		}
		return
	}
	if n.next != nil {
		n.next.visit(fn, seen)
	}
}

// ReverseVisit runs fn over inputs first, then n, for outgoing trees
// that fan in. Cycle-safe like Visit.
func (n *Node) ReverseVisit(fn func(*Node)) {
	n.reverseVisit(fn, make(map[*Node]bool))
}

func (n *Node) reverseVisit(fn func(*Node), seen map[*Node]bool) {
	if n == nil || seen[n] {
		return
	}
	seen[n] = true
	for _, in := range n.inputs {
		in.reverseVisit(fn, seen)
	}
	fn(n)
}
