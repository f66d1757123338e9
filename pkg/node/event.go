package node

import (
	"github.com/pion/ion-mt/pkg/media"
)

// Event is a control message broadcast to every node of a graph.
// Events never carry per-packet data.
type Event interface {
	isEvent()
}

// PayloadTypeAdded installs one dynamic payload format
type PayloadTypeAdded struct {
	Format media.Format
}

// PayloadTypesCleared empties the payload format table
type PayloadTypesCleared struct{}

// ExtensionAdded installs one negotiated RTP header extension
type ExtensionAdded struct {
	Ext media.Extension
}

// ExtensionsCleared empties the extension table
type ExtensionsCleared struct{}

// ReceiveSSRCAdded announces a new receive ssrc
type ReceiveSSRCAdded struct {
	SSRC uint32
	Kind media.Kind
}

// ReceiveSSRCRemoved retires a receive ssrc
type ReceiveSSRCRemoved struct {
	SSRC uint32
}

// SSRCAssociationAdded binds a secondary ssrc to its primary
type SSRCAssociationAdded struct {
	Association media.Association
}

// EncodingsAdded announces the remote endpoint's RTP encodings
type EncodingsAdded struct {
	Encodings []media.Encoding
}

func (PayloadTypeAdded) isEvent()     {}
func (PayloadTypesCleared) isEvent()  {}
func (ExtensionAdded) isEvent()       {}
func (ExtensionsCleared) isEvent()    {}
func (ReceiveSSRCAdded) isEvent()     {}
func (ReceiveSSRCRemoved) isEvent()   {}
func (SSRCAssociationAdded) isEvent() {}
func (EncodingsAdded) isEvent()       {}

// Broadcast synchronously delivers ev to every node reachable from
// root, pre-order, branches in declaration order. On return every node
// has observed the event.
func Broadcast(root *Node, ev Event) {
	root.Visit(func(n *Node) {
		n.HandleEvent(ev)
	})
}
