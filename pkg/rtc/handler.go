package rtc

import (
	"sync/atomic"

	"github.com/pion/ion-mt/pkg/packet"
)

// handlerWrapper is the reassignable tail of a pipeline. The handler
// slot is an atomic swap of an immutable function value: written from
// control threads, read from the pipeline thread.
type handlerWrapper struct {
	v atomic.Value
}

type handlerBox struct {
	h PacketHandler
}

func newHandlerWrapper() *handlerWrapper {
	w := &handlerWrapper{}
	w.v.Store(handlerBox{})
	return w
}

// Set rebinds the handler atomically
func (w *handlerWrapper) Set(h PacketHandler) {
	w.v.Store(handlerBox{h: h})
}

// Transform hands the batch to the installed handler, terminal node
func (w *handlerWrapper) Transform(pkts []*packet.Info) []*packet.Info {
	box := w.v.Load().(handlerBox)
	if box.h != nil {
		box.h(pkts)
	}
	return nil
}
