package rtc

import (
	"sync"
	"time"

	"github.com/pion/ion-mt/pkg/log"
	"github.com/pion/ion-mt/pkg/util"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

var (
	transceivers    = make(map[string]*Transceiver)
	transceiverLock sync.RWMutex

	statStopCh chan struct{}
	statLock   sync.Mutex
)

func addTransceiver(t *Transceiver) {
	transceiverLock.Lock()
	transceivers[t.id] = t
	transceiverLock.Unlock()
}

func delTransceiver(id string) {
	transceiverLock.Lock()
	delete(transceivers, id)
	transceiverLock.Unlock()
}

// GetTransceiver looks a transceiver up by id
func GetTransceiver(id string) *Transceiver {
	transceiverLock.RLock()
	defer transceiverLock.RUnlock()
	return transceivers[id]
}

// Stat logs one line of engine state: transceiver count plus host cpu
// and memory utilization.
func Stat() {
	transceiverLock.RLock()
	count := len(transceivers)
	transceiverLock.RUnlock()

	var cpuScore float64
	if p, err := cpu.Percent(0, false); err == nil && len(p) == 1 {
		cpuScore = p[0]
	}
	var memScore float64
	if v, err := mem.VirtualMemory(); err == nil {
		memScore = v.UsedPercent
	}
	log.Infof("----------------transceivers=%d cpu=%.1f%% mem=%.1f%%-----------------", count, cpuScore, memScore)
}

// StartStat begins the periodic engine stat line
func StartStat(cycle time.Duration) {
	statLock.Lock()
	defer statLock.Unlock()
	if statStopCh != nil {
		return
	}
	statStopCh = make(chan struct{})
	stopCh := statStopCh
	go func() {
		defer util.Recover("[engine.stat]")
		t := time.NewTicker(cycle)
		defer t.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-t.C:
				Stat()
			}
		}
	}()
}

// StopStat halts the periodic stat line
func StopStat() {
	statLock.Lock()
	defer statLock.Unlock()
	if statStopCh != nil {
		close(statStopCh)
		statStopCh = nil
	}
}
