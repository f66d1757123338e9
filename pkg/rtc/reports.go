package rtc

import (
	"sync"
	"time"

	"github.com/pion/ion-mt/pkg/util"
	"github.com/pion/rtcp"
)

type lastSR struct {
	ntp     uint32
	arrival time.Time
}

// ConnectionStats tracks round-trip relevant timestamps from SR/RR
// pairs seen on this transceiver.
type ConnectionStats struct {
	mu sync.RWMutex
	// last SR received per remote sender ssrc, feeds our RR LSR/DLSR
	lastSRs map[uint32]lastSR
	// middle NTP of SRs we sent, keyed by that NTP, to match RR echoes
	sentSRs map[uint32]time.Time
	rtt     time.Duration
}

func newConnectionStats(n *RtcpEventNotifier) *ConnectionStats {
	c := &ConnectionStats{
		lastSRs: make(map[uint32]lastSR),
		sentSRs: make(map[uint32]time.Time),
	}
	n.OnSenderReport(c.onSenderReport)
	n.OnReceiverReport(c.onReceiverReport)
	return c
}

func (c *ConnectionStats) onSenderReport(sr *rtcp.SenderReport, at time.Time) {
	c.mu.Lock()
	c.lastSRs[sr.SSRC] = lastSR{ntp: uint32(sr.NTPTime >> 16), arrival: at}
	c.mu.Unlock()
}

func (c *ConnectionStats) onReceiverReport(rr *rtcp.ReceiverReport, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, report := range rr.Reports {
		sent, ok := c.sentSRs[report.LastSenderReport]
		if !ok {
			continue
		}
		delete(c.sentSRs, report.LastSenderReport)
		dlsr := time.Duration(report.Delay) * time.Second / 65536
		if rtt := at.Sub(sent) - dlsr; rtt > 0 {
			c.rtt = rtt
		}
	}
}

// recordSentSR notes an outgoing sender report for later RTT matching
func (c *ConnectionStats) recordSentSR(sr *rtcp.SenderReport, at time.Time) {
	c.mu.Lock()
	c.sentSRs[uint32(sr.NTPTime>>16)] = at
	c.mu.Unlock()
}

// lastSenderReport returns LSR and DLSR values for an RR block
func (c *ConnectionStats) lastSenderReport(ssrc uint32, now time.Time) (lsr uint32, dlsr uint32) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.lastSRs[ssrc]
	if !ok {
		return 0, 0
	}
	return s.ntp, uint32(now.Sub(s.arrival).Seconds() * 65536)
}

// RTT returns the latest round-trip estimate, zero when unknown
func (c *ConnectionStats) RTT() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rtt
}

// receiverReportGenerator periodically emits one RR block per receive
// ssrc, with jitter and loss from the incoming stats tracker.
type receiverReportGenerator struct {
	registry  *StreamStatsRegistry
	connStats *ConnectionStats
	send      rtcpSender
	cycle     time.Duration

	stopCh chan struct{}
	once   sync.Once
}

func newReceiverReportGenerator(registry *StreamStatsRegistry, connStats *ConnectionStats, send rtcpSender, cycle time.Duration) *receiverReportGenerator {
	g := &receiverReportGenerator{
		registry:  registry,
		connStats: connStats,
		send:      send,
		cycle:     cycle,
		stopCh:    make(chan struct{}),
	}
	g.loop()
	return g
}

func (g *receiverReportGenerator) loop() {
	go func() {
		defer util.Recover("[rr.loop]")
		t := time.NewTicker(g.cycle)
		defer t.Stop()
		for {
			select {
			case <-g.stopCh:
				return
			case <-t.C:
				if rr := g.build(time.Now()); rr != nil {
					g.send(rr)
				}
			}
		}
	}()
}

// build returns a ReceiverReport for every tracked ssrc, nil when no
// stream has been seen yet.
func (g *receiverReportGenerator) build(now time.Time) rtcp.Packet {
	snapshots := g.registry.Snapshots()
	if len(snapshots) == 0 {
		return nil
	}
	reports := make([]rtcp.ReceptionReport, 0, len(snapshots))
	for _, s := range snapshots {
		lsr, dlsr := g.connStats.lastSenderReport(s.SSRC, now)
		reports = append(reports, rtcp.ReceptionReport{
			SSRC:               s.SSRC,
			FractionLost:       s.FractionLost,
			TotalLost:          s.CumulativeLost,
			LastSequenceNumber: s.ExtendedHighest,
			Jitter:             s.Jitter,
			LastSenderReport:   lsr,
			Delay:              dlsr,
		})
	}
	return &rtcp.ReceiverReport{Reports: reports}
}

// Stop terminates the report loop
func (g *receiverReportGenerator) Stop() {
	g.once.Do(func() {
		close(g.stopCh)
	})
}
