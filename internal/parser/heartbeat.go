package parser

import (
	"context"

	"github.com/skoulos/mal_analytics/pkg/models"
)

// parseHeartbeat projects one heartbeat record into a heartbeat row and one
// cpuload row per sample, in list order.
func (p *Parser) parseHeartbeat(ctx context.Context, rec *heartbeatRecord) {
	heartbeat := p.alloc.next(heartbeatID)

	if err := p.sink.Insert(ctx, models.Heartbeat{
		HeartbeatID:   heartbeat,
		ServerSession: rec.Session,
		Clk:           rec.Clk,
		CTime:         rec.CTime,
		RSS:           rec.RSS,
		NVCSw:         rec.NVCSw,
	}); err != nil {
		p.log.Warn("heartbeat row not stored", "kind", "heartbeat", "heartbeat_id", heartbeat, "reason", err)
	}

	for core, val := range rec.CPULoad {
		if err := p.sink.Insert(ctx, models.CPULoadSample{
			HeartbeatID: heartbeat,
			Core:        int64(core),
			Val:         val,
		}); err != nil {
			p.log.Warn("cpuload row not stored", "kind", "heartbeat", "heartbeat_id", heartbeat, "core", core, "reason", err)
		}
	}
}
