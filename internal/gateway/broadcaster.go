package gateway

import (
	"strconv"
	"time"
)

// Broadcast sends data on a channel to every client that wants it.
// Envelope: {"channel":"pub:signal:TCS","data":{...},"ts":"...","seq":N}
func (h *Hub) Broadcast(channel string, data []byte) {
	now := time.Now().UTC()

	h.mu.Lock()
	h.seq++
	seq := h.seq
	h.latest[channel] = latestEntry{Data: append([]byte(nil), data...), TS: now, Seq: seq}
	h.mu.Unlock()

	buf := buildEnvelope(channel, data, now, seq)
	h.replay.Push(seq, channel, buf)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.wants(channel) {
			continue
		}
		client.queue(buf)
	}
}

// buildEnvelope hand-crafts the envelope JSON around an already encoded payload.
func buildEnvelope(channel string, data []byte, now time.Time, seq int64) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+96)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, '}')
	return buf
}
