package stream

import "github.com/orchestra-mcp/pulse/src/types"

// readPump reads messages from conn and posts them to the loop in arrival
// order, followed by a single close event when the read fails.
func (m *Manager) readPump(gen uint64, conn types.Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeStatus(err)
			m.post(connEvent{gen: gen, kind: evClosed, code: code, reason: reason, err: err})
			return
		}
		if !m.post(connEvent{gen: gen, kind: evMessage, data: data}) {
			return
		}
	}
}
