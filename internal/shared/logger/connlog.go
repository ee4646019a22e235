package logger

// ConnectionEvent is the structured record emitted once per client
// connection outcome (completion or outward failure).
type ConnectionEvent struct {
	Event         string
	ClientIP      string
	ClientPort    int
	TargetHost    string
	TargetPort    int
	RunwayID      string
	Method        string
	Path          string
	StatusCode    int
	BytesSent     uint64
	BytesReceived uint64
	DurationMS    float64
	Error         string
}

// LogConnection writes one structured connection log entry.
func LogConnection(ev ConnectionEvent) {
	e := Info()
	if ev.Error != "" {
		e = Warn()
	}
	e = e.Str("event", ev.Event).
		Str("client_ip", ev.ClientIP).
		Int("client_port", ev.ClientPort)

	if ev.TargetHost != "" {
		e = e.Str("target_host", ev.TargetHost).Int("target_port", ev.TargetPort)
	}
	if ev.RunwayID != "" {
		e = e.Str("runway_id", ev.RunwayID)
	}
	if ev.Method != "" {
		e = e.Str("method", ev.Method)
	}
	if ev.Path != "" {
		e = e.Str("path", ev.Path)
	}
	if ev.StatusCode > 0 {
		e = e.Int("status_code", ev.StatusCode)
	}
	if ev.BytesSent > 0 || ev.BytesReceived > 0 {
		e = e.Uint64("bytes_sent", ev.BytesSent).Uint64("bytes_received", ev.BytesReceived)
	}
	if ev.Error != "" {
		e = e.Str("error", ev.Error)
	}
	e.Float64("duration_ms", ev.DurationMS).Msg("connection")
}
