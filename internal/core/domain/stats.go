package domain

// Stats is the snapshot returned to the host.
type Stats struct {
	MessagesReceived uint64            `json:"messages_received"`
	BytesReceived    uint64            `json:"bytes_received"`
	MessagesSent     uint64            `json:"messages_sent"`
	BytesSent        uint64            `json:"bytes_sent"`
	SendFailures     uint64            `json:"send_failures"`
	Latency          float64           `json:"latency_ms"`
	ConnectionState  ConnectionState   `json:"connection_state"`
	ActiveTargets    []Target          `json:"active_targets"`
	Forwarded        map[string]uint64 `json:"forwarded"`
}
