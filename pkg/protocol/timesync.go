package protocol

// Time-sync exchange type tags. The time server speaks one-shot JSON
// over TCP: a client connects, writes one request, reads one response,
// and the server closes the connection. One request per connection
// keeps the exchange symmetrical for offset computation on the client.
const (
	TypeTimeSyncRequest  = "time_sync_request"
	TypeTimeSyncResponse = "time_sync_response"
)

// TimeSyncRequest is the client half of the time-sync exchange.
// Timestamp is the client's send time in seconds since the Unix epoch.
type TimeSyncRequest struct {
	Type      string  `json:"type"`
	ClientID  string  `json:"client_id"`
	Timestamp float64 `json:"timestamp"`
	Sequence  int     `json:"sequence"`
}

// TimeSyncResponse is the server half of the time-sync exchange. The
// three server-side timestamps (receive, server, response) let the
// client apply the standard NTP offset formula; ServerPrecisionMs is
// the reference clock's current precision estimate.
type TimeSyncResponse struct {
	Type              string  `json:"type"`
	ServerTimestamp   float64 `json:"server_timestamp"`
	RequestTimestamp  float64 `json:"request_timestamp"`
	ReceiveTimestamp  float64 `json:"receive_timestamp"`
	ResponseTimestamp float64 `json:"response_timestamp"`
	ServerPrecisionMs float64 `json:"server_precision_ms"`
	Sequence          int     `json:"sequence"`
	ServerTimeMs      int64   `json:"server_time_ms"`
}
