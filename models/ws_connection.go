package models

// ConnectionState is the lifecycle state of the live connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateError        ConnectionState = "error"
)

// ConnectionStatus is a point-in-time view of the session for the UI.
type ConnectionStatus struct {
	UserID            string          `json:"userId"`
	State             ConnectionState `json:"state"`
	ReconnectAttempts int             `json:"reconnectAttempts"`
	LastError         string          `json:"lastError,omitempty"`
}
