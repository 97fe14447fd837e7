package ws

// ClientMsg mensagem recebida do cliente WebSocket
// Topic: tipo de evento de fase ("warn", "seal", ...), "gateway" ou "*" para todos
type ClientMsg struct {
	Type  string `json:"type"` // subscribe | unsubscribe | ping
	Topic string `json:"topic"`
}

// ServerMsg envelope enviado aos clientes
type ServerMsg struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

const (
	TopicAll     = "*"
	TopicGateway = "gateway"
)
