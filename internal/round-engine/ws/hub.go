package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/round-engine/pkg/contracts/events"
)

// client serializa as escritas: o gorilla aceita um único escritor por conexão
type client struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *client) write(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Hub gerencia conexões WebSocket do feed de fases
// subs: tópico -> conjunto de clientes inscritos
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger
	mu       sync.RWMutex
	subs     map[string]map[*client]struct{}
}

// NewHub cria o hub com política de origem customizada
func NewHub(allowOrigin func(r *http.Request) bool, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		log:      log,
		subs:     make(map[string]map[*client]struct{}),
	}
}

// HandleWS mantém a conexão: subscribe/unsubscribe por tópico e ping/pong.
// Sem mensagem de subscribe o cliente recebe todos os eventos.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}
	defer conn.Close()

	if r.URL.Query().Get("manual") == "" {
		h.add(TopicAll, c)
	}

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			h.add(msg.Topic, c)
		case "unsubscribe":
			h.remove(msg.Topic, c)
		case "ping":
			b, _ := json.Marshal(map[string]string{"type": "pong"})
			_ = c.write(b)
		}
	}

	// remove a conexão de todas as assinaturas ao desconectar
	h.mu.Lock()
	for topic, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) add(topic string, c *client) {
	if topic == "" {
		topic = TopicAll
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[topic]; !ok {
		h.subs[topic] = make(map[*client]struct{})
	}
	h.subs[topic][c] = struct{}{}
}

func (h *Hub) remove(topic string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.subs[topic]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(h.subs, topic)
		}
	}
}

// Clients retorna o número de conexões distintas
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[*client]struct{})
	for _, set := range h.subs {
		for c := range set {
			seen[c] = struct{}{}
		}
	}
	return len(seen)
}

// Broadcast envia o payload aos inscritos no tópico e em "*"
func (h *Hub) Broadcast(topic string, payload any) {
	h.mu.RLock()
	targets := make(map[*client]struct{})
	for _, t := range []string{topic, TopicAll} {
		for c := range h.subs[t] {
			targets[c] = struct{}{}
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	b, err := json.Marshal(ServerMsg{Topic: topic, Payload: payload})
	if err != nil {
		h.log.Warn("ws marshal failed", zap.Error(err))
		return
	}
	for c := range targets {
		if err := c.write(b); err != nil {
			h.log.Debug("ws write failed", zap.Error(err))
		}
	}
}

// PublishPhase implementa o feed de fases para o orchestrator
func (h *Hub) PublishPhase(ctx context.Context, ev events.RoundPhase) error {
	h.Broadcast(ev.Kind, ev)
	return nil
}
