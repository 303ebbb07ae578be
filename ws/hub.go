package ws

import (
	"context"
	"encoding/json"

	"github.com/bradjohnson79/anointarray-sub003/models"
)

type StatusUpdate struct {
	OrderID string             `json:"order_id"`
	Status  models.OrderStatus `json:"status"`
}

type client struct {
	hub  *Hub
	send chan []byte
}

// Hub fans order-status transitions out to connected dashboard clients.
// Every client receives every update; the dashboard filters client-side.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan StatusUpdate
	clients    map[*client]bool
}

func NewHub() *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan StatusUpdate),
		clients:    make(map[*client]bool),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case update := <-h.broadcast:
			msg, err := json.Marshal(update)
			if err != nil {
				continue
			}
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
			}
			return
		}
	}
}

func (h *Hub) BroadcastOrderStatus(orderID string, status models.OrderStatus) {
	go func() { h.broadcast <- StatusUpdate{OrderID: orderID, Status: status} }()
}
