package communication

import (
	"log"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/swarmforge/agent-quorum/core"
)

// WebSocketManager fans engine events out to connected dashboard clients.
type WebSocketManager struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan core.Event
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mu         sync.RWMutex
}

var (
	wsManager *WebSocketManager
	once      sync.Once
)

// GetWSManager returns the process-wide websocket manager.
func GetWSManager() *WebSocketManager {
	once.Do(func() {
		wsManager = &WebSocketManager{
			clients:    make(map[*websocket.Conn]bool),
			broadcast:  make(chan core.Event, 64),
			register:   make(chan *websocket.Conn),
			unregister: make(chan *websocket.Conn),
		}
		go wsManager.run()
	})
	return wsManager
}

// AttachBus subscribes the manager to engine events. Events overflowing the
// broadcast buffer are dropped for slow dashboards; the engine never blocks
// on them.
func (manager *WebSocketManager) AttachBus(bus *core.Bus) {
	bus.Subscribe(func(event core.Event) {
		select {
		case manager.broadcast <- event:
		default:
			log.Printf("websocket broadcast buffer full, dropping %s", event.Name)
		}
	})
}

func (manager *WebSocketManager) run() {
	for {
		select {
		case client := <-manager.register:
			manager.mu.Lock()
			manager.clients[client] = true
			manager.mu.Unlock()

		case client := <-manager.unregister:
			manager.mu.Lock()
			if _, ok := manager.clients[client]; ok {
				delete(manager.clients, client)
				client.Close()
			}
			manager.mu.Unlock()

		case event := <-manager.broadcast:
			manager.mu.Lock()
			for client := range manager.clients {
				if err := client.WriteJSON(event); err != nil {
					log.Printf("websocket write error: %v", err)
					client.Close()
					delete(manager.clients, client)
				}
			}
			manager.mu.Unlock()
		}
	}
}

// Register returns the channel new connections are handed to.
func (manager *WebSocketManager) Register() chan<- *websocket.Conn {
	return manager.register
}

// Unregister returns the channel closed connections are handed to.
func (manager *WebSocketManager) Unregister() chan<- *websocket.Conn {
	return manager.unregister
}
