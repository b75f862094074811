package communication

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/swarmforge/agent-quorum/core"
)

// SubjectPrefix namespaces all engine events on the wire.
const SubjectPrefix = "quorum"

// SubjectFor maps an engine event name to its NATS subject, e.g.
// "proposal:finalized" -> "quorum.proposal.finalized".
func SubjectFor(eventName string) string {
	return SubjectPrefix + "." + strings.ReplaceAll(eventName, ":", ".")
}

// Messenger encapsulates a NATS connection.
type Messenger struct {
	NC *nats.Conn
}

// NewMessenger connects to the given NATS URL.
func NewMessenger(url string) (*Messenger, error) {
	nc, err := nats.Connect(url,
		nats.Timeout(10*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Messenger{NC: nc}, nil
}

// BridgeEvents republishes every engine event to NATS so out-of-process
// collaborators (voter agents, persisters, dashboards) can react. Delivery
// is fire-and-forget; a publish failure is logged and the engine moves on.
func (m *Messenger) BridgeEvents(bus *core.Bus) {
	bus.Subscribe(func(event core.Event) {
		data, err := json.Marshal(event)
		if err != nil {
			log.Printf("failed to marshal event %s: %v", event.Name, err)
			return
		}
		if err := m.NC.Publish(SubjectFor(event.Name), data); err != nil {
			log.Printf("failed to publish event %s: %v", event.Name, err)
		}
	})
}

// Subscribe registers a callback for a subject.
func (m *Messenger) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return m.NC.Subscribe(subject, cb)
}

// Close drains and closes the connection.
func (m *Messenger) Close() {
	if err := m.NC.Drain(); err != nil {
		log.Printf("failed to drain NATS connection: %v", err)
	}
	m.NC.Close()
}
