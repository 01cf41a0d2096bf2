package nats

import (
	"encoding/json"
	"fmt"

	"github.com/avvvet/allocation-rooms/internal/comm"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"
)

const SubjectPrefix = "rooms."

type Nats struct {
	Url   string
	Token string
	Conn  *nats.Conn
}

func Connect(url, token, name string) (*Nats, error) {
	n := &Nats{
		Url:   url,
		Token: token,
	}

	if n.Url == "" {
		n.Url = nats.DefaultURL
	}

	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warnf("nats disconnected: %s", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Infof("nats reconnected to %s", c.ConnectedUrl())
		}),
	}

	// if token provided
	if n.Token != "" {
		opts = append(opts, nats.Token(n.Token))
	}

	conn, err := nats.Connect(n.Url, opts...)
	if err != nil {
		return nil, err
	}

	n.Conn = conn

	return n, nil
}

func (n *Nats) Close() {
	if n.Conn != nil {
		n.Conn.Drain()
	}
}

// Subject is the NATS subject carrying events of one room.
func Subject(roomCode string) string {
	return SubjectPrefix + roomCode
}

type publisher interface {
	Publish(subj string, data []byte) error
}

// Relay mirrors room events to NATS so other services can follow rooms
// without holding a stream open on this one.
type Relay struct {
	pub publisher
}

func NewRelay(pub publisher) *Relay {
	return &Relay{pub: pub}
}

func (r *Relay) Relay(evt comm.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.pub.Publish(Subject(evt.RoomCode), data); err != nil {
		return fmt.Errorf("publish to %s: %w", Subject(evt.RoomCode), err)
	}
	return nil
}
