package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is the protocol version exchanged in the handshake.
const Version = 1

// Type names a message.
type Type string

const (
	TypeHandshake     Type = "handshake"
	TypeHandshakeOK   Type = "handshake_ok"
	TypeHandshakeFail Type = "handshake_fail"
	TypePing          Type = "ping"
	TypePong          Type = "pong"
	TypeRound         Type = "round"
	TypeGuess         Type = "guess"
	TypeGuessReply    Type = "guess_reply"
	TypeBye           Type = "bye"
)

// Message is the single envelope every frame carries. Fields are used
// according to Type.
type Message struct {
	Type     Type   `json:"type"`
	Version  int    `json:"version,omitempty"`
	Name     string `json:"name,omitempty"`
	Device   string `json:"device,omitempty"`
	Caps     int    `json:"caps,omitempty"`
	GameTime int64  `json:"game_time_ms,omitempty"`
	Reason   string `json:"reason,omitempty"`
	ID       int    `json:"id,omitempty"`
	Cap      int    `json:"cap"`
	Ball     int    `json:"ball"`
	Win      bool   `json:"win,omitempty"`
}

// Peer identifies the other side of a session.
type Peer struct {
	Name   string
	Device string
}

// Hello builds the joining side's handshake.
func Hello(p Peer) Message {
	return Message{Type: TypeHandshake, Version: Version, Name: p.Name, Device: p.Device}
}

// Welcome builds the hosting side's handshake reply.
func Welcome(p Peer, caps int, gameTime time.Duration) Message {
	return Message{
		Type:     TypeHandshakeOK,
		Version:  Version,
		Name:     p.Name,
		Device:   p.Device,
		Caps:     caps,
		GameTime: gameTime.Milliseconds(),
	}
}

// Duration returns GameTime as a time.Duration.
func (m Message) Duration() time.Duration {
	return time.Duration(m.GameTime) * time.Millisecond
}

// Peer returns the sender identity carried by a handshake message.
func (m Message) Peer() Peer {
	return Peer{Name: m.Name, Device: m.Device}
}

func encode(m Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.Type, err)
	}
	return b, nil
}

func decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", ErrProtocol)
	}
	return m, nil
}
