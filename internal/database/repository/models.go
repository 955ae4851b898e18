package repository

import "time"

// Player represents an opponent seen over the network, keyed by device id.
type Player struct {
	ID        string
	DeviceID  string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Match represents one finished round against a player.
type Match struct {
	ID       string
	PlayerID string
	Won      bool
	Cap      int
	Ball     int
	PlayedAt time.Time
}

// Standing is the running score against one player.
type Standing struct {
	Player Player
	Wins   int
	Losses int
}
