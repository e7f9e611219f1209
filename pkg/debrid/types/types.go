package types

import "time"

// Torrent is the provider's catalog entry for one remote item.
type Torrent struct {
	ID       string    `json:"id"`
	Hash     string    `json:"hash"`
	Filename string    `json:"filename"`
	Status   string    `json:"status"`
	Bytes    int64     `json:"bytes"`
	Added    time.Time `json:"added"`
	Progress float64   `json:"progress"`
}

// AddMagnetResult is the provider's response to a magnet submission.
type AddMagnetResult struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

// User is the provider account, used for the startup token check.
type User struct {
	ID         int       `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	Type       string    `json:"type"`
	Premium    int       `json:"premium"`
	Expiration time.Time `json:"expiration"`
}
