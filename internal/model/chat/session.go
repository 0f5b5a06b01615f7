package chat

import "time"

// Session captures an anonymous conversation and the configuration it runs with.
type Session struct {
	ID        string    `json:"id"`
	Settings  Settings  `json:"settings"`
	MemoryKey string    `json:"memoryKey"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
