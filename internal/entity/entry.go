package entity

import "time"

// RegistryEntry is the durable record of a completed copy.
type RegistryEntry struct {
	ID           string    `json:"id"`
	ResolvedPath string    `json:"path"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	MIMEType     string    `json:"mime_type"`
	Scannable    bool      `json:"scannable"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}

// EntryFields holds everything the registry needs to create an entry.
type EntryFields struct {
	ResolvedPath string
	Title        string
	Description  string
	MIMEType     string
	Scannable    bool
	Size         int64
}
