package entity

// CopyRequest asks for a file to be copied into a downloads directory and registered.
// It is never mutated once submitted.
type CopyRequest struct {
	SourcePath           string `json:"source_path"`
	DestinationDirectory string `json:"destination_directory"`
	Title                string `json:"title"`
	Description          string `json:"description"`
	MIMEType             string `json:"mime_type"`
	Scannable            bool   `json:"scannable"`
	Notify               bool   `json:"notify"`
}
