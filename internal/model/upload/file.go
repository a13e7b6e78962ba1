package upload

// MaxSize is the largest file the backend accepts.
const MaxSize = 10 << 20

// AllowedTypes lists the accepted content types.
var AllowedTypes = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"application/pdf": ".pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
}

// Allowed reports whether contentType may be uploaded.
func Allowed(contentType string) bool {
	_, ok := AllowedTypes[contentType]
	return ok
}

// File describes a stored upload. URL is what the next query references.
type File struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Base64 string `json:"base64,omitempty"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
}
