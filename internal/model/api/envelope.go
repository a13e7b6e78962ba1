package api

import "encoding/json"

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope wraps every backend JSON response.
type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// OK reports whether the backend flagged the call as successful.
func (e Envelope) OK() bool {
	return e.Status == StatusSuccess
}

// Decode unmarshals the data payload into out.
func (e Envelope) Decode(out any) error {
	if len(e.Data) == 0 || out == nil {
		return nil
	}
	return json.Unmarshal(e.Data, out)
}
