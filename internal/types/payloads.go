package types

// Event payload bodies. The event kind is carried by the filename, not the
// body, so the payloads stay minimal.

// CreatePayload is the body of an item-creation event (<item>.json).
type CreatePayload struct {
	ItemID  string `json:"itemId"`
	Tagline string `json:"tagline"`
	Status  string `json:"status"`
	Person  Person `json:"person"`
	Created string `json:"created"`
}

// TaglinePayload is the body of a tagline-change event.
type TaglinePayload struct {
	Tagline string `json:"tagline"`
	Person  Person `json:"person"`
}

// EntryPayload is the body of an entry (note) event.
type EntryPayload struct {
	Text   string `json:"text"`
	Person Person `json:"person"`
}

// StatusPayload is the body of a status-change event. Text optionally
// carries a note recorded alongside the transition.
type StatusPayload struct {
	Status string `json:"status"`
	Text   string `json:"text,omitempty"`
	Person Person `json:"person"`
}

// PersonPayload is the body of dependency, monitor, taken, and ignored
// events, which carry no data beyond their author.
type PersonPayload struct {
	Person Person `json:"person"`
}
