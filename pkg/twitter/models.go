package twitter

import (
	"encoding/json"
	"strconv"
)

// User is the subset of the users/show payload the archiver needs.
type User struct {
	ID         int64  `json:"id"`
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
}

// PageRequest selects one timeline page. Zero SinceID or MaxID means no
// bound on that side.
type PageRequest struct {
	UserID  int64
	SinceID int64
	MaxID   int64
	Count   int
}

// Page is one timeline page, newest first. MinID and MaxID are the lowest
// and highest item ids on the page.
type Page struct {
	Items   []json.RawMessage
	HasMore bool
	MinID   int64
	MaxID   int64
}

// ItemHeader carries the fields every stored item needs, decoded from a raw
// status payload.
type ItemHeader struct {
	ID        int64  `json:"id"`
	IDStr     string `json:"id_str"`
	CreatedAt string `json:"created_at"`
	Text      string `json:"text"`
	FullText  string `json:"full_text"`
	Source    string `json:"source"`
	Place     *struct {
		FullName string `json:"full_name"`
	} `json:"place"`
}

// StatusID prefers the numeric id and falls back to id_str.
func (h ItemHeader) StatusID() int64 {
	if h.ID != 0 {
		return h.ID
	}
	id, _ := strconv.ParseInt(h.IDStr, 10, 64)
	return id
}

// Body returns full_text when the payload is in extended mode.
func (h ItemHeader) Body() string {
	if h.Text != "" {
		return h.Text
	}
	return h.FullText
}

// Location returns place.full_name or empty.
func (h ItemHeader) Location() string {
	if h.Place == nil {
		return ""
	}
	return h.Place.FullName
}

// CreatedAtLayout is the upstream timestamp format.
const CreatedAtLayout = "Mon Jan 02 15:04:05 -0700 2006"

// DecodeHeader decodes the stored-item fields of a raw status.
func DecodeHeader(raw json.RawMessage) (ItemHeader, error) {
	var h ItemHeader
	err := json.Unmarshal(raw, &h)
	return h, err
}

type apiErrorBody struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}
