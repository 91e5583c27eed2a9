package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Ref is a reference to a platform user. The server sends it either as a bare
// id string or as a populated object; both decode to the same Ref so code
// downstream of ingestion never inspects the wire shape.
type Ref struct {
	ID    string `json:"_id"`
	Name  string `json:"name,omitempty"`
	Photo string `json:"photo,omitempty"`
	Email string `json:"emailAddress,omitempty"`
}

// UnmarshalJSON accepts `"id"`, `{"_id": "id", ...}` and `{"id": "id", ...}`.
func (r *Ref) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = Ref{}
		return nil
	}
	if b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*r = Ref{ID: id}
		return nil
	}
	var obj struct {
		UnderscoreID string `json:"_id"`
		ID           string `json:"id"`
		Name         string `json:"name"`
		Photo        string `json:"photo"`
		Email        string `json:"emailAddress"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("user reference: %w", err)
	}
	r.ID = obj.UnderscoreID
	if r.ID == "" {
		r.ID = obj.ID
	}
	r.Name = obj.Name
	r.Photo = obj.Photo
	r.Email = obj.Email
	return nil
}

// Is reports whether the reference points at userID.
func (r Ref) Is(userID string) bool {
	return userID != "" && r.ID == userID
}

// IsZero reports whether the reference carries no id.
func (r Ref) IsZero() bool {
	return r.ID == ""
}
