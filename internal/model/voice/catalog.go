package voice

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Voice is one synthesized voice offered by the assistant.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// UnmarshalJSON accepts both a bare identifier and an {id, name} object.
func (v *Voice) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		v.ID = strings.TrimSpace(id)
		v.Name = v.ID
		return nil
	}

	var obj struct {
		ID      string `json:"id"`
		VoiceID string `json:"voice_id"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid voice entry: %w", err)
	}

	id := strings.TrimSpace(obj.ID)
	if id == "" {
		id = strings.TrimSpace(obj.VoiceID)
	}
	if id == "" {
		return fmt.Errorf("voice entry missing id")
	}

	v.ID = id
	v.Name = strings.TrimSpace(obj.Name)
	if v.Name == "" {
		v.Name = id
	}
	return nil
}

// Label 用于终端展示的名称
func (v Voice) Label() string {
	if v.Name == "" || v.Name == v.ID {
		return v.ID
	}
	return fmt.Sprintf("%s (%s)", v.Name, v.ID)
}

// Catalog mirrors the body of GET /voices.
type Catalog struct {
	Voices []Voice `json:"voices"`
}

// Default returns the identifier the client selects after loading, "" when empty.
func (c Catalog) Default() string {
	if len(c.Voices) == 0 {
		return ""
	}
	return c.Voices[0].ID
}

// Contains reports whether id is one of the catalog values.
func (c Catalog) Contains(id string) bool {
	for _, v := range c.Voices {
		if v.ID == id {
			return true
		}
	}
	return false
}

// IDs returns the voice identifiers in catalog order.
func (c Catalog) IDs() []string {
	ids := make([]string, 0, len(c.Voices))
	for _, v := range c.Voices {
		ids = append(ids, v.ID)
	}
	return ids
}
