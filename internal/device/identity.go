package device

import (
	"encoding/json"
	"fmt"
	"slices"
)

// MaxActions is the largest number of actions a device advertises.
const MaxActions = 10

// Identity is the immutable description of this device.
type Identity struct {
	Type    string
	ID      string
	Actions []string
	Sensors []string
}

// NewIdentity validates and normalises an identity.
//
// Duplicate action names collapse to one. Actions beyond MaxActions are
// not advertised and are returned in dropped so the caller can warn about
// them. Invalid names are an error.
func NewIdentity(deviceType, id string, actions, sensors []string) (Identity, []string, error) {
	if err := validateLevel("type", deviceType); err != nil {
		return Identity{}, nil, err
	}
	if err := validateLevel("id", id); err != nil {
		return Identity{}, nil, err
	}

	kept, dropped, err := normaliseActions(actions)
	if err != nil {
		return Identity{}, nil, err
	}

	var sens []string
	for _, name := range sensors {
		if err := ValidateName(name); err != nil {
			return Identity{}, nil, fmt.Errorf("sensor: %w", err)
		}
		if !slices.Contains(sens, name) {
			sens = append(sens, name)
		}
	}

	return Identity{
		Type:    deviceType,
		ID:      id,
		Actions: kept,
		Sensors: sens,
	}, dropped, nil
}

func normaliseActions(actions []string) (kept, dropped []string, err error) {
	for _, name := range actions {
		if err := ValidateName(name); err != nil {
			return nil, nil, fmt.Errorf("action: %w", err)
		}
		if slices.Contains(kept, name) {
			continue
		}
		if len(kept) == MaxActions {
			dropped = append(dropped, name)
			continue
		}
		kept = append(kept, name)
	}
	return kept, dropped, nil
}

// Prefix returns the topic prefix "<type>/<id>/".
func (i Identity) Prefix() string {
	return i.Type + "/" + i.ID + "/"
}

// HasAction reports whether name is an advertised action.
func (i Identity) HasAction(name string) bool {
	return slices.Contains(i.Actions, name)
}

// Capabilities is the document published on the register topic.
type Capabilities struct {
	ID      string   `json:"id"`
	Type    string   `json:"type"`
	Actions []string `json:"actions"`
	Sensors []string `json:"sensors,omitempty"`
}

// Capabilities returns the capability document for i. Actions is never
// null so controllers can range over it unconditionally.
func (i Identity) Capabilities() Capabilities {
	actions := i.Actions
	if actions == nil {
		actions = []string{}
	}
	return Capabilities{
		ID:      i.ID,
		Type:    i.Type,
		Actions: actions,
		Sensors: i.Sensors,
	}
}

// MarshalCapabilities encodes the capability document as JSON.
func (i Identity) MarshalCapabilities() ([]byte, error) {
	data, err := json.Marshal(i.Capabilities())
	if err != nil {
		return nil, fmt.Errorf("marshalling capabilities: %w", err)
	}
	return data, nil
}
