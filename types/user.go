package types

import "strings"

// Identity is the resolved identity of one live connection. A user may be connected
// several times (multiple tabs), each connection carries its own Identity.
type Identity struct {
	UserId      string `json:"user_id" mapstructure:"user_id"`
	DisplayName string `json:"display_name" mapstructure:"display_name"`
}

func (i Identity) Valid() bool {
	return strings.TrimSpace(i.UserId) != "" && strings.TrimSpace(i.DisplayName) != ""
}
