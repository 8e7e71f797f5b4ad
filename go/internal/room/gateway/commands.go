package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/dibslive/dibs/go/internal/models"
	"github.com/dibslive/dibs/go/internal/room/gate"
)

// CommandType enumerates the commands a client may issue. The variant is
// closed: anything else is rejected before it reaches room state.
type CommandType string

const (
	CmdSendChat       CommandType = "SendChat"
	CmdPlaceBid       CommandType = "PlaceBid"
	CmdSelectItem     CommandType = "SelectItem"
	CmdSetStartPrice  CommandType = "SetStartPrice"
	CmdStartAuction   CommandType = "StartAuction"
	CmdStopAuction    CommandType = "StopAuction"
	CmdSetRestriction CommandType = "SetRestriction"
	CmdKickUser       CommandType = "KickUser"
	CmdSetPublishing  CommandType = "SetPublishing"
)

// Command is the wire format for client commands. Fields beyond Type are
// populated per variant.
type Command struct {
	Type CommandType `json:"type"`

	// SendChat
	Text string `json:"text,omitempty"`

	// PlaceBid / SetStartPrice
	Amount int64 `json:"amount,omitempty"`

	// SelectItem
	Item *models.ItemSnapshot `json:"item,omitempty"`

	// SetRestriction / KickUser
	TargetSessionKey string                 `json:"targetSessionKey,omitempty"`
	Restriction      models.RestrictionKind `json:"restriction,omitempty"`
	Value            bool                   `json:"value,omitempty"`

	// SetPublishing
	Live bool `json:"live,omitempty"`
}

// ParseCommand decodes a raw client frame into a Command.
func ParseCommand(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, fmt.Errorf("malformed command: %w", err)
	}
	if cmd.Type == "" {
		return Command{}, fmt.Errorf("command has no type")
	}
	return cmd, nil
}

// actionFor maps a command to the gate action it must clear. Unknown commands
// report ok=false and are rejected as malformed input before the gate runs.
func actionFor(typ CommandType) (gate.Action, bool) {
	switch typ {
	case CmdSendChat:
		return gate.ActionChat, true
	case CmdPlaceBid:
		return gate.ActionBid, true
	case CmdSelectItem, CmdSetStartPrice, CmdStartAuction, CmdSetPublishing:
		return gate.ActionStartAuction, true
	case CmdStopAuction:
		return gate.ActionStopAuction, true
	case CmdSetRestriction, CmdKickUser:
		return gate.ActionModerate, true
	default:
		return gate.Action(""), false
	}
}
