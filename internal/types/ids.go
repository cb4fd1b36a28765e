// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type TurnID string
type ScriptID string

func NewTurnID() TurnID {
	return TurnID(uuid.New().String())
}

func NewScriptID() ScriptID {
	return ScriptID(uuid.New().String())
}
