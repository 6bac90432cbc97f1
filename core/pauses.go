package core

import (
	"strings"

	"yieldvault/core/state"
	nativecommon "yieldvault/native/common"
)

// Modules that honour the pause switch.
var pausableModules = map[string]struct{}{
	"token":   {},
	"lending": {},
	"amm":     {},
	"farm":    {},
}

type pauseRecord struct {
	Paused bool
}

// pauseRegistry keeps module pause flags in protocol state so toggles are
// committed and reverted like any other write.
type pauseRegistry struct {
	state *state.Manager
}

func pauseKey(module string) []byte { return nativecommon.Key("system/pause", module) }

// IsPaused implements nativecommon.PauseView. Unreadable flags count as
// paused.
func (p *pauseRegistry) IsPaused(module string) bool {
	var record pauseRecord
	ok, err := p.state.KVGet(pauseKey(module), &record)
	if err != nil {
		return true
	}
	return ok && record.Paused
}

func (p *pauseRegistry) set(module string, paused bool) error {
	module = strings.ToLower(strings.TrimSpace(module))
	if _, ok := pausableModules[module]; !ok {
		return ErrUnknownModule
	}
	if p.IsPaused(module) == paused {
		return nativecommon.ErrSameValue
	}
	return p.state.KVPut(pauseKey(module), pauseRecord{Paused: paused})
}
