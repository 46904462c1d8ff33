// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package blockmodel

// ValidatorFunc is the only executable part of a Plugin: a narrow
// function over response bytes, permitted to return false or a
// whitelisted error (ValidatorError), never to block or panic.
type ValidatorFunc func(response []byte) (bool, error)

// ValidatorError is the one error kind a ValidatorFunc may legitimately
// return; anything else is a programming error in the plugin, not a
// classification the orchestrator understands.
type ValidatorError struct {
	Kind    string
	Message string
}

func (e *ValidatorError) Error() string {
	return e.Kind + ": " + e.Message
}

// Plugin is a declarative record: schemas plus, optionally, a validator
// function. Presence of StateModel/HeartbeatSpec/ProtocolStack are
// capability flags the rest of the engine branches on, per the "plugin
// behavior as data" design note.
type Plugin struct {
	ID string

	DataModel        DataModel
	StateModel       *StateModel
	ProtocolStack    *ProtocolStack
	ConnectionSpec   *ConnectionSpec
	HeartbeatSpec    *HeartbeatSpec
	Exports          map[string]Export
	Validator        ValidatorFunc

	// Source records provenance; plugin.Loader sets it to the path of the
	// file the plugin was loaded from.
	Source string
}

// HasStateModel reports whether p declares a state machine.
func (p *Plugin) HasStateModel() bool { return p.StateModel != nil }

// HasHeartbeat reports whether p declares a heartbeat spec.
func (p *Plugin) HasHeartbeat() bool { return p.HeartbeatSpec != nil }

// HasProtocolStack reports whether p declares a multi-stage protocol
// stack; without one, the orchestrator treats the whole session as a
// single fuzz_target stage.
func (p *Plugin) HasProtocolStack() bool { return p.ProtocolStack != nil }
