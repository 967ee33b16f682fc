// Package agent contains the specialised sub-agents the manager delegates
// to. Each sub-agent is a named bundle of description, instruction text and
// tool list loaded from a YAML catalog; it owns a session, exposes its own
// message handler and can be offered to the manager's reasoning loop as a
// delegation tool. The package also provides the shared-state bookkeeping
// and trade confirmation tools agents use to coordinate through sessions.
package agent
