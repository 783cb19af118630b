// Package capability models caller authorization as an explicit value passed
// into audit operations. The core never derives permissions from transport
// identity; whoever constructs the Capability (HTTP middleware, a worker, a
// test) has already authenticated the caller.
package capability

// Operation names a core audit operation a capability may grant.
type Operation string

const (
	OpAppend Operation = "audit:append"
	OpRead   Operation = "audit:read"
	OpVerify Operation = "audit:verify"
	OpExport Operation = "audit:export"
)

// Capability carries the caller identity and the set of granted operations.
// The zero value grants nothing.
type Capability struct {
	Subject    string
	Operations map[Operation]bool
}

// New builds a capability for subject granting the listed operations.
func New(subject string, ops ...Operation) Capability {
	granted := make(map[Operation]bool, len(ops))
	for _, op := range ops {
		granted[op] = true
	}
	return Capability{Subject: subject, Operations: granted}
}

// System returns a capability granting every operation, for internal callers
// such as startup checks and background workers.
func System(subject string) Capability {
	return New(subject, OpAppend, OpRead, OpVerify, OpExport)
}

// Allows reports whether the capability grants op.
func (c Capability) Allows(op Operation) bool {
	return c.Operations[op]
}
