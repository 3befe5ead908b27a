package policy

import (
	"context"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
	"github.com/wasmcmd-dev/wasmcmd/domain/ports"
)

// Strategy names as they appear on the command line and in audit logs.
const (
	NameDefault    = "default"
	NameStrict     = "strict"
	NamePermissive = "permissive"
	NameCI         = "ci"
	NameTrustAll   = "trust-all"
)

// Default prompts the user for filesystem, environment and stdio
// requests and denies everything when no prompter can reach a user.
// Network access is denied unconditionally.
type Default struct{}

func NewDefault() *Default { return &Default{} }

func (*Default) Name() string { return NameDefault }

func (*Default) Decide(_ context.Context, _ string, req entities.CapabilityRequest) ports.StrategyOutcome {
	if req.Kind == entities.KindNet {
		return ports.OutcomeDeny
	}
	return ports.OutcomePrompt
}

// Strict denies every request that has no stored grant. It never
// prompts, even when a user is available.
type Strict struct{}

func NewStrict() *Strict { return &Strict{} }

func (*Strict) Name() string { return NameStrict }

func (*Strict) Decide(context.Context, string, entities.CapabilityRequest) ports.StrategyOutcome {
	return ports.OutcomeDeny
}

// Permissive grants filesystem, environment and stdio requests for the
// session without prompting. Network access is still denied.
type Permissive struct{}

func NewPermissive() *Permissive { return &Permissive{} }

func (*Permissive) Name() string { return NamePermissive }

func (*Permissive) Decide(_ context.Context, _ string, req entities.CapabilityRequest) ports.StrategyOutcome {
	if req.Kind == entities.KindNet {
		return ports.OutcomeDeny
	}
	return ports.OutcomeAllowSession
}

// CI honors stored persistent grants and denies everything else. It is
// meant for non-interactive environments where grants are provisioned
// ahead of time via trust directives or a checked-in grant file.
type CI struct{}

func NewCI() *CI { return &CI{} }

func (*CI) Name() string { return NameCI }

func (*CI) Decide(context.Context, string, entities.CapabilityRequest) ports.StrategyOutcome {
	return ports.OutcomeDeny
}

// TrustAll grants every request, network included, for the session.
// Development use only.
type TrustAll struct{}

func NewTrustAll() *TrustAll { return &TrustAll{} }

func (*TrustAll) Name() string { return NameTrustAll }

func (*TrustAll) Decide(context.Context, string, entities.CapabilityRequest) ports.StrategyOutcome {
	return ports.OutcomeAllowSession
}

// ByName returns the strategy registered under name, or ok=false for an
// unknown name.
func ByName(name string) (ports.Strategy, bool) {
	switch name {
	case NameDefault:
		return NewDefault(), true
	case NameStrict:
		return NewStrict(), true
	case NamePermissive:
		return NewPermissive(), true
	case NameCI:
		return NewCI(), true
	case NameTrustAll:
		return NewTrustAll(), true
	}
	return nil, false
}
