package postgres

import (
	"github.com/ignite/compliance-gate/internal/service/audit"
	"github.com/ignite/compliance-gate/internal/service/consent"
	"github.com/ignite/compliance-gate/internal/service/gate"
	"github.com/ignite/compliance-gate/internal/service/lockdown"
	"github.com/ignite/compliance-gate/internal/service/policy"
	"github.com/ignite/compliance-gate/internal/service/timewindow"
	"github.com/ignite/compliance-gate/internal/service/touch"
)

var (
	_ gate.ContactRepository = (*ContactRepo)(nil)
	_ gate.ControlRepository = (*ControlRepo)(nil)
	_ consent.Repository     = (*ConsentRepo)(nil)
	_ touch.Repository       = (*TouchRepo)(nil)
	_ audit.Repository       = (*AuditRepo)(nil)
	_ policy.Repository      = (*RuleRepo)(nil)
	_ lockdown.Repository    = (*LockdownRepo)(nil)
	_ timewindow.Repository  = (*ContextRepo)(nil)
)
