package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk/internal/chat"
)

// Capabilities records what the configured chat credentials are allowed to
// do. It is resolved once at startup and passed to the services that need it.
type Capabilities struct {
	// WorkspaceAdmin means the user token can delete whole backend threads,
	// so resolved mirrors are queued for thread cleanup instead of being
	// deleted one message at a time.
	WorkspaceAdmin bool
}

// ResolveCapabilities probes the gateway. Failures degrade to no elevated
// capabilities.
func ResolveCapabilities(ctx context.Context, gateway chat.Gateway, logger *zap.Logger) *Capabilities {
	caps := &Capabilities{}
	if gateway == nil {
		return caps
	}
	admin, err := gateway.WorkspaceAdmin(ctx)
	if err != nil {
		if logger != nil {
			logger.Warn("unable to check workspace admin capability", zap.Error(err))
		}
		return caps
	}
	caps.WorkspaceAdmin = admin
	return caps
}
