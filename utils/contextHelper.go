package utils

import (
	"context"

	"github.com/mmdatafocus/terminal_sync/appctx"
)

var (
	ContextKeyCorrelationId   = appctx.ContextKeyCorrelationId
	ContextKeyTerminalId      = appctx.ContextKeyTerminalId
	ContextKeySchoolId        = appctx.ContextKeySchoolId
	ContextKeyCredentialId    = appctx.ContextKeyCredentialId
	ContextKeySkipSchoolScope = appctx.ContextKeySkipSchoolScope
)

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func GetTerminalIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyTerminalId)
}

func SetTerminalIdInContext(ctx context.Context, terminalId string) context.Context {
	return appctx.Set(ctx, ContextKeyTerminalId, terminalId)
}

func GetSchoolIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeySchoolId)
}

func SetSchoolIdInContext(ctx context.Context, schoolId string) context.Context {
	return appctx.Set(ctx, ContextKeySchoolId, schoolId)
}

func GetCredentialIdFromContext(ctx context.Context) (uint, bool) {
	return appctx.GetUint(ctx, ContextKeyCredentialId)
}

func SetCredentialIdInContext(ctx context.Context, credentialId uint) context.Context {
	return appctx.Set(ctx, ContextKeyCredentialId, credentialId)
}

func SetSkipSchoolScopeInContext(ctx context.Context, skip bool) context.Context {
	return appctx.Set(ctx, ContextKeySkipSchoolScope, skip)
}
