package auth

import (
	"context"
	"log/slog"

	"AgentTx-ERC20/pkg/logger"
)

type subjectKey struct{}

// WithSubject 记录已认证的调用方，并把调用方名称加入日志上下文，
// 之后的阶段日志与审计记录都会带上 caller 字段。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	subject.normalise()
	ctx = context.WithValue(ctx, subjectKey{}, subject)
	return logger.WithAttrs(ctx, slog.String("caller", subject.Name))
}

// SubjectFromContext 取出已认证的调用方，未认证时返回 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	subject, _ := ctx.Value(subjectKey{}).(*Subject)
	return subject
}

// CallerName 返回调用方名称；认证关闭时为 "anonymous"。
func CallerName(ctx context.Context) string {
	if subject := SubjectFromContext(ctx); subject != nil && subject.Name != "" {
		return subject.Name
	}
	return "anonymous"
}
