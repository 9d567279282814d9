package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Service 负责 HTTP 端点的身份验证和授权。
type Service struct {
	mode Mode
	keys map[[sha256.Size]byte]*Subject
}

// NewService 构造身份认证服务实例。密钥只以摘要形式保存在内存中。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode: mode,
		keys: make(map[[sha256.Size]byte]*Subject),
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeAPIKey:
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}

	for i, kc := range cfg.Keys {
		secret := strings.TrimSpace(kc.Key)
		if kc.KeyEnv != "" {
			if v := strings.TrimSpace(os.Getenv(kc.KeyEnv)); v != "" {
				secret = v
			}
		}
		name := strings.TrimSpace(kc.Name)
		if name == "" {
			name = fmt.Sprintf("key-%d", i+1)
		}
		if secret == "" {
			return nil, fmt.Errorf("api key %s has no secret", name)
		}
		digest := sha256.Sum256([]byte(secret))
		if _, dup := svc.keys[digest]; dup {
			return nil, fmt.Errorf("api key %s duplicates another key", name)
		}
		subject := &Subject{
			Name:        name,
			Permissions: append([]string(nil), kc.Permissions...),
			Disabled:    kc.Disabled,
		}
		subject.normalise()
		svc.keys[digest] = subject
	}
	if len(svc.keys) == 0 {
		return nil, errors.New("api_key mode requires at least one key")
	}
	return svc, nil
}

// Enabled 判断是否需要认证。
func (s *Service) Enabled() bool {
	return s != nil && s.mode != ModeDisabled
}

// AuthenticateRequest 解析 Authorization 头并返回对应的主体。
func (s *Service) AuthenticateRequest(_ context.Context, header string) (*Subject, error) {
	token, ok := bearerToken(header)
	if !ok {
		return nil, ErrMissingToken
	}
	subject, found := s.keys[sha256.Sum256([]byte(token))]
	if !found {
		return nil, ErrInvalidToken
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	return subject, nil
}

func bearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(header[7:])
	return token, token != ""
}
