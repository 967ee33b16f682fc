package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"Leno-Agent/pkg/logger"
)

// claims 是签发与校验时使用的令牌载荷。
type claims struct {
	Scope []string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Service 负责 HTTP 端点的身份验证。
type Service struct {
	mode     Mode
	secret   []byte
	issuer   string
	audience string
	tokens   [][sha256.Size]byte
	audit    *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode:  mode,
		audit: logger.Audit(),
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
		if strings.TrimSpace(cfg.JWT.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		svc.secret = []byte(cfg.JWT.Secret)
		svc.issuer = cfg.JWT.Issuer
		svc.audience = cfg.JWT.Audience
	case ModeToken:
		for _, token := range cfg.Tokens {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			svc.tokens = append(svc.tokens, sha256.Sum256([]byte(token)))
		}
		if len(svc.tokens) == 0 {
			return nil, errors.New("token mode requires at least one token")
		}
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}
	return svc, nil
}

// Mode 返回当前认证模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// AuthenticateRequest 校验 Authorization 头并返回调用方主体。
func (s *Service) AuthenticateRequest(_ context.Context, header string) (*Subject, error) {
	if s == nil || s.mode == ModeDisabled {
		return &Subject{Method: ModeDisabled}, nil
	}
	token, err := bearerToken(header)
	if err != nil {
		return nil, err
	}
	switch s.mode {
	case ModeJWT:
		return s.verifyJWT(token)
	case ModeToken:
		return s.verifyStatic(token)
	default:
		return nil, ErrInvalidToken
	}
}

func (s *Service) verifyJWT(token string) (*Subject, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if s.issuer != "" && !c.VerifyIssuer(s.issuer, true) {
		return nil, ErrInvalidToken
	}
	if s.audience != "" && !c.VerifyAudience(s.audience, true) {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(c.Subject) == "" {
		return nil, ErrInvalidToken
	}
	subject := &Subject{ID: c.Subject, Method: ModeJWT, Scopes: c.Scope}
	subject.normalise()
	return subject, nil
}

func (s *Service) verifyStatic(token string) (*Subject, error) {
	sum := sha256.Sum256([]byte(token))
	matched := 0
	for i := range s.tokens {
		matched |= subtle.ConstantTimeCompare(sum[:], s.tokens[i][:])
	}
	if matched != 1 {
		return nil, ErrInvalidToken
	}
	return &Subject{ID: "token:" + fmt.Sprintf("%x", sum[:4]), Method: ModeToken}, nil
}

func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrInvalidToken
	}
	return strings.TrimSpace(parts[1]), nil
}

// IssueToken 签发 HS256 访问令牌，供命令行工具与测试使用。
func IssueToken(secret, subject string, ttl time.Duration, issuer string, scopes ...string) (string, error) {
	return issue(secret, subject, "", ttl, issuer, scopes)
}

// IssueTokenForAudience 与 IssueToken 相同，但写入 aud 声明。
func IssueTokenForAudience(secret, subject, audience string, ttl time.Duration, issuer string, scopes ...string) (string, error) {
	return issue(secret, subject, audience, ttl, issuer, scopes)
}

func issue(secret, subject, audience string, ttl time.Duration, issuer string, scopes []string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret must be configured")
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject cannot be empty")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	c := claims{
		Scope: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if audience != "" {
		c.Audience = jwt.ClaimStrings{audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString([]byte(secret))
}
