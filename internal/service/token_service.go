package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt"
)

const defaultTokenTTL = 30 * 24 * time.Hour

// ErrInvalidToken 令牌无法解析、签名错误或已过期
var ErrInvalidToken = errors.New("invalid token")

// TokenClaims 是 API 客户端令牌携带的身份信息
type TokenClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
	jwt.StandardClaims
}

// TokenService 签发与校验 HS256 令牌
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService 构造 TokenService，ttl 为 0 时使用 30 天
func NewTokenService(secret string, ttl time.Duration) *TokenService {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue 为用户签发令牌
func (s *TokenService) Issue(userID, username string) (string, time.Time, error) {
	if len(s.secret) == 0 {
		return "", time.Time{}, errors.New("issue token: secret not configured")
	}
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := &TokenClaims{
		UserID:   userID,
		Username: username,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: expiresAt.Unix(),
			Issuer:    "flowly",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify 校验令牌并返回其中的身份
func (s *TokenService) Verify(raw string) (*TokenClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(s.secret) == 0 {
		return nil, ErrInvalidToken
	}
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// UserIDFromCode 把令牌当作聊天机器人的绑定码解析，签名与 bot.VerifyFunc 一致
func (s *TokenService) UserIDFromCode(code string) (string, error) {
	claims, err := s.Verify(code)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}
