package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/zeroxmods/certmint/pkg/response"
)

const RoleAdmin = "admin"

// Claims 管理端 token 载荷
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AdminAuth 校验 HS256 Bearer token，要求 role=admin
func AdminAuth(secret, issuer string) gin.HandlerFunc {
	key := []byte(secret)
	return func(c *gin.Context) {
		if secret == "" {
			response.Unauthorized(c, "admin api disabled")
			c.Abort()
			return
		}
		raw, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || raw == "" {
			response.Unauthorized(c, "missing bearer token")
			c.Abort()
			return
		}

		claims := &Claims{}
		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
		if issuer != "" {
			opts = append(opts, jwt.WithIssuer(issuer))
		}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return key, nil
		}, opts...)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}
		if claims.Role != RoleAdmin {
			response.Error(c, 403, "admin role required")
			c.Abort()
			return
		}
		c.Set("admin_subject", claims.Subject)
		c.Next()
	}
}

// IssueAdminToken 签发管理端 token，运维脚本与测试使用
func IssueAdminToken(secret, issuer, subject string, claims jwt.RegisteredClaims) (string, error) {
	claims.Issuer = issuer
	claims.Subject = subject
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: RoleAdmin, RegisteredClaims: claims})
	return tok.SignedString([]byte(secret))
}
