package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// ErrUnauthenticated 缺少调用方身份
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrForbidden 调用方无权执行该操作
var ErrForbidden = errors.New("forbidden")

// Identity 调用方身份。令牌本身不解析，由上游网关签发和校验。
type Identity struct {
	UserID string
	Role   string
	Token  string
}

// Authorizer 业务鉴权
type Authorizer interface {
	// AuthorizeStart 是否允许为该面试开始监控
	AuthorizeStart(ctx context.Context, id Identity, interviewID string) error
	// AuthorizeSession 是否允许访问该面试下的监控会话
	AuthorizeSession(ctx context.Context, id Identity, interviewID string) error
}

// RoleAuthorizer 按角色白名单控制开始监控，其余会话操作只要求已认证
type RoleAuthorizer struct {
	mu    sync.RWMutex
	roles map[string]struct{}
}

// NewRoleAuthorizer 创建角色鉴权
func NewRoleAuthorizer(startRoles []string) *RoleAuthorizer {
	a := &RoleAuthorizer{}
	a.SetStartRoles(startRoles)
	return a
}

// SetStartRoles 更新允许开始监控的角色（配置热重载）
func (a *RoleAuthorizer) SetStartRoles(roles []string) {
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		set[strings.ToUpper(strings.TrimSpace(r))] = struct{}{}
	}
	a.mu.Lock()
	a.roles = set
	a.mu.Unlock()
}

func (a *RoleAuthorizer) AuthorizeStart(_ context.Context, id Identity, interviewID string) error {
	a.mu.RLock()
	_, ok := a.roles[strings.ToUpper(id.Role)]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: role %q cannot start monitoring for interview %s", ErrForbidden, id.Role, interviewID)
	}
	return nil
}

func (a *RoleAuthorizer) AuthorizeSession(_ context.Context, id Identity, _ string) error {
	if id.UserID == "" {
		return ErrUnauthenticated
	}
	return nil
}

// identityFromRequest 从请求头提取身份。WebSocket握手无法自定义头时可用查询参数。
func identityFromRequest(r *http.Request) (Identity, error) {
	token := ""
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	id := Identity{
		Token:  token,
		UserID: r.Header.Get("X-User-ID"),
		Role:   r.Header.Get("X-User-Role"),
	}

	if isWebSocketUpgrade(r) {
		q := r.URL.Query()
		if id.Token == "" {
			id.Token = q.Get("access_token")
		}
		if id.UserID == "" {
			id.UserID = q.Get("user_id")
		}
		if id.Role == "" {
			id.Role = q.Get("role")
		}
	}

	if id.Token == "" || id.UserID == "" {
		return Identity{}, ErrUnauthenticated
	}
	return id, nil
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

type identityKey struct{}

func withIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom 取出中间件写入的身份
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
