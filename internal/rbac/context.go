package rbac

import (
	"context"

	"github.com/pkg/errors"
)

// ErrForbidden is the cause of every permission failure.
var ErrForbidden = errors.New("forbidden")

// Principal is the signed-in user an operation runs on behalf of.
type Principal struct {
	Username string
	Role     string
}

type ctxKey struct{}

var ctxKeyPrincipal = ctxKey{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal).(Principal)
	return p, ok && p.Username != ""
}

func RoleFromContext(ctx context.Context) string {
	p, _ := PrincipalFromContext(ctx)
	return p.Role
}

var defaultChecker = NewChecker(nil)

// Require returns the principal in ctx if its role grants perm.
func Require(ctx context.Context, perm string) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, errors.Wrapf(ErrForbidden, "%s: not signed in", perm)
	}
	if !defaultChecker.Has(p.Role, perm) {
		return Principal{}, errors.Wrapf(ErrForbidden, "%s: role %s lacks permission", perm, p.Role)
	}
	return p, nil
}

// RequireOwnerOr passes when the principal is owner or holds perm.
func RequireOwnerOr(ctx context.Context, owner, perm string) (Principal, error) {
	p, ok := PrincipalFromContext(ctx)
	if ok && p.Username == owner {
		return p, nil
	}
	return Require(ctx, perm)
}

func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }
