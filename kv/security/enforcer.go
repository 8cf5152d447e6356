package security

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

// ErrUnauthorized is returned when a principal lacks the privilege for an action.
type ErrUnauthorized struct {
	Principal Principal
	Entity    string
	Action    Action
}

func (e *ErrUnauthorized) Error() string {
	return fmt.Sprintf("principal %s is not authorized to perform %s on %s", e.Principal, e.Action, e.Entity)
}

func IsUnauthorized(err error) bool {
	_, ok := errors.Cause(err).(*ErrUnauthorized)
	return ok
}

type privilegeSet map[Privilege]struct{}

func (s privilegeSet) allows(entity string, action Action) bool {
	if _, ok := s[Privilege{Entity: entity, Action: action}]; ok {
		return true
	}
	_, ok := s[Privilege{Entity: entity, Action: ActionAdmin}]
	return ok
}

type cachedPrivileges struct {
	set      privilegeSet
	loadedAt time.Time
}

// Enforcer checks privileges against a PrivilegesManager, caching the privilege set of the
// most recently seen principals. A cached set is reloaded once it is older than the ttl, so
// revocations made elsewhere take effect within one ttl. A zero ttl keeps sets until they are
// evicted or invalidated.
type Enforcer struct {
	pm    PrivilegesManager
	cache *lru.Cache
	ttl   time.Duration
	now   func() time.Time
}

func NewEnforcer(pm PrivilegesManager, cacheSize int, ttl time.Duration) (*Enforcer, error) {
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Enforcer{pm: pm, cache: cache, ttl: ttl, now: time.Now}, nil
}

// Enforce returns nil if principal may perform action on entity and *ErrUnauthorized if not.
// Lookup failures are returned as they are.
func (e *Enforcer) Enforce(ctx context.Context, principal Principal, entity string, action Action) error {
	set, err := e.privileges(ctx, principal)
	if err != nil {
		return err
	}
	if !set.allows(entity, action) {
		log.Debug("authorization denied", zap.Stringer("principal", principal), zap.String("entity", entity), zap.String("action", string(action)))
		return &ErrUnauthorized{Principal: principal, Entity: entity, Action: action}
	}
	return nil
}

// Invalidate drops the cached privileges of principal, forcing the next check to reload them.
func (e *Enforcer) Invalidate(principal Principal) {
	e.cache.Remove(principal)
}

func (e *Enforcer) InvalidateAll() {
	e.cache.Purge()
}

func (e *Enforcer) privileges(ctx context.Context, principal Principal) (privilegeSet, error) {
	now := e.now()
	if v, ok := e.cache.Get(principal); ok {
		cached := v.(cachedPrivileges)
		if e.ttl <= 0 || now.Sub(cached.loadedAt) < e.ttl {
			return cached.set, nil
		}
		e.cache.Remove(principal)
	}
	list, err := e.pm.ListPrivileges(ctx, principal)
	if err != nil {
		return nil, errors.Annotatef(err, "list privileges of %s", principal)
	}
	set := make(privilegeSet, len(list))
	for _, p := range list {
		set[p] = struct{}{}
	}
	e.cache.Add(principal, cachedPrivileges{set: set, loadedAt: now})
	return set, nil
}
