package security

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pingcap/errors"
)

type PrincipalType string

const (
	PrincipalUser  PrincipalType = "USER"
	PrincipalGroup PrincipalType = "GROUP"
	PrincipalRole  PrincipalType = "ROLE"
)

// Principal is the identity privileges are granted to.
type Principal struct {
	Name string        `json:"name"`
	Type PrincipalType `json:"type"`
}

func NewUser(name string) Principal {
	return Principal{Name: name, Type: PrincipalUser}
}

func (p Principal) String() string {
	return fmt.Sprintf("%s:%s", strings.ToLower(string(p.Type)), p.Name)
}

type Action string

const (
	ActionRead    Action = "READ"
	ActionWrite   Action = "WRITE"
	ActionExecute Action = "EXECUTE"
	ActionAdmin   Action = "ADMIN"
)

func (a Action) valid() bool {
	switch a {
	case ActionRead, ActionWrite, ActionExecute, ActionAdmin:
		return true
	}
	return false
}

// ParseAction accepts action names in any case.
func ParseAction(s string) (Action, error) {
	a := Action(strings.ToUpper(s))
	if !a.valid() {
		return "", errors.Errorf("unknown action %q", s)
	}
	return a, nil
}

// Privilege allows one action on one entity. Entities are queue names or other resource
// strings; ADMIN on an entity implies every other action on it.
type Privilege struct {
	Entity string `json:"entity"`
	Action Action `json:"action"`
}

func (p Privilege) String() string {
	return fmt.Sprintf("%s on %s", p.Action, p.Entity)
}

// PrivilegesManager modifies and lists privileges.
type PrivilegesManager interface {
	Grant(ctx context.Context, entity string, principal Principal, actions []Action) error
	Revoke(ctx context.Context, entity string, principal Principal, actions []Action) error
	// RevokeAll drops every privilege on entity for every principal.
	RevokeAll(ctx context.Context, entity string) error
	ListPrivileges(ctx context.Context, principal Principal) ([]Privilege, error)
}

// MemPrivilegesManager keeps privileges in memory. It backs tests and the serving side of the
// remote protocol.
type MemPrivilegesManager struct {
	mu         sync.RWMutex
	privileges map[Principal]map[Privilege]struct{}
}

func NewMemPrivilegesManager() *MemPrivilegesManager {
	return &MemPrivilegesManager{privileges: make(map[Principal]map[Privilege]struct{})}
}

func (m *MemPrivilegesManager) Grant(_ context.Context, entity string, principal Principal, actions []Action) error {
	if err := checkActions(actions); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.privileges[principal]
	if !ok {
		set = make(map[Privilege]struct{})
		m.privileges[principal] = set
	}
	for _, a := range actions {
		set[Privilege{Entity: entity, Action: a}] = struct{}{}
	}
	return nil
}

func (m *MemPrivilegesManager) Revoke(_ context.Context, entity string, principal Principal, actions []Action) error {
	if err := checkActions(actions); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.privileges[principal]
	for _, a := range actions {
		delete(set, Privilege{Entity: entity, Action: a})
	}
	if len(set) == 0 {
		delete(m.privileges, principal)
	}
	return nil
}

func (m *MemPrivilegesManager) RevokeAll(_ context.Context, entity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for principal, set := range m.privileges {
		for p := range set {
			if p.Entity == entity {
				delete(set, p)
			}
		}
		if len(set) == 0 {
			delete(m.privileges, principal)
		}
	}
	return nil
}

func (m *MemPrivilegesManager) ListPrivileges(_ context.Context, principal Principal) ([]Privilege, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]Privilege, 0, len(m.privileges[principal]))
	for p := range m.privileges[principal] {
		result = append(result, p)
	}
	sortPrivileges(result)
	return result, nil
}

func checkActions(actions []Action) error {
	for _, a := range actions {
		if !a.valid() {
			return errors.Errorf("unknown action %q", a)
		}
	}
	return nil
}

func sortPrivileges(ps []Privilege) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Entity != ps[j].Entity {
			return ps[i].Entity < ps[j].Entity
		}
		return ps[i].Action < ps[j].Action
	})
}
