package security

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/unrolled/render"
	"go.uber.org/zap"
)

const (
	executePath     = "/v1/execute/"
	requestIDHeader = "X-Request-Id"

	opGrant          = "grant"
	opRevoke         = "revoke"
	opRevokeAll      = "revokeAll"
	opListPrivileges = "listPrivileges"
)

// RemotePrivilegesManager forwards privilege operations to a privileges service over HTTP.
// Each operation is a POST to {base}/v1/execute/{op} whose body is the JSON array of the
// operation's arguments.
type RemotePrivilegesManager struct {
	baseURL string
	client  *http.Client
}

func NewRemotePrivilegesManager(baseURL string, timeout time.Duration) *RemotePrivilegesManager {
	return &RemotePrivilegesManager{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (m *RemotePrivilegesManager) Grant(ctx context.Context, entity string, principal Principal, actions []Action) error {
	if _, err := m.executeRequest(ctx, opGrant, entity, principal, actions); err != nil {
		return err
	}
	log.Debug("granted privileges", zap.String("entity", entity), zap.Stringer("principal", principal), zap.Any("actions", actions))
	return nil
}

func (m *RemotePrivilegesManager) Revoke(ctx context.Context, entity string, principal Principal, actions []Action) error {
	if _, err := m.executeRequest(ctx, opRevoke, entity, principal, actions); err != nil {
		return err
	}
	log.Debug("revoked privileges", zap.String("entity", entity), zap.Stringer("principal", principal), zap.Any("actions", actions))
	return nil
}

func (m *RemotePrivilegesManager) RevokeAll(ctx context.Context, entity string) error {
	if _, err := m.executeRequest(ctx, opRevokeAll, entity); err != nil {
		return err
	}
	log.Debug("revoked all privileges", zap.String("entity", entity))
	return nil
}

func (m *RemotePrivilegesManager) ListPrivileges(ctx context.Context, principal Principal) ([]Privilege, error) {
	body, err := m.executeRequest(ctx, opListPrivileges, principal)
	if err != nil {
		return nil, err
	}
	var privileges []Privilege
	if err := json.Unmarshal(body, &privileges); err != nil {
		return nil, errors.Annotatef(err, "decode privileges of %s", principal)
	}
	return privileges, nil
}

func (m *RemotePrivilegesManager) executeRequest(ctx context.Context, op string, args ...interface{}) ([]byte, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	req, err := http.NewRequest(http.MethodPost, m.baseURL+executePath+op, bytes.NewReader(data))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	reqID := uuid.New().String()
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(requestIDHeader, reqID)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, errors.Annotatef(err, "remote op %s", op)
	}
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Warn("remote op failed", zap.String("op", op), zap.String("request-id", reqID), zap.Int("status", resp.StatusCode))
		return nil, errors.Errorf("remote op %s failed with status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// NewPrivilegesHandler serves the remote protocol on top of pm.
func NewPrivilegesHandler(pm PrivilegesManager) http.Handler {
	h := &privilegesHandler{pm: pm, rd: render.New(render.Options{})}
	router := mux.NewRouter()
	router.HandleFunc(executePath+"{op}", h.Execute).Methods("POST")
	return router
}

type privilegesHandler struct {
	pm PrivilegesManager
	rd *render.Render
}

func (h *privilegesHandler) Execute(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var args []json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	op := mux.Vars(r)["op"]
	var (
		entity    string
		principal Principal
		actions   []Action
		err       error
	)
	switch op {
	case opGrant, opRevoke:
		if err = decodeArgs(args, &entity, &principal, &actions); err != nil {
			break
		}
		if op == opGrant {
			err = h.pm.Grant(ctx, entity, principal, actions)
		} else {
			err = h.pm.Revoke(ctx, entity, principal, actions)
		}
	case opRevokeAll:
		if err = decodeArgs(args, &entity); err != nil {
			break
		}
		err = h.pm.RevokeAll(ctx, entity)
	case opListPrivileges:
		if err = decodeArgs(args, &principal); err != nil {
			break
		}
		var privileges []Privilege
		if privileges, err = h.pm.ListPrivileges(ctx, principal); err == nil {
			h.rd.JSON(w, http.StatusOK, privileges)
			return
		}
	default:
		h.rd.JSON(w, http.StatusNotFound, "unknown op "+op)
		return
	}
	if err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	h.rd.JSON(w, http.StatusOK, nil)
}

func decodeArgs(args []json.RawMessage, dst ...interface{}) error {
	if len(args) != len(dst) {
		return errors.Errorf("expected %d arguments, got %d", len(dst), len(args))
	}
	for i, arg := range args {
		if err := json.Unmarshal(arg, dst[i]); err != nil {
			return errors.Annotatef(err, "argument %d", i)
		}
	}
	return nil
}
