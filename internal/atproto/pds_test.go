package atproto

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// fakePDS is a minimal personal data server: one account, append-only
// collections listed newest first, cursors are record keys.
type fakePDS struct {
	t        *testing.T
	mu       sync.Mutex
	did      string
	handle   string
	password string

	accessTTL   time.Duration
	access      string
	refreshTok  string
	expireNext  bool
	failList    int
	refreshes   int
	deletes     int
	deleteFails bool
	// emptySession answers createSession with 200 and no identity.
	emptySession bool
	seq         int
	records     map[string][]RecordView
	lastQuery   map[string][]string
	calls       map[string]int
}

func newFakePDS(t *testing.T) (*fakePDS, *httptest.Server) {
	t.Helper()
	p := &fakePDS{
		t:         t,
		did:       "did:plc:abc",
		handle:    "alice.test",
		password:  "hunter22",
		accessTTL: time.Hour,
		records:   map[string][]RecordView{},
		calls:     map[string]int{},
	}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return p, srv
}

func (p *fakePDS) token(kind string, ttl time.Duration) string {
	p.seq++
	claims := jwt.RegisteredClaims{
		Subject:   p.did,
		ID:        fmt.Sprintf("%s-%d", kind, p.seq),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("pds-secret"))
	if err != nil {
		p.t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (p *fakePDS) issue() map[string]string {
	p.access = p.token("access", p.accessTTL)
	p.refreshTok = p.token("refresh", 24*time.Hour)
	return map[string]string{"did": p.did, "handle": p.handle, "accessJwt": p.access, "refreshJwt": p.refreshTok}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func xrpcErr(w http.ResponseWriter, status int, name, msg string) {
	writeJSON(w, status, map[string]string{"error": name, "message": msg})
}

func (p *fakePDS) bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (p *fakePDS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	nsid := strings.TrimPrefix(r.URL.Path, "/xrpc/")
	p.calls[nsid]++

	switch nsid {
	case "com.atproto.server.createSession":
		var body struct{ Identifier, Password string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Identifier != p.handle || body.Password != p.password {
			xrpcErr(w, http.StatusUnauthorized, "AuthenticationRequired", "Invalid identifier or password")
			return
		}
		if p.emptySession {
			writeJSON(w, http.StatusOK, map[string]string{})
			return
		}
		writeJSON(w, http.StatusOK, p.issue())
		return
	case "com.atproto.server.refreshSession":
		if p.bearer(r) != p.refreshTok {
			xrpcErr(w, http.StatusBadRequest, "ExpiredToken", "Token has been revoked")
			return
		}
		p.refreshes++
		writeJSON(w, http.StatusOK, p.issue())
		return
	case "com.atproto.server.deleteSession":
		p.deletes++
		if p.deleteFails {
			xrpcErr(w, http.StatusInternalServerError, "InternalServerError", "revoke failed")
			return
		}
		p.access, p.refreshTok = "", ""
		w.WriteHeader(http.StatusOK)
		return
	}

	if p.bearer(r) == "" || p.bearer(r) != p.access {
		xrpcErr(w, http.StatusUnauthorized, "AuthenticationRequired", "Authentication Required")
		return
	}
	if p.expireNext {
		p.expireNext = false
		xrpcErr(w, http.StatusBadRequest, "ExpiredToken", "Token has expired")
		return
	}

	switch nsid {
	case "app.bsky.actor.getProfile":
		writeJSON(w, http.StatusOK, map[string]any{"did": p.did, "handle": p.handle, "displayName": "Alice", "avatar": ""})
	case "com.atproto.repo.createRecord":
		var in struct {
			Repo       string          `json:"repo"`
			Collection string          `json:"collection"`
			Record     json.RawMessage `json:"record"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			xrpcErr(w, http.StatusBadRequest, "InvalidRequest", err.Error())
			return
		}
		p.seq++
		rkey := fmt.Sprintf("3k%06d", p.seq)
		uri := fmt.Sprintf("at://%s/%s/%s", in.Repo, in.Collection, rkey)
		rec := RecordView{URI: uri, CID: "bafy" + rkey, Value: in.Record}
		p.records[in.Collection] = append([]RecordView{rec}, p.records[in.Collection]...)
		writeJSON(w, http.StatusOK, map[string]string{"uri": uri, "cid": rec.CID})
	case "com.atproto.repo.listRecords":
		q := r.URL.Query()
		p.lastQuery = q
		if p.failList > 0 {
			p.failList--
			xrpcErr(w, http.StatusBadGateway, "UpstreamFailure", "upstream unavailable")
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		all := p.records[q.Get("collection")]
		start := 0
		if cursor := q.Get("cursor"); cursor != "" {
			for i, rec := range all {
				if strings.HasSuffix(rec.URI, "/"+cursor) {
					start = i + 1
				}
			}
		}
		end := start + limit
		if end > len(all) {
			end = len(all)
		}
		page := all[start:end]
		out := map[string]any{"records": page}
		if len(page) > 0 {
			last := page[len(page)-1].URI
			out["cursor"] = last[strings.LastIndex(last, "/")+1:]
		}
		writeJSON(w, http.StatusOK, out)
	default:
		xrpcErr(w, http.StatusNotImplemented, "MethodNotImplemented", nsid)
	}
}
