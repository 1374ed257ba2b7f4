// demo-backend is an in-memory stand-in for the conference API, for trying
// the dashboard and the register command locally.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"munportal/internal/api"
)

type backend struct {
	user, pass string

	mu     sync.Mutex
	tokens map[string]bool
	regs   map[api.Kind][]api.Registration
}

func main() {
	addr := flag.String("addr", ":9000", "listen address")
	user := flag.String("user", "secretariat", "admin username")
	pass := flag.String("pass", "secretariat", "admin password")
	flag.Parse()

	b := &backend{
		user:   *user,
		pass:   *pass,
		tokens: map[string]bool{},
		regs:   map[api.Kind][]api.Registration{},
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/api/check-email", b.checkEmail)
	// One route per kind: a {kind} parameter would stop at the dash in
	// "first-round".
	for _, kind := range api.Kinds {
		r.Post("/api/"+string(kind)+"-register", b.register(kind))
	}

	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/login", b.login)
		r.Group(func(r chi.Router) {
			r.Use(b.auth)
			r.Get("/me", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, api.Admin{Username: b.user, Role: "admin"})
			})
			for _, kind := range api.Kinds {
				base := "/" + string(kind) + "-registrations"
				r.Get(base, b.list(kind))
				r.Get(base+"/{id}", b.detail(kind))
				r.Get(base+"/{id}/screenshot", b.screenshot(kind))
			}
		})
	})

	log.Printf("demo-backend listening on %s", *addr)
	log.Fatal(http.ListenAndServe(*addr, r))
}

func (b *backend) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		b.mu.Lock()
		ok := b.tokens[token]
		b.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *backend) login(w http.ResponseWriter, r *http.Request) {
	var creds api.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid json"})
		return
	}
	if creds.Username != b.user || creds.Password != b.pass {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Invalid credentials"})
		return
	}
	token := uuid.NewString()
	b.mu.Lock()
	b.tokens[token] = true
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (b *backend) checkEmail(w http.ResponseWriter, r *http.Request) {
	email := strings.ToLower(r.URL.Query().Get("email"))
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, regs := range b.regs {
		for _, reg := range regs {
			if strings.ToLower(reg.Email) == email {
				writeJSON(w, http.StatusOK, map[string]bool{"exists": true})
				return
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"exists": false})
}

func (b *backend) register(kind api.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var reg api.Registration
		if err := json.NewDecoder(r.Body).Decode(&reg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid json"})
			return
		}
		reg.ID = uuid.NewString()
		reg.Kind = kind
		reg.CreatedAt = time.Now().UTC()

		b.mu.Lock()
		b.regs[kind] = append(b.regs[kind], reg)
		b.mu.Unlock()
		writeJSON(w, http.StatusCreated, api.Submission{ID: reg.ID, Message: "Registration submitted successfully"})
	}
}

func (b *backend) list(kind api.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := api.FilterFromQuery(r.URL.Query())

		b.mu.Lock()
		defer b.mu.Unlock()
		out := []api.Registration{}
		for _, reg := range b.regs[kind] {
			if matches(reg, f) {
				reg.Payment.Screenshot = ""
				out = append(out, reg)
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func matches(reg api.Registration, f api.Filter) bool {
	if f.TargetAudience != "" && reg.TargetAudience != f.TargetAudience {
		return false
	}
	if f.College != "" && !strings.EqualFold(reg.Institution, f.College) {
		return false
	}
	if f.FirstPreferenceCommittee != "" && reg.FirstPreference() != f.FirstPreferenceCommittee {
		return false
	}
	if f.Committee == "" && f.Country == "" {
		return true
	}
	for _, p := range reg.Preferences {
		if f.Committee != "" && p.Committee != f.Committee {
			continue
		}
		if f.Country == "" {
			return true
		}
		for _, c := range p.Countries {
			if strings.EqualFold(c, f.Country) {
				return true
			}
		}
	}
	return false
}

func (b *backend) find(kind api.Kind, r *http.Request) (api.Registration, bool) {
	id := chi.URLParam(r, "id")
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, reg := range b.regs[kind] {
		if reg.ID == id {
			return reg, true
		}
	}
	return api.Registration{}, false
}

func (b *backend) detail(kind api.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg, ok := b.find(kind, r)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Registration not found"})
			return
		}
		reg.Payment.Screenshot = ""
		writeJSON(w, http.StatusOK, reg)
	}
}

func (b *backend) screenshot(kind api.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg, ok := b.find(kind, r)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"message": "Registration not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"screenshot": reg.Payment.Screenshot})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
