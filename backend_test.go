package skillswap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

// ============================================================================
// Fake marketplace backend
// ============================================================================

type fakeUser struct {
	ID       int
	Username string
	Password string
	Name     string
	Surname  string
	Skillset []map[string]any
}

func (u fakeUser) record() map[string]any {
	skillset := u.Skillset
	if skillset == nil {
		skillset = []map[string]any{}
	}
	return map[string]any{
		"id":          u.ID,
		"username":    u.Username,
		"name":        u.Name,
		"surname":     u.Surname,
		"avatar_seed": u.Username,
		"full_name":   strings.TrimSpace(u.Name + " " + u.Surname),
		"skillset":    skillset,
	}
}

type fakeBackend struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	users    map[string]*fakeUser
	skills   []map[string]any
	offers   []map[string]any
	chats    []map[string]any
	messages map[string][]map[string]any
	nextID   int
	hits     map[string]int
	fail     map[string]int
	public   map[string]bool
	bodies   map[string]map[string]any
	forms    map[string]map[string]string
	push     chan string
	channels chan string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		t:        t,
		users:    map[string]*fakeUser{},
		messages: map[string][]map[string]any{},
		nextID:   100,
		hits:     map[string]int{},
		fail:     map[string]int{},
		public:   map[string]bool{"signin": true, "signup": true, "skills": true},
		bodies:   map[string]map[string]any{},
		forms:    map[string]map[string]string{},
		push:     make(chan string, 8),
		channels: make(chan string, 8),
	}
	b.addUser(fakeUser{ID: 1, Username: "alice", Password: "secret123", Name: "Alice", Surname: "Smith"})
	b.addUser(fakeUser{ID: 2, Username: "bob", Password: "hunter22", Name: "Bob"})

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(b.record, b.inject, b.auth)

	api.HandleFunc("/auth/signin/", b.signIn).Methods(http.MethodPost).Name("signin")
	api.HandleFunc("/auth/signup/", b.signUp).Methods(http.MethodPost).Name("signup")
	api.HandleFunc("/auth/profile/", b.profile).Methods(http.MethodGet).Name("profile")
	api.HandleFunc("/auth/profile/", b.updateProfile).Methods(http.MethodPut).Name("profile.update")
	api.HandleFunc("/skills/", b.listSkills).Methods(http.MethodGet).Name("skills")
	api.HandleFunc("/offers/", b.listOffers).Methods(http.MethodGet).Name("offers")
	api.HandleFunc("/offers/", b.createOffer).Methods(http.MethodPost).Name("offers.create")
	api.HandleFunc("/offers/{id}/", b.updateOffer).Methods(http.MethodPut).Name("offers.update")
	api.HandleFunc("/offers/{id}/", b.deleteOffer).Methods(http.MethodDelete).Name("offers.delete")
	api.HandleFunc("/chats/", b.listChats).Methods(http.MethodGet).Name("chats")
	api.HandleFunc("/chats/", b.createChat).Methods(http.MethodPost).Name("chats.create")
	api.HandleFunc("/chats/{id}/", b.getChat).Methods(http.MethodGet).Name("chat")
	api.HandleFunc("/chats/{id}/", b.deleteChat).Methods(http.MethodDelete).Name("chats.delete")
	api.HandleFunc("/chats/{id}/messages/", b.chatMessages).Methods(http.MethodGet).Name("chat.messages")
	api.HandleFunc("/messages/", b.sendMessage).Methods(http.MethodPost).Name("messages.create")
	api.HandleFunc("/events/", b.events).Methods(http.MethodGet).Name("events")

	b.server = httptest.NewServer(r)
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) URL() string { return b.server.URL + "/api" }

func (b *fakeBackend) client(opts ...ClientOption) *Client {
	return NewClient(append([]ClientOption{WithBaseURL(b.URL()), WithTimeout(5 * time.Second)}, opts...)...)
}

func (b *fakeBackend) addUser(u fakeUser) {
	b.users[u.Username] = &u
}

func (b *fakeBackend) userByID(id int) *fakeUser {
	for _, u := range b.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

func (b *fakeBackend) addSkill(id int, name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.skills = append(b.skills, map[string]any{"id": id, "name": name})
}

func (b *fakeBackend) addOffer(id int, owner string, title string, teach, learn []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.users[owner]
	b.offers = append(b.offers, map[string]any{
		"id":              id,
		"user":            u.record(),
		"title":           title,
		"description":     "",
		"skills_to_learn": skillObjects(learn),
		"skills_to_teach": skillObjects(teach),
		"learning_format": "online",
		"created_at":      "2025-03-01T10:00:00Z",
	})
}

func (b *fakeBackend) addChat(id int, other string, unread int, updated string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.users[other]
	b.chats = append(b.chats, map[string]any{
		"id": id,
		"other_participant": map[string]any{
			"id": u.ID, "username": u.Username, "name": u.Name, "surname": u.Surname,
		},
		"last_message": nil,
		"unread_count": unread,
		"updated_at":   updated,
	})
}

func (b *fakeBackend) addMessage(chatID int, senderID int, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	key := strconv.Itoa(chatID)
	b.messages[key] = append(b.messages[key], map[string]any{
		"id":         b.nextID,
		"chat":       chatID,
		"sender":     map[string]any{"id": senderID},
		"text":       text,
		"image_url":  nil,
		"created_at": time.Date(2025, 3, 1, 12, 0, len(b.messages[key]), 0, time.UTC).Format(time.RFC3339),
	})
}

// failRoute makes every request to the named route answer with status.
func (b *fakeBackend) failRoute(name string, status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail[name] = status
}

// allowAnonymous lets requests to the named route through without credentials.
func (b *fakeBackend) allowAnonymous(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.public[name] = true
}

func (b *fakeBackend) clearFailures() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fail = map[string]int{}
}

func (b *fakeBackend) hitCount(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[name]
}

func (b *fakeBackend) totalHits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, v := range b.hits {
		n += v
	}
	return n
}

func (b *fakeBackend) lastBody(name string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bodies[name]
}

func (b *fakeBackend) lastForm(name string) map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.forms[name]
}

// ── middleware ───────────────────────────────────────────

func (b *fakeBackend) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := routeName(r)
		b.mu.Lock()
		b.hits[name]++
		b.mu.Unlock()

		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
				b.mu.Lock()
				b.bodies[name] = body
				b.mu.Unlock()
				r = withJSONBody(r, body)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (b *fakeBackend) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		status, ok := b.fail[routeName(r)]
		b.mu.Unlock()
		if ok {
			writeJSON(w, status, map[string]any{"detail": "injected failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *fakeBackend) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		public := b.public[routeName(r)]
		b.mu.Unlock()
		if public {
			next.ServeHTTP(w, r)
			return
		}
		if b.currentUser(r) == nil {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"detail": "Invalid username/password."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *fakeBackend) currentUser(r *http.Request) *fakeUser {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u := b.users[username]
	if u == nil || u.Password != password {
		return nil
	}
	return u
}

// ── handlers ─────────────────────────────────────────────

func (b *fakeBackend) signIn(w http.ResponseWriter, r *http.Request) {
	body := jsonBody(r)
	b.mu.Lock()
	u := b.users[fmt.Sprint(body["username"])]
	b.mu.Unlock()
	if u == nil || u.Password != fmt.Sprint(body["password"]) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"non_field_errors": []string{"Unable to log in with provided credentials."},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": u.record()})
}

func (b *fakeBackend) signUp(w http.ResponseWriter, r *http.Request) {
	body := jsonBody(r)
	username := fmt.Sprint(body["username"])
	b.mu.Lock()
	if _, taken := b.users[username]; taken {
		b.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"errors":  map[string]any{"username": []string{"A user with that username already exists."}},
		})
		return
	}
	b.nextID++
	u := &fakeUser{ID: b.nextID, Username: username, Password: fmt.Sprint(body["password"]), Name: fmt.Sprint(body["name"])}
	b.users[username] = u
	b.mu.Unlock()
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "user": u.record()})
}

func (b *fakeBackend) profile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, b.currentUser(r).record())
}

func (b *fakeBackend) updateProfile(w http.ResponseWriter, r *http.Request) {
	u := b.currentUser(r)
	body := jsonBody(r)
	b.mu.Lock()
	if v, ok := body["name"].(string); ok {
		u.Name = v
	}
	if v, ok := body["surname"].(string); ok {
		u.Surname = v
	}
	if names, ok := body["skill_names"].([]any); ok {
		u.Skillset = nil
		for _, n := range names {
			b.nextID++
			u.Skillset = append(u.Skillset, map[string]any{"id": b.nextID, "name": n})
		}
	}
	for _, o := range b.offers {
		if owner, _ := o["user"].(map[string]any); owner != nil && owner["id"] == u.ID {
			o["user"] = u.record()
		}
	}
	rec := u.record()
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Profile updated successfully", "user": rec})
}

func (b *fakeBackend) listSkills(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	out := append([]map[string]any{}, b.skills...)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (b *fakeBackend) listOffers(w http.ResponseWriter, r *http.Request) {
	search := strings.ToLower(r.URL.Query().Get("search"))
	b.mu.Lock()
	out := []map[string]any{}
	for _, o := range b.offers {
		if search != "" && !strings.Contains(strings.ToLower(fmt.Sprint(o["title"])), search) {
			continue
		}
		out = append(out, o)
	}
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "results": out})
}

func (b *fakeBackend) createOffer(w http.ResponseWriter, r *http.Request) {
	u := b.currentUser(r)
	body := jsonBody(r)
	b.mu.Lock()
	b.nextID++
	o := map[string]any{
		"id":              b.nextID,
		"user":            u.record(),
		"title":           body["title"],
		"description":     body["description"],
		"skills_to_learn": b.resolveSkills(body, "learn"),
		"skills_to_teach": b.resolveSkills(body, "teach"),
		"learning_format": body["learning_format"],
		"created_at":      "2025-03-02T09:00:00Z",
	}
	b.offers = append(b.offers, o)
	b.mu.Unlock()
	writeJSON(w, http.StatusCreated, o)
}

func (b *fakeBackend) updateOffer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	body := jsonBody(r)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, o := range b.offers {
		if fmt.Sprint(o["id"]) == id {
			o["title"] = body["title"]
			o["skills_to_learn"] = b.resolveSkills(body, "learn")
			o["skills_to_teach"] = b.resolveSkills(body, "teach")
			writeJSON(w, http.StatusOK, o)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
}

func (b *fakeBackend) deleteOffer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, o := range b.offers {
		if fmt.Sprint(o["id"]) == id {
			b.offers = append(b.offers[:i], b.offers[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
}

// resolveSkills mimics the backend: ids win, names are provisioned.
func (b *fakeBackend) resolveSkills(body map[string]any, side string) []map[string]any {
	out := []map[string]any{}
	if ids, ok := body["skills_to_"+side+"_ids"].([]any); ok {
		for _, id := range ids {
			for _, s := range b.skills {
				if fmt.Sprint(s["id"]) == fmt.Sprint(id) {
					out = append(out, s)
				}
			}
		}
		return out
	}
	if names, ok := body["skill_names_to_"+side].([]any); ok {
		for _, n := range names {
			b.nextID++
			s := map[string]any{"id": b.nextID, "name": n}
			b.skills = append(b.skills, s)
			out = append(out, s)
		}
	}
	return out
}

func (b *fakeBackend) listChats(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	out := append([]map[string]any{}, b.chats...)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (b *fakeBackend) createChat(w http.ResponseWriter, r *http.Request) {
	body := jsonBody(r)
	ids, _ := body["participant_ids"].([]any)
	if len(ids) != 1 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"participant_ids": []string{"required"}})
		return
	}
	pid, _ := strconv.Atoi(fmt.Sprint(ids[0]))
	b.mu.Lock()
	other := b.userByID(pid)
	b.nextID++
	chat := map[string]any{
		"id": b.nextID,
		"other_participant": map[string]any{
			"id": other.ID, "username": other.Username, "name": other.Name, "surname": other.Surname,
		},
		"last_message": nil,
		"unread_count": 0,
		"updated_at":   "2025-03-03T08:00:00Z",
	}
	b.chats = append(b.chats, chat)
	b.mu.Unlock()
	writeJSON(w, http.StatusCreated, chat)
}

func (b *fakeBackend) findChat(id string) map[string]any {
	for _, c := range b.chats {
		if fmt.Sprint(c["id"]) == id {
			return c
		}
	}
	return nil
}

func (b *fakeBackend) getChat(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	c := b.findChat(mux.Vars(r)["id"])
	b.mu.Unlock()
	if c == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (b *fakeBackend) deleteChat(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.chats {
		if fmt.Sprint(c["id"]) == id {
			b.chats = append(b.chats[:i], b.chats[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Not found."})
}

func (b *fakeBackend) chatMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	b.mu.Lock()
	msgs := append([]map[string]any{}, b.messages[id]...)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "messages": msgs})
}

func (b *fakeBackend) sendMessage(w http.ResponseWriter, r *http.Request) {
	u := b.currentUser(r)
	var chatID, text, image string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"detail": err.Error()})
			return
		}
		chatID, text = r.FormValue("chat"), r.FormValue("text")
		if f, hdr, err := r.FormFile("image"); err == nil {
			f.Close()
			image = "/media/" + hdr.Filename
			b.mu.Lock()
			b.forms["messages.create"] = map[string]string{
				"chat": chatID, "text": text, "filename": hdr.Filename, "content_type": hdr.Header.Get("Content-Type"),
			}
			b.mu.Unlock()
		}
	} else {
		body := jsonBody(r)
		chatID, text = fmt.Sprint(body["chat"]), fmt.Sprint(body["text"])
	}

	b.mu.Lock()
	chat := b.findChat(chatID)
	if chat == nil {
		b.mu.Unlock()
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": "Chat matching query does not exist."})
		return
	}
	b.nextID++
	msg := map[string]any{
		"id":         b.nextID,
		"chat":       chat["id"],
		"sender":     u.record(),
		"text":       text,
		"image_url":  nil,
		"created_at": "2025-03-04T15:00:00Z",
	}
	if image != "" {
		msg["image_url"] = "http://testserver" + image
	}
	b.messages[chatID] = append(b.messages[chatID], msg)
	chat["last_message"] = msg
	chat["updated_at"] = msg["created_at"]
	b.mu.Unlock()
	writeJSON(w, http.StatusCreated, msg)
}

// events streams one "message" event per value sent on b.push, after the
// stream-open control event django_eventstream sends first.
func (b *fakeBackend) events(w http.ResponseWriter, r *http.Request) {
	select {
	case b.channels <- r.URL.Query().Get("channel"):
	default:
	}
	flusher := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "event: stream-open\ndata:\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-b.push:
			fmt.Fprintf(w, "event: message\nid: 1\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// ── helpers ──────────────────────────────────────────────

type jsonBodyKey struct{}

func withJSONBody(r *http.Request, body map[string]any) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), jsonBodyKey{}, body))
}

func jsonBody(r *http.Request) map[string]any {
	if body, ok := r.Context().Value(jsonBodyKey{}).(map[string]any); ok {
		return body
	}
	return map[string]any{}
}

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		return route.GetName()
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func skillObjects(names []string) []map[string]any {
	out := []map[string]any{}
	for i, n := range names {
		out = append(out, map[string]any{"id": 900 + i, "name": n})
	}
	return out
}
