package skillswap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ============================================================================
// Coordinator events
// ============================================================================

// Events emitted by the Coordinator.
const (
	EventSignedIn      = "session.signed_in"
	EventSignedOut     = "session.signed_out"
	EventUnauthorized  = "session.unauthorized"
	EventOffersLoaded  = "offers.loaded"
	EventChatsLoaded   = "chats.loaded"
	EventChatRefreshed = "chat.refreshed"
	EventReloadFailed  = "reload.failed"
)

// CoordinatorEventHandler handles coordinator events.
type CoordinatorEventHandler func(event string, payload any)

type coordinatorEmitter struct {
	mu        sync.RWMutex
	listeners map[string][]CoordinatorEventHandler
	logger    *slog.Logger
}

// On registers a handler for event.
func (e *coordinatorEmitter) On(event string, handler CoordinatorEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listeners[event] = append(e.listeners[event], handler)
}

func (e *coordinatorEmitter) emit(event string, payload any) {
	e.mu.RLock()
	handlers := e.listeners[event]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Warn("event handler panicked", "event", event, "panic", r)
				}
			}()
			h(event, payload)
		}()
	}
}

// ============================================================================
// Coordinator
// ============================================================================

// CoordinatorOptions configures a Coordinator. The zero value is usable.
type CoordinatorOptions struct {
	// Sessions persists credentials and the session user. Defaults to an
	// in-memory store.
	Sessions SessionStore
	Matcher  *Matcher
	// SearchMode pins the search mode. When empty, search runs offline until
	// the first authenticated offer load succeeds and online after that.
	SearchMode SearchMode
	Logger     *slog.Logger
}

// Coordinator owns the process-wide offer list, chat list, skill catalog and
// session user. Mutations go to the server first and the cache is refreshed
// from a full reload afterwards; a failed mutation leaves the cache as it
// was. The only local patches are MarkAsRead and the display name copy after
// a profile update.
//
// Overlapping reloads are not ordered: whichever response lands last wins.
type Coordinator struct {
	coordinatorEmitter

	client   *Client
	sessions SessionStore
	matcher  *Matcher
	logger   *slog.Logger

	skills *SkillIndex
	offers *MemoryStore[[]Offer]
	chats  *MemoryStore[[]Chat]
	user   *MemoryStore[*User]

	mu            sync.Mutex
	mode          SearchMode
	modePinned    bool
	catalogLoaded bool
}

// NewCoordinator creates a coordinator around client. Its unauthorized
// handling runs ahead of any hook the client already has.
func NewCoordinator(client *Client, opts *CoordinatorOptions) *Coordinator {
	if opts == nil {
		opts = &CoordinatorOptions{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = client.Logger()
	}

	c := &Coordinator{
		coordinatorEmitter: coordinatorEmitter{
			listeners: make(map[string][]CoordinatorEventHandler),
			logger:    logger,
		},
		client:   client,
		sessions: opts.Sessions,
		matcher:  opts.Matcher,
		logger:   logger,
		skills:   NewSkillIndex(client.Skills, logger),
		offers:   NewMemoryStore([]Offer{}),
		chats:    NewMemoryStore([]Chat{}),
		user:     NewMemoryStore[*User](nil),
		mode:     SearchOffline,
	}
	if c.sessions == nil {
		c.sessions = NewMemorySessionStore()
	}
	if c.matcher == nil {
		c.matcher = NewMatcher()
	}
	if opts.SearchMode != "" {
		c.mode = opts.SearchMode
		c.modePinned = true
	}
	c.offers.setLogger(logger)
	c.chats.setLogger(logger)
	c.user.setLogger(logger)

	client.chainUnauthorized(c.handleUnauthorized)
	return c
}

// Client returns the underlying API client.
func (c *Coordinator) Client() *Client { return c.client }

// Skills returns the skill catalog index.
func (c *Coordinator) Skills() *SkillIndex { return c.skills }

func (c *Coordinator) handleUnauthorized() {
	c.user.Replace(nil)
	if err := c.sessions.Clear(); err != nil {
		c.logger.Warn("failed to clear saved session", "error", err)
	}
	c.emit(EventUnauthorized, nil)
}

func (c *Coordinator) selfID() string {
	if u := c.user.Get(); u != nil {
		return u.ID
	}
	return ""
}

func (c *Coordinator) requireUser() (*User, error) {
	u := c.user.Get()
	if u == nil {
		return nil, &APIError{Kind: KindUnauthorized, Code: "NOT_SIGNED_IN", Message: "sign in first"}
	}
	return u, nil
}

// ============================================================================
// Session
// ============================================================================

// SignIn authenticates, stores the session user, and persists the session.
func (c *Coordinator) SignIn(ctx context.Context, username, password string) (*User, error) {
	user, err := c.client.Auth.SignIn(ctx, username, password)
	if err != nil {
		return nil, err
	}
	c.setSession(username, password, user)
	c.emit(EventSignedIn, cloneUser(user))
	return cloneUser(user), nil
}

// SignUp registers the account and then signs in with it.
func (c *Coordinator) SignUp(ctx context.Context, in SignUpInput) (*User, error) {
	if _, err := c.client.Auth.SignUp(ctx, in); err != nil {
		return nil, err
	}
	return c.SignIn(ctx, in.Username, in.Password)
}

// SignOut drops credentials, the session user, and the chat list. Offers
// stay cached for anonymous browsing.
func (c *Coordinator) SignOut() error {
	c.client.ClearCredentials()
	c.user.Replace(nil)
	c.chats.Replace([]Chat{})

	c.mu.Lock()
	if !c.modePinned {
		c.mode = SearchOffline
	}
	c.mu.Unlock()

	c.emit(EventSignedOut, nil)
	return c.sessions.Clear()
}

// RestoreSession rehydrates a persisted session and refreshes the profile.
// ErrNoSession is returned when nothing was saved. When the refresh fails for
// any reason other than rejected credentials, the saved profile is used.
func (c *Coordinator) RestoreSession(ctx context.Context) (*User, error) {
	saved, err := c.sessions.Load()
	if err != nil {
		return nil, err
	}
	if saved == nil || saved.Username == "" || saved.Password == "" {
		return nil, ErrNoSession
	}

	c.client.SetCredentials(saved.Username, saved.Password)
	if saved.User != nil {
		c.user.Replace(cloneUser(saved.User))
	}

	fresh, err := c.client.Auth.Profile(ctx)
	switch {
	case err == nil:
		c.setSession(saved.Username, saved.Password, fresh)
		return cloneUser(fresh), nil
	case !IsUnauthorized(err) && saved.User != nil:
		c.logger.Warn("profile refresh failed, using saved session", "error", err)
		return cloneUser(saved.User), nil
	default:
		return nil, err
	}
}

// CurrentUser returns a copy of the session user, or nil when signed out.
func (c *Coordinator) CurrentUser() *User {
	return cloneUser(c.user.Get())
}

func (c *Coordinator) setSession(username, password string, user *User) {
	c.user.Replace(cloneUser(user))
	if err := c.sessions.Save(&Session{Username: username, Password: password, User: user}); err != nil {
		c.logger.Warn("failed to persist session", "error", err)
	}
}

// UpdateProfile saves profile changes. On success the session user is
// replaced and persisted, the new display name is copied into the user's
// own cached offers, and offers are reloaded.
//
// Skill names resolve like offer skills: catalog ids are sent when any name
// resolves, otherwise the names are sent for the backend to create.
func (c *Coordinator) UpdateProfile(ctx context.Context, in ProfileInput) (*User, error) {
	if _, err := c.requireUser(); err != nil {
		return nil, err
	}

	body := map[string]any{}
	for key, v := range map[string]string{
		"name": in.Name, "surname": in.Surname, "username": in.Username, "email": in.Email,
	} {
		if v = strings.TrimSpace(v); v != "" {
			body[key] = v
		}
	}
	if in.Skills != nil {
		c.ensureCatalog(ctx)
		ids, unknown := c.skills.Resolve(in.Skills.Clean())
		if len(ids) == 0 && len(unknown) > 0 {
			body["skill_names"] = unknown
		} else {
			body["skillset_ids"] = ids
		}
	}

	updated, err := c.client.Auth.UpdateProfile(ctx, body)
	if err != nil {
		return nil, err
	}

	username, password, _ := c.client.Credentials()
	if updated.Username != "" && updated.Username != username {
		username = updated.Username
		c.client.SetCredentials(username, password)
	}
	c.setSession(username, password, updated)

	name := updated.DisplayName()
	offers := c.Offers()
	for i := range offers {
		if offers[i].UserID == updated.ID {
			offers[i].UserName = name
		}
	}
	c.offers.Replace(offers)

	if err := c.reloadOffers(ctx); err != nil {
		return cloneUser(updated), err
	}
	return cloneUser(updated), nil
}

// ============================================================================
// Catalog
// ============================================================================

// LoadSkills refreshes the skill catalog. It never fails; an unreachable
// catalog is empty.
func (c *Coordinator) LoadSkills(ctx context.Context) []Skill {
	skills := c.skills.Load(ctx)
	c.mu.Lock()
	c.catalogLoaded = true
	c.mu.Unlock()
	return skills
}

func (c *Coordinator) ensureCatalog(ctx context.Context) {
	c.mu.Lock()
	loaded := c.catalogLoaded
	c.mu.Unlock()
	if !loaded {
		c.LoadSkills(ctx)
	}
}

// ============================================================================
// Offers
// ============================================================================

// LoadOffers replaces the cached offer list with the server's. On failure the
// cache is emptied and the error returned.
func (c *Coordinator) LoadOffers(ctx context.Context) error {
	if err := c.reloadOffers(ctx); err != nil {
		c.offers.Replace([]Offer{})
		return err
	}
	return nil
}

// reloadOffers refreshes the offer cache, leaving it untouched on failure.
func (c *Coordinator) reloadOffers(ctx context.Context) error {
	offers, err := c.client.Offers.List(ctx, nil)
	if err != nil {
		c.logger.Warn("offer reload failed", "error", err)
		c.emit(EventReloadFailed, err)
		return err
	}
	c.offers.Replace(offers)

	if _, _, ok := c.client.Credentials(); ok {
		c.mu.Lock()
		if !c.modePinned {
			c.mode = SearchOnline
		}
		c.mu.Unlock()
	}
	c.emit(EventOffersLoaded, len(offers))
	return nil
}

// Offers returns a copy of the cached offer list.
func (c *Coordinator) Offers() []Offer {
	cur := c.offers.Get()
	out := make([]Offer, len(cur))
	copy(out, cur)
	return out
}

// Offer looks up a cached offer by id.
func (c *Coordinator) Offer(id string) (Offer, bool) {
	for _, o := range c.offers.Get() {
		if o.ID == id {
			return o, true
		}
	}
	return Offer{}, false
}

// SearchMode returns the mode Search currently uses.
func (c *Coordinator) SearchMode() SearchMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// SetSearchMode pins the search mode.
func (c *Coordinator) SetSearchMode(mode SearchMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mode = mode
	c.modePinned = true
}

// Search filters the cached offers. It never touches the network.
func (c *Coordinator) Search(query string) []Offer {
	return c.matcher.Filter(c.offers.Get(), query, c.SearchMode())
}

// SearchRemote asks the server to filter offers. The cache is not touched.
func (c *Coordinator) SearchRemote(ctx context.Context, q OfferQuery) ([]Offer, error) {
	offers, err := c.client.Offers.List(ctx, &q)
	if err != nil {
		return []Offer{}, err
	}
	return offers, nil
}

// CreateOffer submits a new offer and reloads the offer list. The returned
// offer is the server's echo and may be nil when it sent none.
func (c *Coordinator) CreateOffer(ctx context.Context, in OfferInput) (*Offer, error) {
	c.ensureCatalog(ctx)
	body, err := EncodeOffer(in, c.skills)
	if err != nil {
		return nil, err
	}
	created, err := c.client.Offers.Create(ctx, body)
	if err != nil {
		return nil, err
	}
	return created, c.reloadOffers(ctx)
}

// UpdateOffer saves an edit and reloads the offer list.
func (c *Coordinator) UpdateOffer(ctx context.Context, id string, in OfferInput) (*Offer, error) {
	c.ensureCatalog(ctx)
	body, err := EncodeOffer(in, c.skills)
	if err != nil {
		return nil, err
	}
	updated, err := c.client.Offers.Update(ctx, id, body)
	if err != nil {
		return nil, err
	}
	return updated, c.reloadOffers(ctx)
}

// DeleteOffer removes an offer and reloads the offer list.
func (c *Coordinator) DeleteOffer(ctx context.Context, id string) error {
	if err := c.client.Offers.Delete(ctx, id); err != nil {
		return err
	}
	return c.reloadOffers(ctx)
}

// ============================================================================
// Chats
// ============================================================================

// LoadChats replaces the cached chat list. On failure the cache is emptied
// and the error returned.
func (c *Coordinator) LoadChats(ctx context.Context) error {
	if err := c.reloadChats(ctx); err != nil {
		c.chats.Replace([]Chat{})
		return err
	}
	return nil
}

func (c *Coordinator) reloadChats(ctx context.Context) error {
	chats, err := c.client.Chats.List(ctx, c.selfID())
	if err != nil {
		c.logger.Warn("chat reload failed", "error", err)
		c.emit(EventReloadFailed, err)
		return err
	}
	c.chats.Replace(chats)
	c.emit(EventChatsLoaded, len(chats))
	return nil
}

// LoadChat fetches a chat's detail and full message history and stores them.
// The fetched messages replace the chat's message list. On failure the cache
// is left as it was.
func (c *Coordinator) LoadChat(ctx context.Context, id string) (*Chat, error) {
	chat, err := c.fetchChat(ctx, id)
	if err != nil {
		return nil, err
	}
	c.upsertChat(*chat)
	c.emit(EventChatRefreshed, id)
	return chat, nil
}

func (c *Coordinator) fetchChat(ctx context.Context, id string) (*Chat, error) {
	selfID := c.selfID()

	var (
		detail *Chat
		msgs   []Message
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		detail, err = c.client.Chats.Get(gctx, id, selfID)
		return err
	})
	g.Go(func() error {
		var err error
		msgs, err = c.client.Chats.Messages(gctx, id, selfID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	chat := ReplaceMessages(*detail, msgs)
	return &chat, nil
}

// upsertChat swaps chat into the cached list by id, appending it when the
// list does not have it yet.
func (c *Coordinator) upsertChat(chat Chat) {
	cur := c.chats.Get()
	next := make([]Chat, 0, len(cur)+1)
	found := false
	for _, existing := range cur {
		if existing.ID == chat.ID {
			next = append(next, chat)
			found = true
			continue
		}
		next = append(next, existing)
	}
	if !found {
		next = append(next, chat)
	}
	c.chats.Replace(next)
}

// Chats returns a copy of the cached chat list in server order.
func (c *Coordinator) Chats() []Chat {
	cur := c.chats.Get()
	out := make([]Chat, len(cur))
	copy(out, cur)
	return out
}

// Chat looks up a cached chat by id.
func (c *Coordinator) Chat(id string) (Chat, bool) {
	for _, ch := range c.chats.Get() {
		if ch.ID == id {
			return ch, true
		}
	}
	return Chat{}, false
}

// MyChats returns the cached chats, most recent first.
func (c *Coordinator) MyChats() []Chat {
	out := c.Chats()
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// CreateChat returns the id of the chat with participantID. An existing
// cached chat is reused without a request; otherwise the chat is created
// and the chat list reloaded.
func (c *Coordinator) CreateChat(ctx context.Context, participantID string) (string, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return "", invalidInput("participant id is required", nil)
	}
	if participantID == c.selfID() {
		return "", invalidInput("cannot start a chat with yourself", nil)
	}
	if id, ok := c.chatWith(participantID); ok {
		return id, nil
	}

	id, err := c.client.Chats.Create(ctx, participantID)
	if err != nil {
		return "", err
	}
	reloadErr := c.reloadChats(ctx)
	if id == "" {
		if found, ok := c.chatWith(participantID); ok {
			id = found
		}
	}
	if id == "" && reloadErr == nil {
		return "", &APIError{Kind: KindDecode, Code: "DECODE_ERROR", Message: "chat was created but its id is unknown"}
	}
	return id, reloadErr
}

func (c *Coordinator) chatWith(participantID string) (string, bool) {
	for _, ch := range c.chats.Get() {
		if ch.ParticipantID == participantID {
			return ch.ID, true
		}
	}
	return "", false
}

// DeleteChat removes a chat and reloads the chat list.
func (c *Coordinator) DeleteChat(ctx context.Context, id string) error {
	if err := c.client.Chats.Delete(ctx, id); err != nil {
		return err
	}
	return c.reloadChats(ctx)
}

// SendMessage posts text and an optional image as one message. After the
// server acknowledges it, the chat list and the chat detail are re-fetched
// concurrently and applied in that order. Nothing is appended locally.
func (c *Coordinator) SendMessage(ctx context.Context, chatID, text string, image *Attachment) error {
	if _, err := c.client.Messages.Send(ctx, chatID, text, image); err != nil {
		return err
	}

	selfID := c.selfID()
	var (
		list    []Chat
		detail  *Chat
		listErr error
		chatErr error
	)
	var g errgroup.Group
	g.Go(func() error {
		list, listErr = c.client.Chats.List(ctx, selfID)
		return nil
	})
	g.Go(func() error {
		detail, chatErr = c.fetchChat(ctx, chatID)
		return nil
	})
	_ = g.Wait()

	if listErr == nil {
		c.chats.Replace(list)
		c.emit(EventChatsLoaded, len(list))
	}
	if chatErr == nil {
		c.upsertChat(*detail)
		c.emit(EventChatRefreshed, chatID)
	}
	if err := errors.Join(listErr, chatErr); err != nil {
		c.logger.Warn("reload after send failed", "chat", chatID, "error", err)
		c.emit(EventReloadFailed, err)
		return fmt.Errorf("message sent, reload failed: %w", err)
	}
	return nil
}

// MarkAsRead zeroes the chat's unread counter locally. No request is made.
func (c *Coordinator) MarkAsRead(chatID string) {
	cur := c.chats.Get()
	next := make([]Chat, len(cur))
	copy(next, cur)
	for i := range next {
		if next[i].ID == chatID {
			next[i].UnreadCount = 0
		}
	}
	c.chats.Replace(next)
}

// HandleRefresh reacts to a push notification on a chat channel by reloading
// the chat. The notification payload is ignored.
func (c *Coordinator) HandleRefresh(ctx context.Context, chatID string) error {
	_, err := c.LoadChat(ctx, chatID)
	if err != nil {
		c.logger.Warn("chat refresh failed", "chat", chatID, "error", err)
	}
	return err
}

// Watch connects sub and reloads its chat on every notification until ctx
// ends or sub is closed.
func (c *Coordinator) Watch(ctx context.Context, sub ChatSubscriber) error {
	sub.OnRefresh(func(chatID string) {
		_ = c.HandleRefresh(ctx, chatID)
	})
	return sub.Connect(ctx)
}

// ============================================================================
// Subscriptions
// ============================================================================

// SubscribeOffers calls fn with every new offer list.
func (c *Coordinator) SubscribeOffers(fn func([]Offer)) func() { return c.offers.Subscribe(fn) }

// SubscribeChats calls fn with every new chat list.
func (c *Coordinator) SubscribeChats(fn func([]Chat)) func() { return c.chats.Subscribe(fn) }

// SubscribeUser calls fn whenever the session user changes; nil means signed out.
func (c *Coordinator) SubscribeUser(fn func(*User)) func() { return c.user.Subscribe(fn) }
