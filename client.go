// Package skillswap provides the Go client and data layer for the SkillSwap
// skill-exchange marketplace.
//
// Covers the REST API (auth, offers, chats, messages, skills), payload
// normalization, offer search, and a coordinator that keeps a local cache in
// step with the server.
//
// Example:
//
//	client := skillswap.NewClient(skillswap.WithBaseURL("http://localhost:8000/api"))
//	coord := skillswap.NewCoordinator(client, nil)
//
//	user, _ := coord.SignIn(ctx, "alice", "secret123")
//	coord.LoadOffers(ctx)
//	for _, o := range coord.Search("питон") {
//		fmt.Println(o.Title)
//	}
package skillswap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	DefaultBaseURL   = "http://localhost:8000/api"
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "skillswap-go/1.0"
)

// ============================================================================
// Client
// ============================================================================

// Client talks to the marketplace REST API using HTTP Basic credentials.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger

	mu             sync.RWMutex
	username       string
	password       string
	onUnauthorized func()

	Auth     *AuthClient
	Offers   *OffersClient
	Chats    *ChatsClient
	Messages *MessagesClient
	Skills   *SkillsClient
	Realtime *RealtimeClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithCredentials(username, password string) ClientOption {
	return func(c *Client) { c.username, c.password = username, password }
}

func WithUserAgent(agent string) ClientOption {
	return func(c *Client) { c.userAgent = agent }
}

// WithUnauthorizedHandler registers fn to run after a 401 has cleared the
// stored credentials.
func WithUnauthorizedHandler(fn func()) ClientOption {
	return func(c *Client) { c.onUnauthorized = fn }
}

// NewClient creates a new marketplace client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		userAgent: DefaultUserAgent,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		logger: discardLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Auth = &AuthClient{client: c}
	c.Offers = &OffersClient{client: c}
	c.Chats = &ChatsClient{client: c}
	c.Messages = &MessagesClient{client: c}
	c.Skills = &SkillsClient{client: c}
	c.Realtime = &RealtimeClient{client: c}
	return c
}

// BaseURL returns the API root every path is resolved against.
func (c *Client) BaseURL() string { return c.baseURL }

// Logger returns the client's logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// SetCredentials sets the Basic auth credentials used for every request.
func (c *Client) SetCredentials(username, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.username, c.password = username, password
}

// ClearCredentials drops the stored credentials.
func (c *Client) ClearCredentials() {
	c.SetCredentials("", "")
}

// Credentials returns the stored credentials and whether any are set.
func (c *Client) Credentials() (username, password string, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.username, c.password, c.username != "" && c.password != ""
}

// OnUnauthorized replaces the hook run after a 401.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

// chainUnauthorized runs fn before whatever hook is already registered.
func (c *Client) chainUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.onUnauthorized
	if prev == nil {
		c.onUnauthorized = fn
		return
	}
	c.onUnauthorized = func() {
		fn()
		prev()
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var validate = validator.New()

// validateInput runs struct tag validation and reports the first failure as
// an INVALID_INPUT validation error.
func validateInput(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalidInput(fmt.Sprintf("%s failed %q validation", strings.ToLower(fe.Field()), fe.Tag()), err)
	}
	return invalidInput(err.Error(), err)
}

// ============================================================================
// Internal request helpers
// ============================================================================

// doRequest performs a JSON request. A nil result with a nil error means the
// server answered with no JSON payload (204, empty body, or another content
// type), which counts as success.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, query url.Values) ([]byte, error) {
	req, err := c.newJSONRequest(ctx, method, path, body, query)
	if err != nil {
		return nil, err
	}
	return c.send(req)
}

// doRequestAs performs a JSON request with the given credentials instead of
// the stored ones. A 401 leaves the stored credentials and the unauthorized
// hook alone.
func (c *Client) doRequestAs(ctx context.Context, username, password, method, path string, body any) ([]byte, error) {
	req, err := c.newJSONRequest(ctx, method, path, body, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(username, password)
	return c.roundTrip(req)
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, body any, query url.Values) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := c.newRequest(ctx, method, path, bodyReader, query)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// doMultipart posts a multipart form with the given text fields and an
// optional image part.
func (c *Client) doMultipart(ctx context.Context, path string, fields map[string]string, image *Attachment) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = w.WriteField(k, v)
	}
	if image != nil {
		mimeType := image.MimeType
		if mimeType == "" {
			mimeType = guessMimeType(image.FileName)
		}
		h := make(map[string][]string)
		h["Content-Disposition"] = []string{fmt.Sprintf(`form-data; name="image"; filename="%s"`, image.FileName)}
		h["Content-Type"] = []string{mimeType}
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, fmt.Errorf("failed to create form file: %w", err)
		}
		if _, err := part.Write(image.Data); err != nil {
			return nil, fmt.Errorf("failed to write image data: %w", err)
		}
	}
	_ = w.Close()

	req, err := c.newRequest(ctx, http.MethodPost, path, &buf, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.send(req)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, query url.Values) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if username, password, ok := c.Credentials(); ok {
		req.SetBasicAuth(username, password)
	}
	return req, nil
}

// send performs req and runs the unauthorized handling on a 401.
func (c *Client) send(req *http.Request) ([]byte, error) {
	data, err := c.roundTrip(req)
	if IsUnauthorized(err) {
		c.handleUnauthorized()
	}
	return data, err
}

func (c *Client) roundTrip(req *http.Request) ([]byte, error) {
	start := time.Now()
	requestID := req.Header.Get("X-Request-ID")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("request canceled: %w", err)
		}
		c.logger.Debug("request failed", "method", req.Method, "path", req.URL.Path, "request_id", requestID, "error", err)
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(err)
	}
	c.logger.Debug("request",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
		"request_id", requestID,
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var payload map[string]any
		if raw, err := decodeRaw(data); err == nil {
			payload, _ = raw.(map[string]any)
		}
		return nil, statusError(resp.StatusCode, payload)
	}

	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); !strings.Contains(mt, "json") {
		return nil, nil
	}
	return data, nil
}

func (c *Client) handleUnauthorized() {
	c.ClearCredentials()
	c.mu.RLock()
	hook := c.onUnauthorized
	c.mu.RUnlock()
	if hook != nil {
		hook()
	}
}

// decodeObject decodes a single JSON record. An empty payload yields nil.
func decodeObject(data []byte) (map[string]any, error) {
	raw, err := decodeRaw(data)
	if err != nil {
		return nil, &APIError{Kind: KindDecode, Code: "DECODE_ERROR", Message: "failed to unmarshal response", Err: err}
	}
	return objectOf(raw), nil
}

// checkSuccess turns a 2xx {success:false, errors} body into a validation
// error carrying the body verbatim.
func checkSuccess(m map[string]any) error {
	if ok, present := m["success"].(bool); present && !ok {
		msg := errorMessage(m)
		if msg == "" {
			msg = "request was rejected"
		}
		return &APIError{Kind: KindValidation, Code: "VALIDATION_ERROR", Message: msg, Details: m}
	}
	return nil
}

// guessMimeType returns MIME type from file extension.
func guessMimeType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return "application/octet-stream"
	}
	fallback := map[string]string{
		".webp": "image/webp", ".heic": "image/heic", ".heif": "image/heif",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	t := mime.TypeByExtension(ext)
	if t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}

// ============================================================================
// Auth
// ============================================================================

// AuthClient handles sign-up, sign-in, and the profile endpoints.
type AuthClient struct{ client *Client }

// SignUp registers a new account. It does not store credentials.
func (a *AuthClient) SignUp(ctx context.Context, in SignUpInput) (*User, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	data, err := a.client.doRequest(ctx, http.MethodPost, "/auth/signup/", in, nil)
	if err != nil {
		return nil, err
	}
	return userFromResponse(data)
}

// SignIn verifies the credentials, fetches the profile, and only then stores
// the credentials on the client. The sign-in payload is used when the profile
// fetch fails. A rejected attempt leaves the current credentials in place.
func (a *AuthClient) SignIn(ctx context.Context, username, password string) (*User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return nil, invalidInput("username and password are required", nil)
	}

	data, err := a.client.doRequestAs(ctx, username, password, http.MethodPost, "/auth/signin/", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	user, err := userFromResponse(data)
	if err != nil {
		return nil, err
	}
	a.client.SetCredentials(username, password)

	profile, err := a.Profile(ctx)
	if err != nil {
		a.client.logger.Warn("profile fetch after sign-in failed", "error", err)
		return user, nil
	}
	return profile, nil
}

// Profile fetches the signed-in user.
func (a *AuthClient) Profile(ctx context.Context) (*User, error) {
	data, err := a.client.doRequest(ctx, http.MethodGet, "/auth/profile/", nil, nil)
	if err != nil {
		return nil, err
	}
	return userFromResponse(data)
}

// UpdateProfile sends a partial profile update and returns the stored user.
func (a *AuthClient) UpdateProfile(ctx context.Context, body map[string]any) (*User, error) {
	data, err := a.client.doRequest(ctx, http.MethodPut, "/auth/profile/", body, nil)
	if err != nil {
		return nil, err
	}
	return userFromResponse(data)
}

// userFromResponse accepts {success, user} as well as a bare user record.
func userFromResponse(data []byte) (*User, error) {
	m, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, &APIError{Kind: KindDecode, Code: "DECODE_ERROR", Message: "response carried no user"}
	}
	if err := checkSuccess(m); err != nil {
		return nil, err
	}
	if inner, ok := m["user"].(map[string]any); ok {
		m = inner
	}
	u := NormalizeUser(m)
	return &u, nil
}

// NormalizeUser converts a raw user record. skillset elements may be catalog
// objects or plain names.
func NormalizeUser(m map[string]any) User {
	u := User{
		ID:       field(m, "id"),
		Username: field(m, "username"),
		Name:     field(m, "name"),
		Surname:  field(m, "surname"),
		Email:    field(m, "email"),
		Skillset: []Skill{},
	}
	u.AvatarSeed = field(m, "avatar_seed", "avatarSeed")
	if u.AvatarSeed == "" {
		u.AvatarSeed = u.Username
	}
	if items, ok := m["skillset"].([]any); ok {
		for _, item := range items {
			switch t := item.(type) {
			case map[string]any:
				if name := field(t, "name"); name != "" {
					u.Skillset = append(u.Skillset, Skill{ID: field(t, "id"), Name: name})
				}
			case string:
				if name := strings.TrimSpace(t); name != "" {
					u.Skillset = append(u.Skillset, Skill{Name: name})
				}
			}
		}
	}
	return u
}

// ============================================================================
// Skills
// ============================================================================

// SkillsClient reads the skill catalog.
type SkillsClient struct{ client *Client }

// List fetches the catalog. Bare arrays and {results}/{data} envelopes are
// accepted.
func (s *SkillsClient) List(ctx context.Context) ([]Skill, error) {
	data, err := s.client.doRequest(ctx, http.MethodGet, "/skills/", nil, nil)
	if err != nil {
		return nil, err
	}
	records, err := decodeList(data)
	if err != nil {
		return nil, &APIError{Kind: KindDecode, Code: "DECODE_ERROR", Message: "failed to unmarshal skills", Err: err}
	}
	skills := make([]Skill, 0, len(records))
	for _, r := range records {
		name := strings.TrimSpace(field(r, "name"))
		if name == "" {
			continue
		}
		skills = append(skills, Skill{ID: field(r, "id"), Name: name})
	}
	return skills, nil
}
