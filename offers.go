package skillswap

import (
	"context"
	"net/http"
	"net/url"
	"strings"
)

// ============================================================================
// Inbound normalization
// ============================================================================

// NormalizeOffer converts a raw offer record into the canonical Offer.
//
// snake_case fields win over camelCase ones, missing fields fall back to zero
// values, and nothing here fails: a malformed record degrades field by field.
// Normalizing the JSON form of a canonical Offer returns the same Offer.
func NormalizeOffer(m map[string]any) Offer {
	user, _ := m["user"].(map[string]any)

	o := Offer{
		ID:          field(m, "id"),
		Title:       field(m, "title"),
		Description: field(m, "description"),
		Location:    field(m, "location"),
		CreatedAt:   timeOf(m, "created_at", "createdAt"),
	}

	o.UserID = field(user, "id")
	if o.UserID == "" {
		o.UserID = field(m, "user_id", "userId", "user")
	}
	o.UserName = userDisplayName(user)
	if o.UserName == "" {
		o.UserName = field(m, "user_name", "userName")
	}
	o.UserAvatarSeed = field(user, "avatar_seed", "username")
	if o.UserAvatarSeed == "" {
		o.UserAvatarSeed = field(m, "user_avatar_seed", "userAvatarSeed")
	}

	o.SkillsToLearn = skillNames(firstPresent(m, "skills_to_learn", "skillsToLearn"))
	o.SkillsToTeach = skillNames(firstPresent(m, "skills_to_teach", "skillsToTeach"))
	o.LearningFormat = learningFormat(field(m, "learning_format", "learningFormat"))
	return o
}

// NormalizeOffers decodes a list response. A bare array, {results:[...]} and
// {data:[...]} are all accepted; records that are not objects are skipped.
func NormalizeOffers(data []byte) ([]Offer, error) {
	records, err := decodeList(data)
	if err != nil {
		return nil, &APIError{Kind: KindDecode, Code: "DECODE_ERROR", Message: "failed to unmarshal offers", Err: err}
	}
	offers := make([]Offer, 0, len(records))
	for _, r := range records {
		offers = append(offers, NormalizeOffer(r))
	}
	return offers, nil
}

func userDisplayName(user map[string]any) string {
	if user == nil {
		return ""
	}
	if full := strings.TrimSpace(field(user, "full_name")); full != "" {
		return full
	}
	full := strings.TrimSpace(field(user, "name") + " " + field(user, "surname"))
	if full != "" {
		return full
	}
	return field(user, "username")
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// skillNames reduces a raw skill field to display names. Each element may be
// an object with name, title or id (tried in that order) or a plain value; a
// single string is split on commas. Empty results are dropped. The returned
// slice is never nil.
func skillNames(v any) []string {
	names := []string{}
	switch t := v.(type) {
	case string:
		return []string(ParseSkillNames(t))
	case []any:
		for _, item := range t {
			var name string
			if obj, ok := item.(map[string]any); ok {
				name = field(obj, "name", "title", "id")
			} else {
				name = stringOf(item)
			}
			if name = strings.TrimSpace(name); name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

func learningFormat(s string) LearningFormat {
	switch f := LearningFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatOnline, FormatOffline, FormatBoth:
		return f
	default:
		return FormatOnline
	}
}

// ============================================================================
// Outbound encoding
// ============================================================================

// EncodeOffer validates in and builds the create/update request body.
//
// Each skill list is resolved against the catalog. When at least one name
// resolves, only the id list is sent (skills_to_*_ids) and names the catalog
// does not know are dropped. When none resolve, the names are sent as
// skill_names_to_* so the backend creates them. A nil list is left out.
func EncodeOffer(in OfferInput, idx *SkillIndex) (map[string]any, error) {
	in.Title = strings.TrimSpace(in.Title)
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if idx == nil {
		idx = NewSkillIndex(nil, nil)
	}

	body := map[string]any{
		"title":       in.Title,
		"description": in.Description,
	}
	if in.LearningFormat != "" {
		body["learning_format"] = string(in.LearningFormat)
	}
	if in.Location != "" {
		body["location"] = in.Location
	}
	encodeSkillField(body, "learn", in.SkillsToLearn, idx)
	encodeSkillField(body, "teach", in.SkillsToTeach, idx)
	return body, nil
}

func encodeSkillField(body map[string]any, side string, names SkillNames, idx *SkillIndex) {
	if names == nil {
		return
	}
	ids, unknown := idx.Resolve(names.Clean())
	switch {
	case len(ids) > 0:
		body["skills_to_"+side+"_ids"] = ids
	case len(unknown) > 0:
		body["skill_names_to_"+side] = unknown
	default:
		body["skills_to_"+side+"_ids"] = []string{}
	}
}

// OfferInputFrom builds an edit payload from an existing offer.
func OfferInputFrom(o Offer) OfferInput {
	return OfferInput{
		Title:          o.Title,
		Description:    o.Description,
		SkillsToLearn:  append(SkillNames{}, o.SkillsToLearn...),
		SkillsToTeach:  append(SkillNames{}, o.SkillsToTeach...),
		LearningFormat: o.LearningFormat,
		Location:       o.Location,
	}
}

// ============================================================================
// OffersClient
// ============================================================================

// OffersClient handles the offer endpoints.
type OffersClient struct{ client *Client }

// List fetches offers, optionally filtered server-side.
func (o *OffersClient) List(ctx context.Context, q *OfferQuery) ([]Offer, error) {
	var query url.Values
	if q != nil {
		query = url.Values{}
		if s := strings.TrimSpace(q.Search); s != "" {
			query.Set("search", s)
		}
		if len(q.Skills) > 0 {
			query.Set("skills", strings.Join(q.Skills, ","))
		}
	}
	data, err := o.client.doRequest(ctx, http.MethodGet, "/offers/", nil, query)
	if err != nil {
		return nil, err
	}
	return NormalizeOffers(data)
}

func (o *OffersClient) Get(ctx context.Context, id string) (*Offer, error) {
	data, err := o.client.doRequest(ctx, http.MethodGet, "/offers/"+url.PathEscape(id)+"/", nil, nil)
	if err != nil {
		return nil, err
	}
	return offerFromResponse(data)
}

// Create posts a body built by EncodeOffer.
func (o *OffersClient) Create(ctx context.Context, body map[string]any) (*Offer, error) {
	data, err := o.client.doRequest(ctx, http.MethodPost, "/offers/", body, nil)
	if err != nil {
		return nil, err
	}
	return offerFromResponse(data)
}

// Update puts a body built by EncodeOffer.
func (o *OffersClient) Update(ctx context.Context, id string, body map[string]any) (*Offer, error) {
	data, err := o.client.doRequest(ctx, http.MethodPut, "/offers/"+url.PathEscape(id)+"/", body, nil)
	if err != nil {
		return nil, err
	}
	return offerFromResponse(data)
}

func (o *OffersClient) Delete(ctx context.Context, id string) error {
	_, err := o.client.doRequest(ctx, http.MethodDelete, "/offers/"+url.PathEscape(id)+"/", nil, nil)
	return err
}

// offerFromResponse returns nil without error when the server acknowledged
// the write with no body.
func offerFromResponse(data []byte) (*Offer, error) {
	m, err := decodeObject(data)
	if err != nil || m == nil {
		return nil, err
	}
	if err := checkSuccess(m); err != nil {
		return nil, err
	}
	if inner, ok := m["offer"].(map[string]any); ok {
		m = inner
	}
	offer := NormalizeOffer(m)
	return &offer, nil
}
