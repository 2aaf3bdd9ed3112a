package skillswap

import (
	"encoding/json"
	"strings"
	"time"
)

// ============================================================================
// Catalog
// ============================================================================

// Skill is a canonical catalog entry.
type Skill struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ============================================================================
// Offers
// ============================================================================

type LearningFormat string

const (
	FormatOnline  LearningFormat = "online"
	FormatOffline LearningFormat = "offline"
	FormatBoth    LearningFormat = "both"
)

// Offer is the canonical in-memory offer. SkillsToLearn and SkillsToTeach are
// never nil after normalization.
type Offer struct {
	ID             string         `json:"id"`
	UserID         string         `json:"userId"`
	UserName       string         `json:"userName"`
	UserAvatarSeed string         `json:"userAvatarSeed"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	SkillsToLearn  []string       `json:"skillsToLearn"`
	SkillsToTeach  []string       `json:"skillsToTeach"`
	LearningFormat LearningFormat `json:"learningFormat"`
	Location       string         `json:"location,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// OfferInput is the payload for creating or updating an offer.
//
// A nil skill list leaves the field out of the request. A non-nil empty list
// clears it.
type OfferInput struct {
	Title          string         `json:"title" yaml:"title" validate:"required,max=200"`
	Description    string         `json:"description" yaml:"description"`
	SkillsToLearn  SkillNames     `json:"skillsToLearn" yaml:"skillsToLearn"`
	SkillsToTeach  SkillNames     `json:"skillsToTeach" yaml:"skillsToTeach"`
	LearningFormat LearningFormat `json:"learningFormat" yaml:"learningFormat" validate:"omitempty,oneof=online offline both"`
	Location       string         `json:"location" yaml:"location"`
}

// OfferQuery narrows GET /offers/ server-side.
type OfferQuery struct {
	Search string
	Skills []string
}

// SkillNames is a list of free-text skill names. It unmarshals from either a
// JSON array or a single comma separated string.
type SkillNames []string

func (s *SkillNames) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = ParseSkillNames(single)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = SkillNames(list).Clean()
	return nil
}

// Clean splits every element on commas, trims them and drops blanks. A nil
// receiver stays nil.
func (s SkillNames) Clean() SkillNames {
	if s == nil {
		return nil
	}
	out := SkillNames{}
	for _, raw := range s {
		out = append(out, ParseSkillNames(raw)...)
	}
	return out
}

// ParseSkillNames splits a comma separated list into trimmed, non-empty names.
func ParseSkillNames(raw string) SkillNames {
	out := SkillNames{}
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ============================================================================
// Chats
// ============================================================================

// SelfSender replaces the sender id of messages written by the session user.
const SelfSender = "me"

// Chat is the canonical chat. Messages is empty until the chat detail is loaded.
type Chat struct {
	ID                    string    `json:"id"`
	ParticipantID         string    `json:"participantId"`
	ParticipantName       string    `json:"participantName"`
	ParticipantAvatarSeed string    `json:"participantAvatarSeed"`
	LastMessage           string    `json:"lastMessage"`
	Timestamp             time.Time `json:"timestamp"`
	UnreadCount           int       `json:"unreadCount"`
	Messages              []Message `json:"messages"`
}

type Message struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
	Image     string    `json:"image,omitempty"`
}

// IsMine reports whether the session user wrote the message.
func (m Message) IsMine() bool { return m.SenderID == SelfSender }

// Attachment is an image sent along with a message.
type Attachment struct {
	FileName string
	MimeType string
	Data     []byte
}

// ============================================================================
// Users
// ============================================================================

type User struct {
	ID         string  `json:"id" toml:"id"`
	Username   string  `json:"username" toml:"username"`
	Name       string  `json:"name" toml:"name"`
	Surname    string  `json:"surname,omitempty" toml:"surname"`
	Email      string  `json:"email,omitempty" toml:"email"`
	AvatarSeed string  `json:"avatarSeed,omitempty" toml:"avatar_seed"`
	Skillset   []Skill `json:"skillset" toml:"skillset"`
}

// DisplayName returns "name surname", falling back to name and then username.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	full := strings.TrimSpace(u.Name + " " + u.Surname)
	if full != "" {
		return full
	}
	return u.Username
}

// SkillNames lists the display names of the user's skillset.
func (u *User) SkillNames() []string {
	if u == nil {
		return nil
	}
	names := make([]string, 0, len(u.Skillset))
	for _, s := range u.Skillset {
		names = append(names, s.Name)
	}
	return names
}

type SignUpInput struct {
	Username  string `json:"username" validate:"required,min=3,max=150"`
	Password  string `json:"password" validate:"required,min=8"`
	Password2 string `json:"password2" validate:"required,eqfield=Password"`
	Name      string `json:"name" validate:"required"`
	Surname   string `json:"surname"`
	Email     string `json:"email" validate:"omitempty,email"`
}

// ProfileInput updates the session user's profile. Empty strings keep the
// current value; a nil Skills leaves the skillset untouched.
type ProfileInput struct {
	Name     string
	Surname  string
	Username string
	Email    string
	Skills   SkillNames
}
