package domain

import (
	"fmt"
	"strings"
	"time"
)

// Category identifies the extractor family that handles an event.
type Category string

const (
	CategoryOnboarding Category = "onboarding"
	CategoryLogin      Category = "login"
	CategoryAccessScan Category = "access_scan"
)

// Valid reports whether an extractor family exists for the category.
func (c Category) Valid() bool {
	switch c {
	case CategoryOnboarding, CategoryLogin, CategoryAccessScan:
		return true
	}
	return false
}

// RuleType returns the rule type evaluated against events of this category.
func (c Category) RuleType() RuleType {
	switch c {
	case CategoryOnboarding:
		return RuleTypeOnboarding
	case CategoryLogin:
		return RuleTypeLogin
	case CategoryAccessScan:
		return RuleTypeAccess
	}
	return ""
}

// Event is a single observation about a subject. Exactly one of the
// category contexts is set, matching Category. Events are never mutated
// after construction.
type Event struct {
	Category   Category  `json:"category"`
	SubjectID  string    `json:"subjectId"`
	OccurredAt time.Time `json:"occurredAt"`

	Onboarding *OnboardingContext `json:"onboarding,omitempty"`
	Login      *LoginContext      `json:"login,omitempty"`
	Access     *AccessContext     `json:"access,omitempty"`

	// Extra carries optional category metadata. Extractors ignore it;
	// rules may reference it as "extra.<key>".
	Extra map[string]string `json:"extra,omitempty"`
}

// OnboardingContext describes an account registration attempt.
type OnboardingContext struct {
	Email             string `json:"email,omitempty"`
	Phone             string `json:"phone,omitempty"`
	NationalID        string `json:"nationalId,omitempty"`
	DocumentRef       string `json:"documentRef,omitempty"`
	IPAddress         string `json:"ipAddress,omitempty"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	UserAgent         string `json:"userAgent,omitempty"`

	// Interaction is nil when the client did not report form telemetry.
	Interaction *InteractionMetrics `json:"interaction,omitempty"`
}

// InteractionMetrics is client-side form telemetry.
type InteractionMetrics struct {
	FormCompletionSecs float64 `json:"formCompletionSecs"`
	PasteCount         int     `json:"pasteCount"`
	PointerEvents      int     `json:"pointerEvents"`
}

// LoginContext describes an authentication attempt.
type LoginContext struct {
	IPAddress         string `json:"ipAddress,omitempty"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	OS                string `json:"os,omitempty"`
	Browser           string `json:"browser,omitempty"`
	City              string `json:"city,omitempty"`
	Country           string `json:"country,omitempty"`
}

// AccessDirection is the direction of travel through a reader.
type AccessDirection string

const (
	DirectionEntry AccessDirection = "entry"
	DirectionExit  AccessDirection = "exit"
)

// AccessContext describes a credential scan at a physical reader.
type AccessContext struct {
	CredentialID string          `json:"credentialId"`
	ReaderID     string          `json:"readerId"`
	LocationID   string          `json:"locationId"`
	Direction    AccessDirection `json:"direction,omitempty"`

	// HolderID is the account the credential is issued to, when the
	// reader integration knows it.
	HolderID string `json:"holderId,omitempty"`
}

// Validate checks that the event can be routed to an extractor family.
func (e *Event) Validate() error {
	if !e.Category.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventCategory, e.Category)
	}
	if e.SubjectID == "" {
		return fmt.Errorf("%w: subject id is required", ErrInvalidInput)
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("%w: occurredAt is required", ErrInvalidInput)
	}

	var set int
	if e.Onboarding != nil {
		set++
	}
	if e.Login != nil {
		set++
	}
	if e.Access != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one event context must be set, got %d", ErrInvalidInput, set)
	}

	switch e.Category {
	case CategoryOnboarding:
		if e.Onboarding == nil {
			return fmt.Errorf("%w: onboarding event without onboarding context", ErrInvalidInput)
		}
	case CategoryLogin:
		if e.Login == nil {
			return fmt.Errorf("%w: login event without login context", ErrInvalidInput)
		}
	case CategoryAccessScan:
		if e.Access == nil {
			return fmt.Errorf("%w: access event without access context", ErrInvalidInput)
		}
		if e.Access.ReaderID == "" || e.Access.LocationID == "" {
			return fmt.Errorf("%w: readerId and locationId are required", ErrInvalidInput)
		}
	}
	return nil
}

// Fields flattens the event into named values for rule evaluation.
// Values are either string or float64. Hour and weekday are computed in loc.
func (e *Event) Fields(loc *time.Location) map[string]any {
	if loc == nil {
		loc = time.UTC
	}
	local := e.OccurredAt.In(loc)

	fields := map[string]any{
		"subject_id": e.SubjectID,
		"hour":       float64(local.Hour()),
		"weekday":    float64(local.Weekday()),
	}

	putString := func(name, value string) {
		if value != "" {
			fields[name] = value
		}
	}

	switch {
	case e.Onboarding != nil:
		o := e.Onboarding
		putString("email", strings.ToLower(o.Email))
		putString("phone", o.Phone)
		putString("national_id", o.NationalID)
		putString("document_ref", o.DocumentRef)
		putString("ip_address", o.IPAddress)
		putString("device_fingerprint", o.DeviceFingerprint)
		putString("user_agent", o.UserAgent)
		if o.Interaction != nil {
			fields["form_completion_secs"] = o.Interaction.FormCompletionSecs
			fields["paste_count"] = float64(o.Interaction.PasteCount)
			fields["pointer_events"] = float64(o.Interaction.PointerEvents)
		}
	case e.Login != nil:
		l := e.Login
		putString("ip_address", l.IPAddress)
		putString("device_fingerprint", l.DeviceFingerprint)
		putString("os", l.OS)
		putString("browser", l.Browser)
		putString("city", l.City)
		putString("country", l.Country)
	case e.Access != nil:
		a := e.Access
		putString("credential_id", a.CredentialID)
		putString("reader_id", a.ReaderID)
		putString("location_id", a.LocationID)
		putString("direction", string(a.Direction))
	}

	for k, v := range e.Extra {
		fields["extra."+k] = v
	}

	return fields
}

// UserID is the account that user-facing notifications go to. For an
// access scan that is the credential holder; without one the credential
// id stands in and the Notifier resolves it.
func (e *Event) UserID() string {
	if e.Access != nil && e.Access.HolderID != "" {
		return e.Access.HolderID
	}
	return e.SubjectID
}

// SourceIP returns the client address carried by the event, if any.
func (e *Event) SourceIP() string {
	switch {
	case e.Onboarding != nil:
		return e.Onboarding.IPAddress
	case e.Login != nil:
		return e.Login.IPAddress
	}
	return ""
}
