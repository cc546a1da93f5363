package domain

// Candidate is the identity submitted in a registration attempt.
type Candidate struct {
	UserID      string `json:"userId"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	NationalID  string `json:"nationalId,omitempty"`
	DocumentRef string `json:"documentRef,omitempty"`
}

// RegistrationRequest is the client side of a registration attempt.
type RegistrationRequest struct {
	IPAddress         string              `json:"ipAddress,omitempty"`
	DeviceFingerprint string              `json:"deviceFingerprint,omitempty"`
	UserAgent         string              `json:"userAgent,omitempty"`
	Interaction       *InteractionMetrics `json:"interaction,omitempty"`
}

// Identity field names stored by RecordIdentity.
const (
	IdentityEmail      = "email"
	IdentityPhone      = "phone"
	IdentityNationalID = "national_id"
)

// OnboardingLookups are the Store facts gathered before onboarding
// extraction. Failed lookups are reported so confidence can be lowered.
type OnboardingLookups struct {
	// Duplicates maps identity field to the other accounts holding it.
	Duplicates     map[string][]string
	DeviceAccounts int
	IPDetections   int
	Failed         bool
}

// AccessLookups carry the daily read count before the current read.
type AccessLookups struct {
	DailyReads int64
	Failed     bool
}
