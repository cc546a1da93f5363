package domain

import "time"

// HistoryBounds caps every rolling history kept in a BehaviorProfile.
type HistoryBounds struct {
	LoginTimes  int `koanf:"login_times" json:"loginTimes"`
	Locations   int `koanf:"locations" json:"locations"`
	Devices     int `koanf:"devices" json:"devices"`
	AccessReads int `koanf:"access_reads" json:"accessReads"`
	Numeric     int `koanf:"numeric" json:"numeric"`
}

// DefaultHistoryBounds returns the shipped history sizes.
func DefaultHistoryBounds() HistoryBounds {
	return HistoryBounds{
		LoginTimes:  30,
		Locations:   10,
		Devices:     10,
		AccessReads: 10,
		Numeric:     30,
	}
}

// BehaviorProfile is a subject's rolling baseline for one event category.
// Every history is ordered oldest first and never exceeds its bound.
type BehaviorProfile struct {
	UserID   string   `json:"userId"`
	Category Category `json:"category"`

	LoginTimes  []TimeBucket         `json:"loginTimes,omitempty"`
	Locations   []GeoLocation        `json:"locations,omitempty"`
	Devices     []DeviceSignature    `json:"devices,omitempty"`
	AccessReads []AccessRead         `json:"accessReads,omitempty"`
	Numeric     map[string][]float64 `json:"numeric,omitempty"`

	// Samples counts every event folded into the profile.
	Samples      int       `json:"samples"`
	Confidence   float64   `json:"confidence"`
	LearningRate float64   `json:"learningRate"`
	Version      int64     `json:"version"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// TimeBucket is the weekday and hour of a past event.
type TimeBucket struct {
	Weekday time.Weekday `json:"weekday"`
	Hour    int          `json:"hour"`
}

// GeoLocation is a coarse, city level location.
type GeoLocation struct {
	City    string `json:"city,omitempty"`
	Country string `json:"country"`
}

// DeviceSignature identifies a client environment.
type DeviceSignature struct {
	OS          string `json:"os,omitempty"`
	Browser     string `json:"browser,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
}

// AccessRead is one past credential scan.
type AccessRead struct {
	ReaderID   string    `json:"readerId"`
	LocationID string    `json:"locationId"`
	At         time.Time `json:"at"`
}

// NewProfile returns an empty profile for a first time subject.
func NewProfile(userID string, category Category, learningRate float64) *BehaviorProfile {
	return &BehaviorProfile{
		UserID:       userID,
		Category:     category,
		Numeric:      make(map[string][]float64),
		LearningRate: learningRate,
	}
}

// Clone returns a deep copy so callers can derive a new profile without
// touching the one used for scoring.
func (p *BehaviorProfile) Clone() *BehaviorProfile {
	if p == nil {
		return nil
	}
	c := *p
	c.LoginTimes = append([]TimeBucket(nil), p.LoginTimes...)
	c.Locations = append([]GeoLocation(nil), p.Locations...)
	c.Devices = append([]DeviceSignature(nil), p.Devices...)
	c.AccessReads = append([]AccessRead(nil), p.AccessReads...)
	c.Numeric = make(map[string][]float64, len(p.Numeric))
	for k, v := range p.Numeric {
		c.Numeric[k] = append([]float64(nil), v...)
	}
	return &c
}

// LastLocation returns the most recent location, if any.
func (p *BehaviorProfile) LastLocation() (GeoLocation, bool) {
	if len(p.Locations) == 0 {
		return GeoLocation{}, false
	}
	return p.Locations[len(p.Locations)-1], true
}

// LastRead returns the most recent access read, if any.
func (p *BehaviorProfile) LastRead() (AccessRead, bool) {
	if len(p.AccessReads) == 0 {
		return AccessRead{}, false
	}
	return p.AccessReads[len(p.AccessReads)-1], true
}
