package domain

// IndicatorSource tells whether an indicator came from an extractor or a rule.
type IndicatorSource string

const (
	SourceExtractor IndicatorSource = "extractor"
	SourceRule      IndicatorSource = "rule"
)

// Indicator is one named, scored piece of evidence about an event.
type Indicator struct {
	Name      string          `json:"name"`
	Score     float64         `json:"score"`
	Source    IndicatorSource `json:"source"`
	RuleID    string          `json:"ruleId,omitempty"`
	Rationale string          `json:"rationale,omitempty"`
}

// Indicator names emitted by the signal extractors.
const (
	IndicatorDuplicateEmail      = "duplicate_email"
	IndicatorDuplicatePhone      = "duplicate_phone"
	IndicatorDuplicateNationalID = "duplicate_national_id"
	IndicatorDeviceReuse         = "device_reuse"
	IndicatorFormTooFast         = "automation_form_fast"
	IndicatorFormTooSlow         = "automation_form_slow"
	IndicatorExcessivePaste      = "automation_paste"
	IndicatorNoPointer           = "automation_no_pointer"
	IndicatorPrivateIP           = "ip_private_address"
	IndicatorIPBurst             = "ip_detection_burst"

	IndicatorUnusualHour      = "login_unusual_hour"
	IndicatorOffHoursLogin    = "login_off_hours"
	IndicatorGeoNewCity       = "geo_new_city"
	IndicatorGeoNewCountry    = "geo_new_country"
	IndicatorGeoCountrySwitch = "geo_country_switch"
	IndicatorNewDevice        = "login_new_device"

	IndicatorDuplicateRead    = "access_duplicate_read"
	IndicatorImpossibleTravel = "access_impossible_travel"
	IndicatorOffHoursAccess   = "access_off_hours"
	IndicatorWeekendAccess    = "access_weekend"
	IndicatorExcessiveUse     = "access_excessive_daily_use"
)

// IndicatorWeights are the fixed per-indicator scores used by the extractors.
// They are configuration so operators can tune them without a redeploy.
type IndicatorWeights struct {
	DuplicateEmail      float64 `koanf:"duplicate_email" json:"duplicateEmail"`
	DuplicatePhone      float64 `koanf:"duplicate_phone" json:"duplicatePhone"`
	DuplicateNationalID float64 `koanf:"duplicate_national_id" json:"duplicateNationalId"`
	DeviceReuse         float64 `koanf:"device_reuse" json:"deviceReuse"`
	FormTooFast         float64 `koanf:"form_too_fast" json:"formTooFast"`
	FormTooSlow         float64 `koanf:"form_too_slow" json:"formTooSlow"`
	ExcessivePaste      float64 `koanf:"excessive_paste" json:"excessivePaste"`
	NoPointer           float64 `koanf:"no_pointer" json:"noPointer"`
	PrivateIP           float64 `koanf:"private_ip" json:"privateIp"`
	IPBurst             float64 `koanf:"ip_burst" json:"ipBurst"`

	UnusualHour      float64 `koanf:"unusual_hour" json:"unusualHour"`
	OffHoursLogin    float64 `koanf:"off_hours_login" json:"offHoursLogin"`
	GeoNewCity       float64 `koanf:"geo_new_city" json:"geoNewCity"`
	GeoNewCountry    float64 `koanf:"geo_new_country" json:"geoNewCountry"`
	GeoCountrySwitch float64 `koanf:"geo_country_switch" json:"geoCountrySwitch"`
	NewDevice        float64 `koanf:"new_device" json:"newDevice"`

	DuplicateRead    float64 `koanf:"duplicate_read" json:"duplicateRead"`
	ImpossibleTravel float64 `koanf:"impossible_travel" json:"impossibleTravel"`
	OffHoursAccess   float64 `koanf:"off_hours_access" json:"offHoursAccess"`
	WeekendAccess    float64 `koanf:"weekend_access" json:"weekendAccess"`
	ExcessiveUse     float64 `koanf:"excessive_use" json:"excessiveUse"`
}

// DefaultIndicatorWeights returns the shipped indicator scores.
func DefaultIndicatorWeights() IndicatorWeights {
	return IndicatorWeights{
		DuplicateEmail:      0.5,
		DuplicatePhone:      0.4,
		DuplicateNationalID: 0.7,
		DeviceReuse:         0.4,
		FormTooFast:         0.35,
		FormTooSlow:         0.1,
		ExcessivePaste:      0.3,
		NoPointer:           0.25,
		PrivateIP:           0.3,
		IPBurst:             0.35,

		UnusualHour:      0.2,
		OffHoursLogin:    0.35,
		GeoNewCity:       0.15,
		GeoNewCountry:    0.6,
		GeoCountrySwitch: 0.55,
		NewDevice:        0.25,

		DuplicateRead:    0.1,
		ImpossibleTravel: 0.45,
		OffHoursAccess:   0.2,
		WeekendAccess:    0.1,
		ExcessiveUse:     0.3,
	}
}
