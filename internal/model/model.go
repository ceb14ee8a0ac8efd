package model

import "time"

// Frequency is the recurrence family of a ScheduleRule.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencySpecific Frequency = "specific"
)

// ScheduleSourceFramework marks drafts created by the materializer.
const ScheduleSourceFramework = "framework"

// JobStatusPending is the initial status of every job.
const JobStatusPending = "pending"

// Brand owns subcategories, rules, drafts and jobs.
type Brand struct {
	ID   string
	Name string

	// Timezone is an IANA zone name. Empty means the configured default.
	Timezone string
}

// Subcategory is the content theme a rule posts about (e.g. "Go Karting").
type Subcategory struct {
	ID          string
	BrandID     string
	Name        string
	Description string
	URL         string
}

// ScheduleRule declares the posting cadence of one subcategory.
//
// Dates (StartDate, EndDate) are civil dates; only year/month/day are used.
type ScheduleRule struct {
	ID            string
	BrandID       string
	SubcategoryID string
	Frequency     Frequency

	// DaysOfWeek holds ISO weekdays, Monday=1 .. Sunday=7.
	DaysOfWeek []int
	// DayOfMonth holds one or more day-of-month values for monthly rules.
	DayOfMonth []int
	// NthWeek + Weekday select "the Nth <weekday> of the month".
	NthWeek int
	Weekday int

	StartDate  *time.Time
	EndDate    *time.Time
	DaysBefore []int
	DaysDuring []int

	// TimeOfDay is the brand-local posting time, "HH:MM". Empty uses the default.
	TimeOfDay string
	// URL overrides the subcategory URL for copy generation when set.
	URL string

	IsActive bool
	Channels []string
}

// UsesNthWeekday reports whether a monthly rule is of the nth-weekday variant.
func (r ScheduleRule) UsesNthWeekday() bool {
	return r.NthWeek > 0 && r.Weekday > 0
}

// Target is one occurrence of a rule: a subcategory due at an instant.
type Target struct {
	SubcategoryID  string
	ScheduledAt    time.Time
	ScheduleRuleID string
}

// DraftKey is the uniqueness key of a framework draft.
type DraftKey struct {
	BrandID        string
	SubcategoryID  string
	ScheduledAtUTC time.Time
	Source         string
}

// Draft is the persisted work item for one occurrence.
type Draft struct {
	ID             string
	BrandID        string
	SubcategoryID  string
	ScheduleRuleID string
	Source         string

	Channel            string
	ScheduledAtUTC     time.Time
	ScheduledAtFixedTZ string

	Approved  bool
	Copy      string
	AssetIDs  []string
	PostJobID string

	CreatedAt time.Time
}

// Key returns the uniqueness key of d.
func (d Draft) Key() DraftKey {
	return DraftKey{
		BrandID:        d.BrandID,
		SubcategoryID:  d.SubcategoryID,
		ScheduledAtUTC: d.ScheduledAtUTC,
		Source:         d.Source,
	}
}

// Job is one per-channel unit of work derived from a Draft.
type Job struct {
	ID             string
	DraftID        string
	ScheduleRuleID string
	Channel        string

	// TargetMonth is the first day of the scheduled month, in UTC.
	TargetMonth      time.Time
	ScheduledAtUTC   time.Time
	ScheduledAtLocal string
	ScheduledTZ      string
	Status           string
}

// Asset is a library item that can be attached to drafts.
type Asset struct {
	ID            string
	BrandID       string
	SubcategoryID string
	LastUsedAt    *time.Time
}
