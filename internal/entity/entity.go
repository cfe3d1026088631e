// Package entity defines the identifier taxonomy and the candidate/resolved
// entity types shared by the detection, resolution, and transformation stages.
//
// Categories form a closed set: detectors may emit arbitrary label strings,
// but Normalize folds every label into a known Category (or Unknown), so the
// rest of the pipeline never dispatches on raw detector output.
package entity

// Category classifies the kind of identifier found in text.
type Category string

// Known identifier categories, after taxonomy normalization.
const (
	CategoryURL        Category = "URL"
	CategoryEmail      Category = "EMAIL_ADDRESS"
	CategoryIPAddress  Category = "IP_ADDRESS"
	CategorySSN        Category = "US_SSN"
	CategoryVehicleID  Category = "VEHICLE_ID"
	CategoryDeviceID   Category = "DEVICE_ID"
	CategoryHealthPlan Category = "HEALTH_PLAN_ID"
	CategoryAccount    Category = "ACCOUNT_NUMBER"
	CategoryLicense    Category = "LICENSE_NUMBER"
	CategoryMRN        Category = "MRN"
	CategoryEncounter  Category = "ENCOUNTER_ID"
	CategoryPhone      Category = "PHONE_NUMBER"
	CategoryFax        Category = "FAX_NUMBER"
	CategoryDate       Category = "DATE"
	CategoryPhotoID    Category = "PHOTO_ID"
	CategoryBiometric  Category = "BIOMETRIC_ID"
	CategoryName       Category = "NAME"
	CategoryLocation   Category = "LOCATION"
	CategoryZIP        Category = "ZIP"
	CategoryAgeOver89  Category = "AGE_OVER_89"
	CategoryOtherID    Category = "OTHER_ID"
	CategoryOrg        Category = "ORGANIZATION"
	CategoryUnknown    Category = "UNKNOWN"

	// CategoryClinicalVital tags preserve spans produced by the clinical
	// measurement finder. It never appears in resolved output.
	CategoryClinicalVital Category = "CLINICAL_VITAL"
)

// Source identifies which kind of detector produced a candidate.
type Source string

// Detector sources.
const (
	SourceRule        Source = "rule"
	SourceStatistical Source = "statistical"
	SourceLearned     Source = "learned"
	SourcePreserve    Source = "clinical-preserve"
	SourceUnknown     Source = "unknown"
)

// rawLabels folds detector-specific label strings into the closed taxonomy.
var rawLabels = map[string]Category{
	"PERSON": CategoryName,
	"NAME":   CategoryName,

	"DATE": CategoryDate,

	"ADDRESS":                CategoryLocation,
	"LOCATION":               CategoryLocation,
	"CITY":                   CategoryLocation,
	"STATE":                  CategoryLocation,
	"ZIP":                    CategoryZIP,
	"GEOGRAPHIC_SUBDIVISION": CategoryLocation,

	"EMAIL_ADDRESS": CategoryEmail,
	"EMAIL":         CategoryEmail,
	"PHONE_NUMBER":  CategoryPhone,
	"PHONE":         CategoryPhone,
	"FAX_NUMBER":    CategoryFax,

	"US_SSN":                         CategorySSN,
	"SSN":                            CategorySSN,
	"MEDICAL_RECORD_NUMBER":          CategoryMRN,
	"MRN":                            CategoryMRN,
	"ENCOUNTER_ID":                   CategoryEncounter,
	"ACCOUNT_NUMBER":                 CategoryAccount,
	"HEALTH_PLAN_BENEFICIARY_NUMBER": CategoryHealthPlan,
	"HEALTH_PLAN_ID":                 CategoryHealthPlan,
	"LICENSE_NUMBER":                 CategoryLicense,
	"VEHICLE_ID":                     CategoryVehicleID,
	"VIN":                            CategoryVehicleID,
	"DEVICE_ID":                      CategoryDeviceID,

	"URL":        CategoryURL,
	"IP_ADDRESS": CategoryIPAddress,

	"BIOMETRIC_ID":    CategoryBiometric,
	"FULL_FACE_PHOTO": CategoryPhotoID,
	"PHOTO_ID":        CategoryPhotoID,

	"AGE_OVER_89": CategoryAgeOver89,

	"OTHER_ID":     CategoryOtherID,
	"ORGANIZATION": CategoryOrg,

	"CLINICAL_VITAL": CategoryClinicalVital,
}

// Normalize folds a raw detector label into the closed taxonomy.
// Unrecognized labels become CategoryUnknown.
func Normalize(label string) Category {
	if c, ok := rawLabels[label]; ok {
		return c
	}
	return CategoryUnknown
}

// precedence is the fixed category order used for overlap resolution.
// Most specific (atomic, structured) first; position = priority, lower wins.
var precedence = []Category{
	CategoryURL,
	CategoryEmail,
	CategoryIPAddress,
	CategorySSN,
	CategoryVehicleID,
	CategoryDeviceID,
	CategoryHealthPlan,
	CategoryAccount,
	CategoryLicense,
	CategoryMRN,
	CategoryEncounter,
	CategoryPhone,
	CategoryFax,
	CategoryDate,
	CategoryPhotoID,
	CategoryBiometric,
	CategoryName,
	CategoryLocation,
	CategoryZIP,
	CategoryAgeOver89,
	CategoryOtherID,
	CategoryOrg,
}

var priority = func() map[Category]int {
	m := make(map[Category]int, len(precedence))
	for i, c := range precedence {
		m[c] = i
	}
	return m
}()

// Priority returns the overlap-resolution rank for a category.
// Lower is kept preferentially. Unknown categories rank last.
func Priority(c Category) int {
	if p, ok := priority[c]; ok {
		return p
	}
	return len(precedence)
}

// atomic lists categories whose spans must never be partially replaced.
// Before substitution they are re-expanded to full token boundaries.
var atomic = map[Category]bool{
	CategoryURL:        true,
	CategoryEmail:      true,
	CategoryIPAddress:  true,
	CategorySSN:        true,
	CategoryVehicleID:  true,
	CategoryDeviceID:   true,
	CategoryAccount:    true,
	CategoryHealthPlan: true,
	CategoryLicense:    true,
	CategoryMRN:        true,
	CategoryEncounter:  true,
	CategoryDate:       true,
}

// IsAtomic reports whether spans of this category are indivisible tokens.
func IsAtomic(c Category) bool { return atomic[c] }

// headerWhitelist holds section-header phrases and clinical terms that must
// never be transformed even when a detector classifies them as identifiers.
var headerWhitelist = map[string]bool{
	"HIPAA":       true,
	"Safe Harbor": true,
	"Identifiers": true,

	"Chief Complaint":            true,
	"History of Present Illness": true,
	"HPI":                        true,
	"Past Medical History":       true,
	"PMH":                        true,
	"Medications":                true,
	"Assessment":                 true,
	"Plan":                       true,
	"Follow-up":                  true,
	"Labs":                       true,
	"Vitals":                     true,
	"Discharge Meds":             true,
	"Hospital Course":            true,
	"Principal Diagnosis":        true,
	"Procedure":                  true,

	"NSTEMI": true,
	"STEMI":  true,
	"CABG":   true,
	"T1DM":   true,
	"T2DM":   true,
	"HTN":    true,
	"POD":    true,
	"BID":    true,
	"TID":    true,
	"QID":    true,
	"mmHg":   true,
	"A1c":    true,
	"LDL":    true,
	"HDL":    true,

	"metformin":    true,
	"lisinopril":   true,
	"atorvastatin": true,
	"aspirin":      true,
	"clopidogrel":  true,
	"metoprolol":   true,
	"insulin":      true,
}

// IsWhitelistedTerm reports whether text is a protected header phrase or
// clinical term.
func IsWhitelistedTerm(text string) bool { return headerWhitelist[text] }

// Candidate is an unresolved identifier span proposed by a detector.
// Coordinates are canonical until projection, original afterwards; the
// pipeline tracks which stage a slice came from.
type Candidate struct {
	Start      int
	End        int
	Category   Category
	Confidence float64
	Source     Source
	Text       string // denormalized snippet, populated after projection
}

// Resolved is a final, non-overlapping identifier span in original-text
// coordinates, chosen by the conflict resolver.
type Resolved struct {
	Start      int
	End        int
	Category   Category
	Confidence float64
	Source     Source
	Text       string
}

// Len returns the span length in bytes.
func (c Candidate) Len() int { return c.End - c.Start }

// Len returns the span length in bytes.
func (r Resolved) Len() int { return r.End - r.Start }

// Overlaps reports whether two half-open spans intersect.
func (c Candidate) Overlaps(o Candidate) bool {
	return c.Start < o.End && c.End > o.Start
}

// Contains reports whether c fully contains o.
func (c Candidate) Contains(o Candidate) bool {
	return c.Start <= o.Start && c.End >= o.End
}
