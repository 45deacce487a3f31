package repository

import "time"

// JSONText stores a raw JSON document in a text column and re-emits it
// verbatim when the record is serialized, so engine diagnostics survive
// persistence untouched.
type JSONText string

func (j JSONText) MarshalJSON() ([]byte, error) {
	if j == "" {
		return []byte("null"), nil
	}
	return []byte(j), nil
}

func (j *JSONText) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*j = ""
		return nil
	}
	*j = JSONText(data)
	return nil
}

// Subject is an end user whose body gets measured.
type Subject struct {
	ID          string     `gorm:"type:uuid;primaryKey" json:"id"`
	FirstName   string     `gorm:"size:100" json:"firstName"`
	LastName    string     `gorm:"size:100" json:"lastName"`
	Email       string     `gorm:"uniqueIndex;size:255" json:"email"`
	PhoneNumber string     `gorm:"size:20" json:"phoneNumber"`
	Gender      string     `gorm:"size:10" json:"gender"`
	DateOfBirth *time.Time `gorm:"type:date" json:"dateOfBirth,omitempty"`
	HeightCm    *float64   `json:"heightCm,omitempty"`
	WeightKg    *float64   `json:"weightKg,omitempty"`
	City        string     `gorm:"size:100" json:"city,omitempty"`
	Country     string     `gorm:"size:100" json:"country,omitempty"`
	IsActive    bool       `gorm:"default:true" json:"isActive"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (Subject) TableName() string {
	return "subjects"
}

// Provider is a service professional measurements can be shared with.
type Provider struct {
	ID           string    `gorm:"type:uuid;primaryKey" json:"id"`
	BusinessName string    `gorm:"size:100" json:"businessName"`
	OwnerName    string    `gorm:"size:100" json:"ownerName"`
	Email        string    `gorm:"uniqueIndex;size:255" json:"email"`
	PhoneNumber  string    `gorm:"size:20" json:"phoneNumber"`
	City         string    `gorm:"size:100" json:"city,omitempty"`
	Country      string    `gorm:"size:100" json:"country,omitempty"`
	Bio          string    `gorm:"type:text" json:"bio,omitempty"`
	Rating       float64   `gorm:"default:0" json:"rating"`
	TotalOrders  int       `gorm:"default:0" json:"totalOrders"`
	IsActive     bool      `gorm:"default:true" json:"isActive"`
	IsVerified   bool      `gorm:"default:false" json:"isVerified"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (Provider) TableName() string {
	return "providers"
}

// Measurement is one completed processing result. SubjectID, Height and the
// image paths are fixed at creation; metric fields are nil when the engine
// could not determine them, never zero.
type Measurement struct {
	ID        string   `gorm:"type:uuid;primaryKey" json:"id"`
	SubjectID string   `gorm:"type:uuid;index" json:"subjectId"`
	Subject   *Subject `gorm:"foreignKey:SubjectID" json:"subject,omitempty"`

	Height float64 `json:"height"`

	ShoulderWidth      *float64 `json:"shoulderWidth"`
	ChestCircumference *float64 `json:"chestCircumference"`
	WaistCircumference *float64 `json:"waistCircumference"`
	HipCircumference   *float64 `json:"hipCircumference"`
	SleeveLength       *float64 `json:"sleeveLength"`
	UpperArmLength     *float64 `json:"upperArmLength"`
	NeckCircumference  *float64 `json:"neckCircumference"`
	Inseam             *float64 `json:"inseam"`
	TorsoLength        *float64 `json:"torsoLength"`
	BicepCircumference *float64 `json:"bicepCircumference"`
	WristCircumference *float64 `json:"wristCircumference"`
	ThighCircumference *float64 `json:"thighCircumference"`

	FrontImagePath string `gorm:"type:text" json:"frontImagePath"`
	SideImagePath  string `gorm:"type:text" json:"sideImagePath"`

	// Raw engine diagnostics, stored verbatim.
	Metadata   JSONText `gorm:"type:text" json:"metadata,omitempty"`
	Confidence JSONText `gorm:"type:text" json:"confidence,omitempty"`

	Notes      string    `gorm:"type:text" json:"notes,omitempty"`
	IsFavorite bool      `gorm:"default:false" json:"isFavorite"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`

	Shares []SharedMeasurement `gorm:"foreignKey:MeasurementID" json:"shares,omitempty"`
}

func (Measurement) TableName() string {
	return "measurements"
}

// ShareStatus is the lifecycle state of a SharedMeasurement.
type ShareStatus string

const (
	ShareStatusPending  ShareStatus = "pending"
	ShareStatusViewed   ShareStatus = "viewed"
	ShareStatusAccepted ShareStatus = "accepted"
	ShareStatusRejected ShareStatus = "rejected"
)

// Actionable reports whether a provider may still accept or reject.
func (s ShareStatus) Actionable() bool {
	return s == ShareStatusPending || s == ShareStatusViewed
}

// Terminal reports whether the share has reached a final state.
func (s ShareStatus) Terminal() bool {
	return s == ShareStatusAccepted || s == ShareStatusRejected
}

// SharedMeasurement is one offer of a measurement to a provider. The unique
// index keeps at most one share per (measurement, provider) pair.
type SharedMeasurement struct {
	ID            string `gorm:"type:uuid;primaryKey" json:"id"`
	SubjectID     string `gorm:"type:uuid;index" json:"subjectId"`
	MeasurementID string `gorm:"type:uuid;uniqueIndex:idx_share_measurement_provider" json:"measurementId"`
	ProviderID    string `gorm:"type:uuid;uniqueIndex:idx_share_measurement_provider;index" json:"providerId"`

	Subject     *Subject     `gorm:"foreignKey:SubjectID" json:"subject,omitempty"`
	Measurement *Measurement `gorm:"foreignKey:MeasurementID" json:"measurement,omitempty"`
	Provider    *Provider    `gorm:"foreignKey:ProviderID" json:"provider,omitempty"`

	Status        ShareStatus `gorm:"size:16;default:pending" json:"status"`
	Message       string      `gorm:"type:text" json:"message,omitempty"`
	ProviderNotes string      `gorm:"type:text" json:"providerNotes,omitempty"`
	ViewedAt      *time.Time  `json:"viewedAt"`
	SharedAt      time.Time   `gorm:"autoCreateTime" json:"sharedAt"`
}

func (SharedMeasurement) TableName() string {
	return "shared_measurements"
}
