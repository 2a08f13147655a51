package domain

import "time"

// Coordinates is a point in decimal degrees
type Coordinates struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
}

// Validate checks the coordinates are on the globe.
func (c Coordinates) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return NewValidationError("latitude must be between -90 and 90")
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return NewValidationError("longitude must be between -180 and 180")
	}
	return nil
}

// MechanicProfile is the one-to-one extension of a mechanic user
type MechanicProfile struct {
	ID                string       `json:"id" bson:"_id"`
	UserID            string       `json:"userId" bson:"userId"`
	Specialization    string       `json:"specialization" bson:"specialization"`
	Experience        int          `json:"experience" bson:"experience"`
	CurrentLocation   *Coordinates `json:"currentLocation" bson:"currentLocation,omitempty"`
	IsAvailable       bool         `json:"isAvailable" bson:"isAvailable"`
	Rating            float64      `json:"rating" bson:"rating"`
	CompletedServices int          `json:"completedServices" bson:"completedServices"`
	CreatedAt         time.Time    `json:"createdAt" bson:"createdAt"`
}

const DefaultSpecialization = "General"

// NewMechanicProfile returns a profile with the registry defaults applied.
func NewMechanicProfile(id, userID, specialization string, experience int, now time.Time) *MechanicProfile {
	if specialization == "" {
		specialization = DefaultSpecialization
	}
	if experience < 0 {
		experience = 0
	}
	return &MechanicProfile{
		ID:             id,
		UserID:         userID,
		Specialization: specialization,
		Experience:     experience,
		IsAvailable:    true,
		CreatedAt:      now,
	}
}

// MechanicWithUser is a profile joined with its owner's contact details
type MechanicWithUser struct {
	*MechanicProfile
	User UserContact `json:"user"`
}

// ProximityDegrees is the half-width of the search box around a request.
const ProximityDegrees = 0.5

// BoundingBox is a latitude/longitude window. It approximates a radius
// search and is not a great-circle distance.
type BoundingBox struct {
	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64
}

func NewBoundingBox(center Coordinates, halfWidth float64) BoundingBox {
	return BoundingBox{
		MinLatitude:  center.Latitude - halfWidth,
		MaxLatitude:  center.Latitude + halfWidth,
		MinLongitude: center.Longitude - halfWidth,
		MaxLongitude: center.Longitude + halfWidth,
	}
}

// Contains reports whether c lies in the box, edges included.
func (b BoundingBox) Contains(c Coordinates) bool {
	return c.Latitude >= b.MinLatitude && c.Latitude <= b.MaxLatitude &&
		c.Longitude >= b.MinLongitude && c.Longitude <= b.MaxLongitude
}

// MatchesProximity reports whether the mechanic is eligible for a request in box.
func (m *MechanicProfile) MatchesProximity(box BoundingBox) bool {
	return m.IsAvailable && m.CurrentLocation != nil && box.Contains(*m.CurrentLocation)
}
