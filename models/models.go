package models

import (
	"sync"
	"time"
)

// Property type enumeration values accepted on create/update.
var PropertyTypes = []string{"house", "apartment", "condo", "townhouse", "land", "commercial"}

// Listing type enumeration values.
var ListingTypes = []string{"sale", "rent"}

// Status enumeration values. New properties default to "available".
var Statuses = []string{"available", "pending", "sold", "rented"}

// Roles assigned to profiles. Admins bypass ownership checks.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Profile represents a user account.
type Profile struct {
	ID               string    `json:"id"` // Unique ID (UUID, dashless)
	Name             string    `json:"name"`
	Email            string    `json:"email"` // Unique, used for login
	Phone            string    `json:"phone,omitempty"`
	Avatar           string    `json:"avatar,omitempty"` // URL to an avatar image
	Role             string    `json:"role"`             // "user" or "admin"
	PasswordHash     string    `json:"password_hash"`    // Store hash; include in JSON persistence, strip from API responses.
	CreationDate     time.Time `json:"creation_date"`    // UTC
	LastModifiedDate time.Time `json:"last_modified_date"` // UTC
}

// Location holds the address and geographic position of a property.
// Coordinates follow the GeoJSON convention: [longitude, latitude].
type Location struct {
	Address     string    `json:"address"`
	City        string    `json:"city"`
	State       string    `json:"state"`
	ZipCode     string    `json:"zip_code"`
	Country     string    `json:"country"` // Defaults to "USA"
	Coordinates []float64 `json:"coordinates"`
}

// Longitude returns the first coordinate, or 0 if coordinates are absent.
func (l Location) Longitude() float64 {
	if len(l.Coordinates) < 2 {
		return 0
	}
	return l.Coordinates[0]
}

// Latitude returns the second coordinate, or 0 if coordinates are absent.
func (l Location) Latitude() float64 {
	if len(l.Coordinates) < 2 {
		return 0
	}
	return l.Coordinates[1]
}

// HasCoordinates reports whether the location carries a usable [lng, lat] pair.
func (l Location) HasCoordinates() bool {
	return len(l.Coordinates) == 2
}

// Image is a stored CDN asset: a durable URL plus the opaque handle
// needed to delete it later.
type Image struct {
	URL      string `json:"url"`
	PublicID string `json:"public_id"`
}

// Property represents a real-estate listing.
type Property struct {
	ID           string    `json:"id"` // Unique ID (UUID, dashless)
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Price        float64   `json:"price"`
	PropertyType string    `json:"property_type"` // house, apartment, condo, townhouse, land, commercial
	ListingType  string    `json:"listing_type"`  // sale or rent
	Bedrooms     int       `json:"bedrooms"`
	Bathrooms    float64   `json:"bathrooms"` // Half-baths allowed, e.g. 2.5
	Area         float64   `json:"area"`      // Square feet
	Location     Location  `json:"location"`
	Amenities    []string  `json:"amenities,omitempty"`
	Images       []Image   `json:"images,omitempty"`
	Featured     bool      `json:"featured"`
	Status       string    `json:"status"`
	YearBuilt    int       `json:"year_built,omitempty"`
	Parking      int       `json:"parking"`
	OwnerID      string    `json:"owner_id"` // Profile ID of the owner
	Views        int       `json:"views"`    // Incremented by the record-view operation, not by searches
	Geohash      string    `json:"geohash,omitempty"` // Derived from coordinates on save; used for proximity prefiltering
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
}

// Database holds all application data and manages concurrent access.
type Database struct {
	Profiles   map[string]Profile  `json:"profiles"`   // Keyed by Profile ID (dashless)
	Properties map[string]Property `json:"properties"` // Keyed by Property ID (dashless)

	// Mutex for thread-safe access to the maps
	Mu sync.RWMutex `json:"-"` // Exclude mutex from serialization
}
