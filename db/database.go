package db

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"openhouse/config"
	"openhouse/models"
	"openhouse/utils"

	"github.com/mmcloughlin/geohash"
)

// storedGeohashPrecision is the precision used for the geohash derived from a
// property's coordinates on save. Proximity search matches cell prefixes
// against it, so it must be at least as fine as any prefilter precision.
const storedGeohashPrecision = 12

// Database holds all application data and manages concurrent access.
// The embedded models.Database supplies the data maps and their mutex; the
// fields here drive the debounced JSON-file persistence.
type Database struct {
	models.Database
	config      *config.Config
	saveTimer   *time.Timer // Timer for debounced saving
	savePending bool        // Flag to indicate if a save is queued
	saveMutex   sync.Mutex  // Mutex specifically for the save timer logic
}

// NewDatabase creates and initializes a new Database instance.
// It attempts to load existing data from the configured file; a missing file
// simply starts an empty store.
func NewDatabase(cfg *config.Config) (*Database, error) {
	db := &Database{
		Database: models.Database{
			Profiles:   make(map[string]models.Profile),
			Properties: make(map[string]models.Property),
		},
		config: cfg,
	}

	log.Printf("INFO: Initializing database with file: %s", cfg.DbFilePath)
	if err := db.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("ERROR: Database Load failed with critical error: %v", err)
			return nil, err
		}
	}

	return db, nil
}

// Load reads the database state from the JSON file specified in the configuration.
// If the file doesn't exist, it initializes an empty database state.
// If the file exists but cannot be parsed, it returns the parse error.
func (db *Database) Load() error {
	db.Database.Mu.Lock()
	defer db.Database.Mu.Unlock()

	fileData, err := os.ReadFile(db.config.DbFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("INFO: Database file '%s' not found. Initializing empty database.", db.config.DbFilePath)
			db.Database.Profiles = make(map[string]models.Profile)
			db.Database.Properties = make(map[string]models.Property)
			return nil
		}
		log.Printf("ERROR: Failed to read database file '%s': %v. Proceeding with empty state.", db.config.DbFilePath, err)
		db.Database.Profiles = make(map[string]models.Profile)
		db.Database.Properties = make(map[string]models.Property)
		return nil
	}

	if err := json.Unmarshal(fileData, &db.Database); err != nil {
		log.Printf("CRITICAL: Failed to parse JSON data from database file '%s': %v", db.config.DbFilePath, err)
		if db.Database.Profiles == nil {
			db.Database.Profiles = make(map[string]models.Profile)
		}
		if db.Database.Properties == nil {
			db.Database.Properties = make(map[string]models.Property)
		}
		return err
	}

	// Guard against a file that had null values for the maps.
	if db.Database.Profiles == nil {
		db.Database.Profiles = make(map[string]models.Profile)
	}
	if db.Database.Properties == nil {
		db.Database.Properties = make(map[string]models.Property)
	}

	log.Printf("INFO: Successfully loaded database from %s. Profiles: %d, Properties: %d",
		db.config.DbFilePath, len(db.Database.Profiles), len(db.Database.Properties))

	return nil
}

// persist saves the current database state to the JSON file.
// This is the actual file writing logic, called by the debounced mechanism.
func (db *Database) persist() error {
	db.Database.Mu.RLock()
	jsonData, err := json.MarshalIndent(&db.Database, "", "  ")
	db.Database.Mu.RUnlock()
	if err != nil {
		log.Printf("ERROR: Failed to marshal database state to JSON: %v", err)
		return err
	}

	// Atomic write: temp file first, optional backup, then rename into place.
	tempFilePath := db.config.DbFilePath + ".tmp"
	backupFilePath := db.config.DbFilePath + ".bak"

	if err := os.WriteFile(tempFilePath, jsonData, 0644); err != nil {
		log.Printf("ERROR: Failed to write to temporary database file '%s': %v", tempFilePath, err)
		return err
	}

	if db.config.EnableBackup {
		if _, err := os.Stat(db.config.DbFilePath); err == nil {
			if err := os.Rename(db.config.DbFilePath, backupFilePath); err != nil {
				log.Printf("WARN: Failed to rename '%s' to '%s' for backup: %v. Proceeding with save.", db.config.DbFilePath, backupFilePath, err)
			}
		}
	}

	if err := os.Rename(tempFilePath, db.config.DbFilePath); err != nil {
		log.Printf("ERROR: Failed to atomically rename temporary file '%s' to '%s': %v", tempFilePath, db.config.DbFilePath, err)
		_ = os.Remove(tempFilePath)
		return err
	}

	log.Printf("INFO: Successfully saved database state to %s", db.config.DbFilePath)
	return nil
}

// requestSave is called after every write operation to trigger a debounced save.
func (db *Database) requestSave() {
	db.saveMutex.Lock()
	defer db.saveMutex.Unlock()

	// Instant save if interval is zero or negative
	if db.config.SaveInterval <= 0 {
		go func() {
			if err := db.persist(); err != nil {
				log.Printf("ERROR: Immediate persist failed: %v", err)
			}
		}()
		return
	}

	// Debounced save: reset any running timer and start a fresh one.
	if db.saveTimer != nil {
		db.saveTimer.Stop()
	}
	db.savePending = true

	db.saveTimer = time.AfterFunc(db.config.SaveInterval, func() {
		db.saveMutex.Lock()
		if !db.savePending {
			db.saveMutex.Unlock()
			return
		}
		db.savePending = false
		db.saveMutex.Unlock()

		if err := db.persist(); err != nil {
			log.Printf("ERROR: Debounced persist failed: %v", err)
		}
	})
}

// Close ensures any pending save operation is completed before shutdown.
func (db *Database) Close() error {
	var needsFinalPersist bool

	db.saveMutex.Lock()
	if db.saveTimer != nil {
		db.saveTimer.Stop()
		db.saveTimer = nil
	}
	if db.savePending {
		needsFinalPersist = true
		db.savePending = false
	}
	db.saveMutex.Unlock()

	if needsFinalPersist {
		log.Printf("INFO: Performing final persist operation on close...")
		if err := db.persist(); err != nil {
			log.Printf("ERROR: Final persist operation failed during close: %v", err)
			return err
		}
	}

	return nil
}

// --- CRUD Methods: Profiles ---

// CreateProfile adds a new profile to the database.
// It checks for email uniqueness (case-insensitive).
func (db *Database) CreateProfile(profile models.Profile) (models.Profile, error) {
	db.Database.Mu.Lock()
	defer db.Database.Mu.Unlock()

	for _, existing := range db.Database.Profiles {
		if strings.EqualFold(existing.Email, profile.Email) {
			return models.Profile{}, fmt.Errorf("email '%s' already exists", profile.Email)
		}
	}

	if profile.ID == "" {
		profile.ID = utils.GenerateDashlessUUID()
	}
	if profile.Role == "" {
		profile.Role = models.RoleUser
	}
	now := time.Now().UTC()
	if profile.CreationDate.IsZero() {
		profile.CreationDate = now
	}
	profile.LastModifiedDate = now

	db.Database.Profiles[profile.ID] = profile
	log.Printf("INFO: Created Profile ID: %s, Email: %s", profile.ID, profile.Email)

	db.requestSave()

	return profile, nil
}

// GetProfileByID retrieves a profile by its ID.
func (db *Database) GetProfileByID(id string) (models.Profile, bool) {
	db.Database.Mu.RLock()
	defer db.Database.Mu.RUnlock()

	profile, found := db.Database.Profiles[id]
	return profile, found
}

// UpdateProfile replaces the mutable fields of a profile. Identity fields
// (ID, email, password hash, role) and the creation time are preserved.
func (db *Database) UpdateProfile(id string, updated models.Profile) (models.Profile, error) {
	db.Database.Mu.Lock()
	defer db.Database.Mu.Unlock()

	existing, found := db.Database.Profiles[id]
	if !found {
		return models.Profile{}, fmt.Errorf("profile with ID '%s' not found", id)
	}

	updated.ID = existing.ID
	updated.Email = existing.Email
	updated.PasswordHash = existing.PasswordHash
	updated.Role = existing.Role
	updated.CreationDate = existing.CreationDate
	updated.LastModifiedDate = time.Now().UTC()

	db.Database.Profiles[id] = updated
	log.Printf("INFO: Updated Profile ID: %s", id)

	db.requestSave()

	return updated, nil
}

// GetProfileByEmail retrieves a profile by its email address (case-insensitive).
func (db *Database) GetProfileByEmail(email string) (models.Profile, bool) {
	db.Database.Mu.RLock()
	defer db.Database.Mu.RUnlock()

	for _, profile := range db.Database.Profiles {
		if strings.EqualFold(profile.Email, email) {
			return profile, true
		}
	}
	return models.Profile{}, false
}

// --- CRUD Methods: Properties ---

// CreateProperty adds a new property to the database. The caller is expected
// to have validated the property; this method assigns the ID, timestamps and
// the geohash derived from the location.
func (db *Database) CreateProperty(prop models.Property) (models.Property, error) {
	db.Database.Mu.Lock()
	defer db.Database.Mu.Unlock()

	if prop.OwnerID == "" {
		return models.Property{}, fmt.Errorf("property must have an OwnerID")
	}

	prop.ID = utils.GenerateDashlessUUID()
	now := time.Now().UTC()
	prop.CreatedAt = now
	prop.UpdatedAt = now
	prop.Views = 0
	if prop.Status == "" {
		prop.Status = "available"
	}
	if prop.Location.Country == "" {
		prop.Location.Country = "USA"
	}
	if prop.Location.HasCoordinates() {
		prop.Geohash = geohash.EncodeWithPrecision(prop.Location.Latitude(), prop.Location.Longitude(), storedGeohashPrecision)
	}

	db.Database.Properties[prop.ID] = prop
	log.Printf("INFO: Created Property ID: %s, OwnerID: %s", prop.ID, prop.OwnerID)

	db.requestSave()

	return prop, nil
}

// GetPropertyByID retrieves a property by its ID. This is a pure read; view
// counting is the separate RecordPropertyView operation.
func (db *Database) GetPropertyByID(id string) (models.Property, bool) {
	db.Database.Mu.RLock()
	defer db.Database.Mu.RUnlock()

	prop, found := db.Database.Properties[id]
	return prop, found
}

// RecordPropertyView increments the view counter of a property and returns the
// new count. It is invoked by the single-entity fetch path after a successful
// read; failures here must not fail the read itself. The counter is
// last-write-wins under the store lock, not a strict count.
func (db *Database) RecordPropertyView(id string) (int, error) {
	db.Database.Mu.Lock()
	defer db.Database.Mu.Unlock()

	prop, found := db.Database.Properties[id]
	if !found {
		return 0, fmt.Errorf("property with ID '%s' not found", id)
	}

	prop.Views++
	db.Database.Properties[id] = prop

	db.requestSave()

	return prop.Views, nil
}

// UpdateProperty replaces the mutable fields of an existing property.
// ID, owner, creation time and view count are preserved; UpdatedAt and the
// geohash are refreshed.
func (db *Database) UpdateProperty(id string, updated models.Property) (models.Property, error) {
	db.Database.Mu.Lock()
	defer db.Database.Mu.Unlock()

	existing, found := db.Database.Properties[id]
	if !found {
		return models.Property{}, fmt.Errorf("property with ID '%s' not found", id)
	}

	updated.ID = existing.ID
	updated.OwnerID = existing.OwnerID
	updated.CreatedAt = existing.CreatedAt
	updated.Views = existing.Views
	updated.UpdatedAt = time.Now().UTC()
	if updated.Status == "" {
		updated.Status = existing.Status
	}
	if updated.Location.Country == "" {
		updated.Location.Country = "USA"
	}
	updated.Geohash = ""
	if updated.Location.HasCoordinates() {
		updated.Geohash = geohash.EncodeWithPrecision(updated.Location.Latitude(), updated.Location.Longitude(), storedGeohashPrecision)
	}

	db.Database.Properties[id] = updated
	log.Printf("INFO: Updated Property ID: %s", id)

	db.requestSave()

	return updated, nil
}

// DeleteProperty removes a property by its ID.
func (db *Database) DeleteProperty(id string) error {
	db.Database.Mu.Lock()
	defer db.Database.Mu.Unlock()

	if _, found := db.Database.Properties[id]; !found {
		return fmt.Errorf("property with ID '%s' not found", id)
	}

	delete(db.Database.Properties, id)
	log.Printf("INFO: Deleted Property ID: %s", id)

	db.requestSave()

	return nil
}

// GetPropertiesByOwner retrieves all properties owned by a profile,
// newest first.
func (db *Database) GetPropertiesByOwner(ownerID string) []models.Property {
	db.Database.Mu.RLock()
	defer db.Database.Mu.RUnlock()

	props := make([]models.Property, 0)
	for _, prop := range db.Database.Properties {
		if prop.OwnerID == ownerID {
			props = append(props, prop)
		}
	}

	sort.SliceStable(props, func(i, j int) bool {
		return props[i].CreatedAt.After(props[j].CreatedAt)
	})

	return props
}

// GetAllProperties retrieves all properties. Used internally by the search
// executor and by tests.
func (db *Database) GetAllProperties() []models.Property {
	db.Database.Mu.RLock()
	defer db.Database.Mu.RUnlock()

	props := make([]models.Property, 0, len(db.Database.Properties))
	for _, prop := range db.Database.Properties {
		props = append(props, prop)
	}
	return props
}
