package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"openhouse/config"
	"openhouse/db"
	"openhouse/images"
	"openhouse/models"
	"openhouse/utils"
)

// --- Request / Response Shapes ---

// PropertyRequest defines the mutable fields accepted on create and update.
// It arrives either as a plain JSON body or as the "data" field of a
// multipart form carrying image files.
type PropertyRequest struct {
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Price        float64         `json:"price"`
	PropertyType string          `json:"property_type"`
	ListingType  string          `json:"listing_type"`
	Bedrooms     int             `json:"bedrooms"`
	Bathrooms    float64         `json:"bathrooms"`
	Area         float64         `json:"area"`
	Location     models.Location `json:"location"`
	Amenities    []string        `json:"amenities"`
	Featured     bool            `json:"featured"`
	Status       string          `json:"status"`
	YearBuilt    int             `json:"year_built"`
	Parking      int             `json:"parking"`
}

// Validate checks the request against the listing schema. It returns the
// first violation found.
func (r *PropertyRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if len(r.Title) > 100 {
		return fmt.Errorf("title must be at most 100 characters")
	}
	if strings.TrimSpace(r.Description) == "" {
		return fmt.Errorf("description is required")
	}
	if len(r.Description) > 2000 {
		return fmt.Errorf("description must be at most 2000 characters")
	}
	if r.Price <= 0 {
		return fmt.Errorf("price must be a positive number")
	}
	if !utils.OneOf(r.PropertyType, models.PropertyTypes) {
		return fmt.Errorf("property_type must be one of: %s", strings.Join(models.PropertyTypes, ", "))
	}
	if !utils.OneOf(r.ListingType, models.ListingTypes) {
		return fmt.Errorf("listing_type must be one of: %s", strings.Join(models.ListingTypes, ", "))
	}
	if r.Status != "" && !utils.OneOf(r.Status, models.Statuses) {
		return fmt.Errorf("status must be one of: %s", strings.Join(models.Statuses, ", "))
	}
	if r.Bedrooms < 0 || r.Bathrooms < 0 || r.Area < 0 || r.Parking < 0 {
		return fmt.Errorf("bedrooms, bathrooms, area and parking must not be negative")
	}
	if strings.TrimSpace(r.Location.Address) == "" ||
		strings.TrimSpace(r.Location.City) == "" ||
		strings.TrimSpace(r.Location.State) == "" ||
		strings.TrimSpace(r.Location.ZipCode) == "" {
		return fmt.Errorf("location address, city, state and zip_code are required")
	}
	if coords := r.Location.Coordinates; len(coords) != 0 {
		if len(coords) != 2 {
			return fmt.Errorf("location coordinates must be a [longitude, latitude] pair")
		}
		if coords[0] < -180 || coords[0] > 180 || coords[1] < -90 || coords[1] > 90 {
			return fmt.Errorf("location coordinates are out of range")
		}
	}
	return nil
}

// ToProperty maps the request onto a model. ID, owner, images and timestamps
// are assigned elsewhere.
func (r *PropertyRequest) ToProperty() models.Property {
	return models.Property{
		Title:        strings.TrimSpace(r.Title),
		Description:  strings.TrimSpace(r.Description),
		Price:        r.Price,
		PropertyType: r.PropertyType,
		ListingType:  r.ListingType,
		Bedrooms:     r.Bedrooms,
		Bathrooms:    r.Bathrooms,
		Area:         r.Area,
		Location:     r.Location,
		Amenities:    r.Amenities,
		Featured:     r.Featured,
		Status:       r.Status,
		YearBuilt:    r.YearBuilt,
		Parking:      r.Parking,
	}
}

// OwnerInfo is the public subset of the owner's profile embedded in property
// responses.
type OwnerInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// PropertyResponse is a property with its owner's contact details embedded.
// Geohash shadows the stored prefilter cell, which is a persistence detail
// and never leaves the server.
type PropertyResponse struct {
	models.Property
	Geohash string     `json:"geohash,omitempty"`
	Owner   *OwnerInfo `json:"owner,omitempty"`
}

// PropertyListResponse is the paginated search response.
type PropertyListResponse struct {
	Count       int                `json:"count"`
	Total       int                `json:"total"`
	TotalPages  int                `json:"total_pages"`
	CurrentPage int                `json:"current_page"`
	Properties  []PropertyResponse `json:"properties"`
}

// embedOwner attaches the owner's public profile to a property. A missing
// owner (deleted account) just leaves the field empty.
func embedOwner(database *db.Database, prop models.Property) PropertyResponse {
	response := PropertyResponse{Property: prop}
	if owner, found := database.GetProfileByID(prop.OwnerID); found {
		response.Owner = &OwnerInfo{
			ID:     owner.ID,
			Name:   owner.Name,
			Email:  owner.Email,
			Phone:  owner.Phone,
			Avatar: owner.Avatar,
		}
	}
	return response
}

// --- List / Search Properties ---

// ListPropertiesHandler handles the public property search.
// @Summary      Search Properties
// @Description  Lists properties with filtering, sorting and pagination. All query parameters are optional; malformed numeric values are ignored rather than rejected.
// @Description
// @Description  Filters: `keyword` (title/description text search), `propertyType`, `listingType`, `status`, `city`, `state` (case-insensitive substring), `minPrice`/`maxPrice`, `minArea`/`maxArea`, `bedrooms`/`bathrooms` (minimums), `featured=true`.
// @Description  Proximity: `latitude` + `longitude` (both required) with optional `radius` in meters (default 10000). Without an explicit `sort`, proximity results come back nearest first.
// @Description  Sorting: `sort` names a field (`price`, `area`, `bedrooms`, `bathrooms`, `views`, `created_at`, `updated_at`); a leading `-` means descending. Default is newest first.
// @Description  Pagination: `page` (default 1) and `limit` (default 12, capped by server configuration).
// @Tags         Properties
// @Produce      json
// @Param        keyword      query  string  false  "Text search over title and description"
// @Param        propertyType query  string  false  "Exact property type" Enums(house, apartment, condo, townhouse, land, commercial)
// @Param        listingType  query  string  false  "Exact listing type" Enums(sale, rent)
// @Param        status       query  string  false  "Exact status" Enums(available, pending, sold, rented)
// @Param        city         query  string  false  "City substring, case-insensitive"
// @Param        state        query  string  false  "State substring, case-insensitive"
// @Param        minPrice     query  number  false  "Minimum price (inclusive)"
// @Param        maxPrice     query  number  false  "Maximum price (inclusive)"
// @Param        bedrooms     query  number  false  "Minimum bedrooms"
// @Param        bathrooms    query  number  false  "Minimum bathrooms"
// @Param        minArea      query  number  false  "Minimum area in square feet"
// @Param        maxArea      query  number  false  "Maximum area in square feet"
// @Param        featured     query  string  false  "Pass 'true' to return featured listings only"
// @Param        latitude     query  number  false  "Latitude of the search center"
// @Param        longitude    query  number  false  "Longitude of the search center"
// @Param        radius       query  number  false  "Search radius in meters" default(10000)
// @Param        sort         query  string  false  "Sort field, prefix with '-' for descending" example(-price)
// @Param        page         query  int     false  "Page number (starts at 1)" default(1)
// @Param        limit        query  int     false  "Results per page" default(12)
// @Success      200  {object}  PropertyListResponse "One page of matching properties with owner details embedded."
// @Router       /properties [get]
func ListPropertiesHandler(c *gin.Context, database *db.Database, cfg *config.Config) {
	criteria, sortSpec, page := db.ParseSearchQuery(c.Request.URL.Query(), cfg.MaxPageLimit)

	result := database.SearchProperties(criteria, sortSpec, page)

	properties := make([]PropertyResponse, 0, len(result.Items))
	for _, prop := range result.Items {
		properties = append(properties, embedOwner(database, prop))
	}

	c.JSON(http.StatusOK, PropertyListResponse{
		Count:       result.Count,
		Total:       result.Total,
		TotalPages:  result.TotalPages,
		CurrentPage: result.CurrentPage,
		Properties:  properties,
	})
}

// --- Get Property by ID ---

// GetPropertyHandler handles retrieving a single property.
// @Summary      Get a Property by ID
// @Description  Retrieves one property with its owner's contact details. Each successful fetch counts as a view; the returned `views` value includes this request.
// @Tags         Properties
// @Produce      json
// @Param        id   path      string  true  "Property ID"
// @Success      200  {object}  PropertyResponse "The property."
// @Failure      404  {object}  utils.APIError "Not Found: No property exists with the specified ID."
// @Router       /properties/{id} [get]
func GetPropertyHandler(c *gin.Context, database *db.Database, cfg *config.Config) {
	propID := c.Param("id")

	prop, found := database.GetPropertyByID(propID)
	if !found {
		utils.GinNotFound(c, fmt.Sprintf("Property with ID '%s' not found.", propID))
		return
	}

	// View counting never fails the read.
	if views, err := database.RecordPropertyView(propID); err != nil {
		log.Printf("WARN: Failed to record view for property %s: %v", propID, err)
	} else {
		prop.Views = views
	}

	c.JSON(http.StatusOK, embedOwner(database, prop))
}

// --- Create Property ---

// CreatePropertyHandler handles the creation of a new listing.
// @Summary      Create a Property
// @Description  Creates a new listing owned by the authenticated user.
// @Description
// @Description  Send either a JSON body with the property fields, or a multipart form with a `data` field holding that JSON plus up to 10 `images` files (max 5 MB each, images only). Uploaded files are resized server-side to fit 1200x800.
// @Tags         Properties
// @Accept       json
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        property body PropertyRequest true "The listing fields."
// @Success      201  {object}  PropertyResponse "Property created."
// @Failure      400  {object}  utils.APIError "Bad Request: invalid body, failed validation, or rejected image files."
// @Failure      401  {object}  utils.APIError "Unauthorized: missing or invalid access token."
// @Failure      500  {object}  utils.APIError "Internal Server Error."
// @Router       /properties [post]
func CreatePropertyHandler(c *gin.Context, database *db.Database, store images.Store, cfg *config.Config) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.GinInternalServerError(c, "User ID not found in context.")
		return
	}

	req, files, err := bindPropertyRequest(c)
	if err != nil {
		utils.GinBadRequest(c, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		utils.GinBadRequest(c, err.Error())
		return
	}

	uploaded, err := uploadImages(c, store, files)
	if err != nil {
		respondUploadError(c, err)
		return
	}

	prop := req.ToProperty()
	prop.OwnerID = userID
	prop.Images = uploaded

	created, err := database.CreateProperty(prop)
	if err != nil {
		rollbackImages(c, store, uploaded)
		utils.GinInternalServerError(c, fmt.Sprintf("Failed to create property: %v", err))
		return
	}

	c.JSON(http.StatusCreated, PropertyResponse{Property: created})
}

// --- Update Property ---

// UpdatePropertyHandler handles replacing a listing's fields.
// @Summary      Update a Property
// @Description  Replaces the mutable fields of a listing. Only the owner (or an admin) may update it. The owner, creation time and view count never change.
// @Description
// @Description  Accepts the same JSON or multipart shape as create. When new `images` files are included they replace the existing ones, which are removed from storage; without new files the existing images are kept.
// @Tags         Properties
// @Accept       json
// @Accept       multipart/form-data
// @Produce      json
// @Security     BearerAuth
// @Param        id       path  string          true  "Property ID"
// @Param        property body  PropertyRequest true  "The replacement fields."
// @Success      200  {object}  PropertyResponse "Property updated."
// @Failure      400  {object}  utils.APIError "Bad Request: invalid body, failed validation, or rejected image files."
// @Failure      401  {object}  utils.APIError "Unauthorized: missing or invalid access token."
// @Failure      403  {object}  utils.APIError "Forbidden: you do not own this property."
// @Failure      404  {object}  utils.APIError "Not Found: no property exists with the specified ID."
// @Failure      500  {object}  utils.APIError "Internal Server Error."
// @Router       /properties/{id} [put]
func UpdatePropertyHandler(c *gin.Context, database *db.Database, store images.Store, cfg *config.Config) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.GinInternalServerError(c, "User ID not found in context.")
		return
	}
	propID := c.Param("id")

	existing, found := database.GetPropertyByID(propID)
	if !found {
		utils.GinNotFound(c, fmt.Sprintf("Property with ID '%s' not found.", propID))
		return
	}
	if existing.OwnerID != userID && !utils.IsAdmin(c) {
		utils.GinForbidden(c, "You do not have permission to update this property.")
		return
	}

	req, files, err := bindPropertyRequest(c)
	if err != nil {
		utils.GinBadRequest(c, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		utils.GinBadRequest(c, err.Error())
		return
	}

	prop := req.ToProperty()
	prop.Images = existing.Images

	// New files replace the current image set.
	var uploaded []models.Image
	if len(files) > 0 {
		uploaded, err = uploadImages(c, store, files)
		if err != nil {
			respondUploadError(c, err)
			return
		}
		prop.Images = uploaded
	}

	updated, err := database.UpdateProperty(propID, prop)
	if err != nil {
		rollbackImages(c, store, uploaded)
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			utils.GinNotFound(c, err.Error())
		} else {
			utils.GinInternalServerError(c, fmt.Sprintf("Failed to update property: %v", err))
		}
		return
	}

	// Old images are removed only after the record is safely updated.
	if len(uploaded) > 0 {
		deleteImages(c, store, existing.Images)
	}

	c.JSON(http.StatusOK, PropertyResponse{Property: updated})
}

// --- Delete Property ---

// DeletePropertyHandler handles removing a listing.
// @Summary      Delete a Property
// @Description  Permanently deletes a listing and its stored images. Only the owner (or an admin) may delete it.
// @Tags         Properties
// @Security     BearerAuth
// @Param        id   path      string  true  "Property ID"
// @Success      204  "Property deleted."
// @Failure      401  {object}  utils.APIError "Unauthorized: missing or invalid access token."
// @Failure      403  {object}  utils.APIError "Forbidden: you do not own this property."
// @Failure      404  {object}  utils.APIError "Not Found: no property exists with the specified ID."
// @Failure      500  {object}  utils.APIError "Internal Server Error."
// @Router       /properties/{id} [delete]
func DeletePropertyHandler(c *gin.Context, database *db.Database, store images.Store, cfg *config.Config) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.GinInternalServerError(c, "User ID not found in context.")
		return
	}
	propID := c.Param("id")

	existing, found := database.GetPropertyByID(propID)
	if !found {
		utils.GinNotFound(c, fmt.Sprintf("Property with ID '%s' not found.", propID))
		return
	}
	if existing.OwnerID != userID && !utils.IsAdmin(c) {
		utils.GinForbidden(c, "You do not have permission to delete this property.")
		return
	}

	if err := database.DeleteProperty(propID); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			utils.GinNotFound(c, err.Error())
		} else {
			utils.GinInternalServerError(c, fmt.Sprintf("Failed to delete property: %v", err))
		}
		return
	}

	// Remove CDN assets after the record is gone; failures are logged only.
	deleteImages(c, store, existing.Images)

	c.Status(http.StatusNoContent)
}

// --- My Properties ---

// MyPropertiesResponse lists the caller's own properties without pagination.
type MyPropertiesResponse struct {
	Count      int                `json:"count"`
	Properties []PropertyResponse `json:"properties"`
}

// MyPropertiesHandler lists every property owned by the caller.
// @Summary      List My Properties
// @Description  Returns all properties owned by the authenticated user, newest first and without pagination. Statuses other than "available" are included.
// @Tags         Properties
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  MyPropertiesResponse "The caller's properties."
// @Failure      401  {object}  utils.APIError "Unauthorized: missing or invalid access token."
// @Router       /properties/user/myproperties [get]
func MyPropertiesHandler(c *gin.Context, database *db.Database, cfg *config.Config) {
	userID := c.GetString("userID")
	if userID == "" {
		utils.GinInternalServerError(c, "User ID not found in context.")
		return
	}

	props := database.GetPropertiesByOwner(userID)
	responses := make([]PropertyResponse, 0, len(props))
	for _, prop := range props {
		responses = append(responses, PropertyResponse{Property: prop})
	}
	c.JSON(http.StatusOK, MyPropertiesResponse{
		Count:      len(responses),
		Properties: responses,
	})
}

// --- Multipart / Upload Helpers ---

// bindPropertyRequest decodes either a plain JSON body or a multipart form
// with a "data" JSON field and optional "images" files.
func bindPropertyRequest(c *gin.Context) (*PropertyRequest, []*multipart.FileHeader, error) {
	contentType := c.ContentType()

	if strings.HasPrefix(contentType, "multipart/form-data") {
		form, err := c.MultipartForm()
		if err != nil {
			return nil, nil, fmt.Errorf("invalid multipart form: %v", err)
		}

		dataValues := form.Value["data"]
		if len(dataValues) == 0 || strings.TrimSpace(dataValues[0]) == "" {
			return nil, nil, fmt.Errorf("multipart requests must include a 'data' field with the property JSON")
		}

		var req PropertyRequest
		if err := json.Unmarshal([]byte(dataValues[0]), &req); err != nil {
			return nil, nil, fmt.Errorf("invalid property JSON in 'data' field: %v", err)
		}

		files := form.File["images"]
		if len(files) > images.MaxImagesPerProperty {
			return nil, nil, fmt.Errorf("at most %d images may be uploaded per property", images.MaxImagesPerProperty)
		}
		return &req, files, nil
	}

	var req PropertyRequest
	if err := c.BindJSON(&req); err != nil {
		return nil, nil, fmt.Errorf("invalid request body: %v", err)
	}
	return &req, nil, nil
}

// respondUploadError maps an upload failure to a response: a missing CDN
// configuration is a server fault, anything else is the client's input.
func respondUploadError(c *gin.Context, err error) {
	if errors.Is(err, images.ErrNotConfigured) {
		utils.GinInternalServerError(c, "Image uploads are not configured on this server.")
		return
	}
	utils.GinBadRequest(c, err.Error())
}

// uploadImages sends every file to the CDN. On any failure the images already
// uploaded in this batch are rolled back so no orphans are left behind.
func uploadImages(c *gin.Context, store images.Store, files []*multipart.FileHeader) ([]models.Image, error) {
	if len(files) == 0 {
		return nil, nil
	}

	uploaded := make([]models.Image, 0, len(files))
	for _, header := range files {
		data, err := readUploadedFile(header)
		if err != nil {
			rollbackImages(c, store, uploaded)
			return nil, err
		}

		image, err := store.Upload(c.Request.Context(), data, header.Filename)
		if err != nil {
			rollbackImages(c, store, uploaded)
			return nil, fmt.Errorf("failed to upload '%s': %w", header.Filename, err)
		}
		uploaded = append(uploaded, image)
	}
	return uploaded, nil
}

// readUploadedFile loads one multipart file, bounded just past the size limit
// so oversized files are detected without buffering them fully.
func readUploadedFile(header *multipart.FileHeader) ([]byte, error) {
	if header.Size > images.MaxImageBytes {
		return nil, fmt.Errorf("'%s' exceeds the %d MB size limit", header.Filename, images.MaxImageBytes>>20)
	}

	file, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to read '%s': %v", header.Filename, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, images.MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read '%s': %v", header.Filename, err)
	}
	if len(data) > images.MaxImageBytes {
		return nil, fmt.Errorf("'%s' exceeds the %d MB size limit", header.Filename, images.MaxImageBytes>>20)
	}
	return data, nil
}

// rollbackImages best-effort deletes a batch of freshly uploaded images.
func rollbackImages(c *gin.Context, store images.Store, batch []models.Image) {
	deleteImages(c, store, batch)
}

// deleteImages removes stored images, logging failures instead of surfacing
// them; a stray CDN asset must not fail the request.
func deleteImages(c *gin.Context, store images.Store, imgs []models.Image) {
	for _, img := range imgs {
		if img.PublicID == "" {
			continue
		}
		if err := store.Delete(c.Request.Context(), img.PublicID); err != nil {
			log.Printf("WARN: Failed to delete image %s: %v", img.PublicID, err)
		}
	}
}
