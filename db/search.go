package db

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"openhouse/models"
)

// --- Search Structures ---

// Pagination and geo defaults. The upper bound on limit is configuration
// (config.MaxPageLimit), passed into ParseSearchQuery by the caller.
const (
	DefaultPage            = 1
	DefaultLimit           = 12
	DefaultGeoRadiusMeters = 10000
)

// Range is an optional numeric interval. Either bound may be nil (no
// constraint). Min > Max is allowed: the range is simply unsatisfiable and
// matches nothing.
type Range struct {
	Min *float64
	Max *float64
}

// contains reports whether v satisfies the bounds that are present.
func (r Range) contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// active reports whether either bound is set.
func (r Range) active() bool {
	return r.Min != nil || r.Max != nil
}

// GeoFilter selects properties within RadiusMeters of a reference point.
type GeoFilter struct {
	Lat          float64
	Lng          float64
	RadiusMeters float64
}

// SearchCriteria is the set of optional predicates narrowing which properties
// match a search. Every field is independently optional; the zero value (or a
// nil pointer) means "no constraint", never "match empty".
type SearchCriteria struct {
	Keyword      string // Tokenized text match over title+description
	PropertyType string
	ListingType  string
	Status       string
	City         string // Case-insensitive, unanchored substring
	State        string // Case-insensitive, unanchored substring
	Price        Range
	BedroomsMin  *float64 // Inclusive lower bound only
	BathroomsMin *float64 // Inclusive lower bound only
	Area         Range
	Geo          *GeoFilter
	FeaturedOnly bool
}

// Sort field names resolved by ParseSearchQuery. Unknown sort keys fall back
// to SortFieldCreatedAt.
const (
	SortFieldPrice     = "price"
	SortFieldArea      = "area"
	SortFieldBedrooms  = "bedrooms"
	SortFieldBathrooms = "bathrooms"
	SortFieldViews     = "views"
	SortFieldCreatedAt = "created_at"
	SortFieldUpdatedAt = "updated_at"
)

// SortSpec is a single sort key plus direction. Only one key is supported;
// ties are left to the store's iteration order, which is not stable across
// calls. Explicit records whether the caller actually supplied a sort
// parameter: an explicit sort wins over geo-proximity ordering, while the
// default sort yields to it.
type SortSpec struct {
	Field      string
	Descending bool
	Explicit   bool
}

// PageRequest is the requested page window. Page and Limit are always >= 1
// after parsing; Skip derives the offset.
type PageRequest struct {
	Page  int
	Limit int
}

// Skip returns the number of matches preceding the requested window.
func (p PageRequest) Skip() int {
	return (p.Page - 1) * p.Limit
}

// PageResult is the paginated response envelope.
type PageResult[T any] struct {
	Items       []T `json:"items"`
	Count       int `json:"count"`        // Items in this page
	Total       int `json:"total"`        // Matches across all pages
	TotalPages  int `json:"total_pages"`  // ceil(Total / limit)
	CurrentPage int `json:"current_page"`
}

// NewPageResult assembles the response envelope from the current page's items
// and the total match count. total == 0 yields zero pages; a non-positive
// limit is a programmer error and is answered with zero pages rather than a
// division panic.
func NewPageResult[T any](items []T, total int, page PageRequest) PageResult[T] {
	totalPages := 0
	if page.Limit > 0 && total > 0 {
		totalPages = (total + page.Limit - 1) / page.Limit
	}
	return PageResult[T]{
		Items:       items,
		Count:       len(items),
		Total:       total,
		TotalPages:  totalPages,
		CurrentPage: page.Page,
	}
}

// --- Query Parsing ---

// ParseSearchQuery maps raw query-string parameters into a criteria/sort/page
// triple. It is total: every input, however malformed, yields a valid triple.
// Malformed numeric values are treated as absent (fail-open parsing), and
// unrecognized keys are ignored. maxLimit, when positive, clamps the page
// size; it never rejects the request.
func ParseSearchQuery(query url.Values, maxLimit int) (SearchCriteria, SortSpec, PageRequest) {
	criteria := SearchCriteria{
		Keyword:      strings.TrimSpace(query.Get("keyword")),
		PropertyType: query.Get("propertyType"),
		ListingType:  query.Get("listingType"),
		Status:       query.Get("status"),
		City:         query.Get("city"),
		State:        query.Get("state"),
		Price: Range{
			Min: floatParam(query, "minPrice"),
			Max: floatParam(query, "maxPrice"),
		},
		Area: Range{
			Min: floatParam(query, "minArea"),
			Max: floatParam(query, "maxArea"),
		},
		BedroomsMin:  floatParam(query, "bedrooms"),
		BathroomsMin: floatParam(query, "bathrooms"),
		// Only the literal "true" activates the filter; "false" and anything
		// else leave it inactive (absent, not false-valued).
		FeaturedOnly: query.Get("featured") == "true",
	}

	// Geo is active only when both coordinates parse as numbers.
	lat := floatParam(query, "latitude")
	lng := floatParam(query, "longitude")
	if lat != nil && lng != nil {
		radius := float64(DefaultGeoRadiusMeters)
		if r := floatParam(query, "radius"); r != nil {
			radius = *r
		}
		criteria.Geo = &GeoFilter{Lat: *lat, Lng: *lng, RadiusMeters: radius}
	}

	sortSpec := SortSpec{Field: SortFieldCreatedAt, Descending: true}
	if raw := strings.TrimSpace(query.Get("sort")); raw != "" {
		// Any sort request, recognized or not, suppresses proximity ordering.
		// Unknown keys keep the created_at descending default.
		sortSpec.Explicit = true
		if field, ok := resolveSortField(strings.TrimPrefix(raw, "-")); ok {
			sortSpec.Field = field
			sortSpec.Descending = strings.HasPrefix(raw, "-")
		}
	}

	page := PageRequest{Page: DefaultPage, Limit: DefaultLimit}
	if p := intParam(query, "page"); p != nil && *p >= 1 {
		page.Page = *p
	}
	if l := intParam(query, "limit"); l != nil && *l >= 1 {
		page.Limit = *l
	}
	if maxLimit > 0 && page.Limit > maxLimit {
		page.Limit = maxLimit
	}

	return criteria, sortSpec, page
}

// floatParam is the parse-or-absent combinator for numeric parameters: a
// missing, empty, or malformed value is absent, never an error.
func floatParam(query url.Values, key string) *float64 {
	raw := strings.TrimSpace(query.Get(key))
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &f
}

// intParam is floatParam's integer counterpart.
func intParam(query url.Values, key string) *int {
	raw := strings.TrimSpace(query.Get(key))
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

// resolveSortField maps a user-supplied sort key to a supported field.
// Both snake_case and the camelCase names used by older clients are accepted.
func resolveSortField(name string) (string, bool) {
	switch name {
	case "price":
		return SortFieldPrice, true
	case "area":
		return SortFieldArea, true
	case "bedrooms":
		return SortFieldBedrooms, true
	case "bathrooms":
		return SortFieldBathrooms, true
	case "views":
		return SortFieldViews, true
	case "created_at", "createdAt":
		return SortFieldCreatedAt, true
	case "updated_at", "updatedAt":
		return SortFieldUpdatedAt, true
	default:
		return "", false
	}
}

// --- Criteria Matching ---

// matchesCriteria checks every non-geo predicate against a property.
// Geo is handled separately by the executor so the distance can be reused
// for proximity ordering.
func matchesCriteria(p models.Property, c SearchCriteria) bool {
	if c.Keyword != "" && !matchesKeyword(p, c.Keyword) {
		return false
	}
	if c.PropertyType != "" && p.PropertyType != c.PropertyType {
		return false
	}
	if c.ListingType != "" && p.ListingType != c.ListingType {
		return false
	}
	if c.Status != "" && p.Status != c.Status {
		return false
	}
	if c.City != "" && !containsFold(p.Location.City, c.City) {
		return false
	}
	if c.State != "" && !containsFold(p.Location.State, c.State) {
		return false
	}
	if c.Price.active() && !c.Price.contains(p.Price) {
		return false
	}
	if c.BedroomsMin != nil && float64(p.Bedrooms) < *c.BedroomsMin {
		return false
	}
	if c.BathroomsMin != nil && p.Bathrooms < *c.BathroomsMin {
		return false
	}
	if c.Area.active() && !c.Area.contains(p.Area) {
		return false
	}
	if c.FeaturedOnly && !p.Featured {
		return false
	}
	return true
}

// matchesKeyword implements the text-index contract: every whitespace-
// separated query token must appear (case-insensitively) in the combined
// title+description text.
func matchesKeyword(p models.Property, keyword string) bool {
	text := strings.ToLower(p.Title + " " + p.Description)
	for _, token := range strings.Fields(strings.ToLower(keyword)) {
		if !strings.Contains(text, token) {
			return false
		}
	}
	return true
}

// containsFold is a case-insensitive, unanchored substring match, so a query
// of "york" matches "New York".
func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// --- Query Execution ---

// scoredProperty pairs a match with its distance from the geo reference
// point. distance is meaningful only when the geo filter is active.
type scoredProperty struct {
	prop     models.Property
	distance float64
}

// SearchProperties executes a search against the store: filter, order,
// paginate. Items and total are computed in a single locked pass, so the pair
// is snapshot-consistent with respect to concurrent writes.
//
// Ordering precedence: an explicit sort parameter always wins. When the sort
// is defaulted and a geo filter is active, results are ordered nearest-first.
func (db *Database) SearchProperties(criteria SearchCriteria, sortSpec SortSpec, page PageRequest) PageResult[models.Property] {
	var cells []string
	if criteria.Geo != nil {
		cells = proximityCells(criteria.Geo.Lat, criteria.Geo.Lng, criteria.Geo.RadiusMeters)
	}

	db.Database.Mu.RLock()
	matches := make([]scoredProperty, 0)
	for _, prop := range db.Database.Properties {
		if !matchesCriteria(prop, criteria) {
			continue
		}
		distance := 0.0
		if criteria.Geo != nil {
			d, ok := geoDistance(prop, criteria.Geo, cells)
			if !ok {
				continue
			}
			distance = d
		}
		matches = append(matches, scoredProperty{prop: prop, distance: distance})
	}
	db.Database.Mu.RUnlock()

	total := len(matches)

	if criteria.Geo != nil && !sortSpec.Explicit {
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].distance < matches[j].distance
		})
	} else {
		sortMatches(matches, sortSpec)
	}

	// Page window
	start := page.Skip()
	if start < 0 {
		start = 0
	}
	end := start + page.Limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	items := make([]models.Property, 0, end-start)
	for _, m := range matches[start:end] {
		items = append(items, m.prop)
	}

	return NewPageResult(items, total, page)
}

// sortMatches orders matches by the resolved sort field and direction.
func sortMatches(matches []scoredProperty, spec SortSpec) {
	less := func(a, b models.Property) bool {
		switch spec.Field {
		case SortFieldPrice:
			return a.Price < b.Price
		case SortFieldArea:
			return a.Area < b.Area
		case SortFieldBedrooms:
			return a.Bedrooms < b.Bedrooms
		case SortFieldBathrooms:
			return a.Bathrooms < b.Bathrooms
		case SortFieldViews:
			return a.Views < b.Views
		case SortFieldUpdatedAt:
			return a.UpdatedAt.Before(b.UpdatedAt)
		default: // SortFieldCreatedAt
			return a.CreatedAt.Before(b.CreatedAt)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if spec.Descending {
			return less(matches[j].prop, matches[i].prop)
		}
		return less(matches[i].prop, matches[j].prop)
	})
}
