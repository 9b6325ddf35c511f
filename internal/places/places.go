// Package places is a small searchable catalog of named locations the user
// can pick instead of geolocating.
package places

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	appLog "plutotime/internal/log"
	"plutotime/internal/model"
)

const (
	minQueryLen = 2
	maxResults  = 13
)

// Place is a catalog entry. FullName is ordered locality, region, country.
type Place struct {
	FullName  []string `yaml:"full_name" json:"full_name"`
	Latitude  float64  `yaml:"lat" json:"lat"`
	Longitude float64  `yaml:"lng" json:"lng"`
}

// Tracked converts the place into a TrackedLocation named after its locality.
func (p Place) Tracked() (model.TrackedLocation, error) {
	return model.NewTrackedLocation("", p.FullName, p.Latitude, p.Longitude)
}

type entry struct {
	place  Place
	commas string
	spaces string
}

// Catalog holds places in a fixed order; search results keep that order.
type Catalog struct {
	entries []entry
}

// NewCatalog indexes the given places, skipping entries with no name or
// invalid coordinates.
func NewCatalog(ps []Place) *Catalog {
	c := &Catalog{entries: make([]entry, 0, len(ps))}
	for _, p := range ps {
		if len(p.FullName) == 0 {
			continue
		}
		if err := model.ValidateCoordinates(p.Latitude, p.Longitude); err != nil {
			appLog.Warn("skipping place with invalid coordinates", "place", strings.Join(p.FullName, ", "))
			continue
		}
		joined := strings.ToLower(strings.Join(p.FullName, ", "))
		c.entries = append(c.entries, entry{
			place:  p,
			commas: joined,
			spaces: strings.ReplaceAll(joined, ", ", " "),
		})
	}
	return c
}

// Load reads a YAML list of places. An empty path returns the built-in
// catalog.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(Builtin()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, path)
}

// Parse decodes a YAML list of places. origin only labels errors and logs.
func Parse(data []byte, origin string) (*Catalog, error) {
	var ps []Place
	if err := yaml.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("places: decode %s: %w", origin, err)
	}
	c := NewCatalog(ps)
	appLog.Info("loaded place catalog", "origin", origin, "count", c.Len())
	return c, nil
}

func (c *Catalog) Len() int { return len(c.entries) }

// Search returns up to 13 places whose full name contains query,
// case-insensitively, written either with ", " or plain spaces between
// components. Queries shorter than two characters match nothing.
func (c *Catalog) Search(query string) []Place {
	q := strings.TrimSpace(query)
	if len([]rune(q)) < minQueryLen {
		return nil
	}
	q = strings.ToLower(q)

	out := make([]Place, 0, maxResults)
	for _, e := range c.entries {
		if strings.Contains(e.commas, q) || strings.Contains(e.spaces, q) {
			out = append(out, e.place)
			if len(out) == maxResults {
				break
			}
		}
	}
	return out
}

// Builtin is the catalog used when no places file is configured.
func Builtin() []Place {
	return []Place{
		{FullName: []string{"Reykjavík", "Capital Region", "Iceland"}, Latitude: 64.13548, Longitude: -21.89541},
		{FullName: []string{"Manchester", "Michigan", "United States"}, Latitude: 42.15032, Longitude: -84.03772},
		{FullName: []string{"Manchester", "England", "United Kingdom"}, Latitude: 53.48095, Longitude: -2.23743},
		{FullName: []string{"Tromsø", "Troms", "Norway"}, Latitude: 69.6489, Longitude: 18.95508},
		{FullName: []string{"Longyearbyen", "Svalbard", "Norway"}, Latitude: 78.22334, Longitude: 15.64689},
		{FullName: []string{"Seoul", "Seoul", "South Korea"}, Latitude: 37.566, Longitude: 126.9784},
		{FullName: []string{"Tokyo", "Tokyo", "Japan"}, Latitude: 35.6895, Longitude: 139.69171},
		{FullName: []string{"Flagstaff", "Arizona", "United States"}, Latitude: 35.19807, Longitude: -111.65127},
		{FullName: []string{"Quito", "Pichincha", "Ecuador"}, Latitude: -0.22985, Longitude: -78.52495},
		{FullName: []string{"Ushuaia", "Tierra del Fuego", "Argentina"}, Latitude: -54.8, Longitude: -68.3},
		{FullName: []string{"Wellington", "Wellington", "New Zealand"}, Latitude: -41.28664, Longitude: 174.77557},
	}
}
