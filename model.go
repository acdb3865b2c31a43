package tour

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// DefaultSceneID is the scene identity seeded into newly created tours.
const DefaultSceneID = "7f56d3744f078c739a534a40eb82b07c816de333"

// Scene describes a single panorama viewpoint within a tour.
type Scene struct {
	// Title is the display name shown in the scene selector.
	Title string `json:"title"`

	// Lat and Lon position the scene on the map overlay.
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`

	// NorthOffset is the heading correction applied to the panorama, in degrees.
	NorthOffset float64 `json:"northOffset"`

	// Panorama is the media reference for the panorama image.
	Panorama string `json:"panorama"`

	// Level is the indoor level (floor) the scene belongs to.
	Level int `json:"level"`

	// Relations lists the identities of linked scenes, in link order.
	// Symmetry of relations is maintained by the editing operations,
	// not enforced by the hub.
	Relations []string `json:"relations"`

	// Hidden excludes the scene from the selector without deleting it.
	Hidden bool `json:"hidden,omitempty"`
}

// Defaults holds the tour-wide default view settings.
type Defaults struct {
	// Scene is the identity of the scene shown on first load.
	// It must always reference an existing scene.
	Scene string `json:"scene"`

	// Level is the initially selected indoor level.
	Level int `json:"level"`

	// North is the global north heading offset in degrees.
	North float64 `json:"north"`
}

// MapElement is a building geometry element, either a node or a way.
// Nodes carry coordinates; ways reference an ordered node list plus
// arbitrary tag key/value pairs.
type MapElement struct {
	Type  string         `json:"type"` // "node" or "way"
	ID    string         `json:"id"`
	Lat   float64        `json:"lat,omitempty"`
	Lon   float64        `json:"lon,omitempty"`
	Nodes []string       `json:"nodes,omitempty"`
	Tags  map[string]any `json:"tags,omitempty"`
}

// MapSettings holds the map overlay display options and geometry.
type MapSettings struct {
	AttributionControl bool    `json:"attributionControl"`
	ZoomControl        bool    `json:"zoomControl"`
	Zoom               float64 `json:"zoom"`
	MinZoom            float64 `json:"minZoom"`
	MaxZoom            float64 `json:"maxZoom"`

	// Center is a [lat, lon] pair.
	Center []float64 `json:"center"`

	// MaxBounds is [[north-east], [south-west]] corner pairs.
	MaxBounds [][]float64 `json:"maxBounds"`

	// MaxBoundsViscosity controls how hard the map sticks to MaxBounds.
	MaxBoundsViscosity float64 `json:"maxBoundsViscosity"`

	// Elements is the building/indoor geometry set.
	Elements []MapElement `json:"elements"`

	// Polygons are auxiliary boundary polygons, each a ring of [lat, lon] pairs.
	Polygons [][][]float64 `json:"polygons"`
}

// Tour is the full persisted state of one tour. The session hub owns the
// authoritative copy; client replicas are lower-consistency copies.
type Tour struct {
	Defaults Defaults          `json:"default"`
	Map      MapSettings       `json:"map"`
	Scenes   map[string]*Scene `json:"scenes"`
}

// DefaultTour returns the skeleton tour seeded for unknown identities.
func DefaultTour() *Tour {
	return &Tour{
		Defaults: Defaults{
			Scene: DefaultSceneID,
			Level: 0,
			North: 0,
		},
		Map: MapSettings{
			AttributionControl: false,
			ZoomControl:        false,
			Zoom:               19,
			MinZoom:            19,
			MaxZoom:            19,
			Center:             []float64{0.0, 0.0},
			MaxBounds: [][]float64{
				{0.00045, 0.00045},
				{-0.00045, -0.00045},
			},
			MaxBoundsViscosity: 1,
			Elements:           []MapElement{},
			Polygons: [][][]float64{
				{
					{0.0003, 0.0004},
					{-0.0003, 0.0004},
					{-0.0003, -0.0004},
					{0.0003, -0.0004},
				},
			},
		},
		Scenes: map[string]*Scene{
			DefaultSceneID: {
				Title:       "Default Scene",
				Lat:         0.0,
				Lon:         0.0,
				NorthOffset: 0,
				Panorama:    "/default.jpg",
				Relations:   []string{},
				Level:       0,
			},
		},
	}
}

// Clone returns a deep copy of the tour via a JSON round trip. The copy
// shares no mutable state with the original.
func (t *Tour) Clone() *Tour {
	if t == nil {
		return nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		// Tour contains only JSON-safe types; a marshal failure here
		// indicates memory corruption rather than a recoverable state.
		panic(fmt.Sprintf("tour: clone marshal failed: %v", err))
	}
	var out Tour
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("tour: clone unmarshal failed: %v", err))
	}
	return &out
}

// Scene returns the scene for id, or nil if it does not exist.
func (t *Tour) Scene(id string) *Scene {
	if t == nil || t.Scenes == nil {
		return nil
	}
	return t.Scenes[id]
}

var tourIDStrip = regexp.MustCompile(`[^a-zA-Z0-9-]`)

// SanitizeTourID reduces a free-form identity to the restricted character
// set used as a storage key. An identity that is empty after sanitizing
// is rejected with ErrInvalidTourID.
func SanitizeTourID(raw string) (string, error) {
	id := tourIDStrip.ReplaceAllString(raw, "")
	if id == "" {
		return "", ErrInvalidTourID
	}
	return id, nil
}
