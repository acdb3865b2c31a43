package tour

import (
	"errors"
	"fmt"
)

// Editing operations applied to a tour replica, typically through
// SyncClient.Update. Every operation validates before mutating, so a
// returned error guarantees the tour is unchanged and nothing is
// transmitted.

// Direction is a movement direction for MoveScene, expressed from the
// viewer's perspective.
type Direction string

const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// moveStep is how far a single MoveScene nudge travels, in meters.
const moveStep = 1.0

// AddScene inserts a new scene under the given identity.
func (t *Tour) AddScene(id string, s *Scene) error {
	if s == nil {
		return errors.New("nil scene")
	}
	if t.Scenes == nil {
		t.Scenes = make(map[string]*Scene)
	}
	if _, ok := t.Scenes[id]; ok {
		return fmt.Errorf("scene %q already exists", id)
	}
	if s.Relations == nil {
		s.Relations = []string{}
	}
	t.Scenes[id] = s
	return nil
}

// DeleteScene removes a scene. Deleting the scene referenced by the tour
// defaults is a guarded, rejected operation.
func (t *Tour) DeleteScene(id string) error {
	if t.Scene(id) == nil {
		return ErrSceneNotFound
	}
	if t.Defaults.Scene == id {
		return ErrDefaultSceneDelete
	}
	delete(t.Scenes, id)
	for _, other := range t.Scenes {
		other.Relations = removeString(other.Relations, id)
	}
	return nil
}

// LinkScenes toggles the mutual relation between two scenes: linked scenes
// are unlinked, unlinked scenes are linked in both directions. Relation
// symmetry is maintained here, on the editing side, not enforced by the hub.
func (t *Tour) LinkScenes(a, b string) error {
	sceneA, sceneB := t.Scene(a), t.Scene(b)
	if sceneA == nil || sceneB == nil {
		return ErrSceneNotFound
	}

	if containsString(sceneA.Relations, b) || containsString(sceneB.Relations, a) {
		sceneA.Relations = removeString(sceneA.Relations, b)
		sceneB.Relations = removeString(sceneB.Relations, a)
		return nil
	}

	sceneA.Relations = append(sceneA.Relations, b)
	sceneB.Relations = append(sceneB.Relations, a)
	return nil
}

// RenameScene sets a scene's display title.
func (t *Tour) RenameScene(id, title string) error {
	s := t.Scene(id)
	if s == nil {
		return ErrSceneNotFound
	}
	s.Title = title
	return nil
}

// MoveScene nudges a scene's map position one step in the given direction.
func (t *Tour) MoveScene(id string, dir Direction) error {
	s := t.Scene(id)
	if s == nil {
		return ErrSceneNotFound
	}

	var heading float64
	switch dir {
	case DirectionUp:
		heading = 0
	case DirectionRight:
		heading = 90
	case DirectionDown:
		heading = 180
	case DirectionLeft:
		heading = 270
	default:
		return fmt.Errorf("unknown direction %q", dir)
	}

	s.Lat, s.Lon = destinationPoint(s.Lat, s.Lon, heading, moveStep)
	return nil
}

// SetSceneLevel moves a scene to another indoor level.
func (t *Tour) SetSceneLevel(id string, level int) error {
	s := t.Scene(id)
	if s == nil {
		return ErrSceneNotFound
	}
	s.Level = level
	return nil
}

// AdjustNorthOffset rotates a scene's heading correction. A coarse step is
// 5 degrees, a fine step 1 degree.
func (t *Tour) AdjustNorthOffset(id string, clockwise, fine bool) error {
	s := t.Scene(id)
	if s == nil {
		return ErrSceneNotFound
	}
	step := 5.0
	if fine {
		step = 1.0
	}
	if !clockwise {
		step = -step
	}
	s.NorthOffset += step
	return nil
}

// SetSceneHidden toggles whether a scene appears in the selector.
func (t *Tour) SetSceneHidden(id string, hidden bool) error {
	s := t.Scene(id)
	if s == nil {
		return ErrSceneNotFound
	}
	s.Hidden = hidden
	return nil
}

// SetDefaultScene makes a scene the tour-wide default. The scene must
// exist; the defaults must never reference a missing scene.
func (t *Tour) SetDefaultScene(id string) error {
	if t.Scene(id) == nil {
		return ErrSceneNotFound
	}
	t.Defaults.Scene = id
	return nil
}

// SetGlobalNorth sets the tour-wide north heading offset.
func (t *Tour) SetGlobalNorth(north float64) {
	t.Defaults.North = north
}

// SetMapElements replaces the map geometry set and rederives the map
// center, max bounds, and boundary polygon from its nodes.
func (t *Tour) SetMapElements(elements []MapElement) error {
	for _, e := range elements {
		if e.Type != "node" && e.Type != "way" {
			return fmt.Errorf("invalid map element type %q", e.Type)
		}
	}

	t.Map.Elements = elements
	if center, maxBounds, polygons, ok := deriveMapGeometry(elements); ok {
		t.Map.Center = center
		t.Map.MaxBounds = maxBounds
		t.Map.Polygons = polygons
	}
	return nil
}

// MergeMapSettings overlays non-zero display options onto the map
// configuration, leaving unset fields untouched.
func (t *Tour) MergeMapSettings(m MapSettings) {
	if m.AttributionControl {
		t.Map.AttributionControl = true
	}
	if m.ZoomControl {
		t.Map.ZoomControl = true
	}
	if m.Zoom != 0 {
		t.Map.Zoom = m.Zoom
	}
	if m.MinZoom != 0 {
		t.Map.MinZoom = m.MinZoom
	}
	if m.MaxZoom != 0 {
		t.Map.MaxZoom = m.MaxZoom
	}
	if len(m.Center) == 2 {
		t.Map.Center = m.Center
	}
	if len(m.MaxBounds) == 2 {
		t.Map.MaxBounds = m.MaxBounds
	}
	if m.MaxBoundsViscosity != 0 {
		t.Map.MaxBoundsViscosity = m.MaxBoundsViscosity
	}
	if len(m.Elements) > 0 {
		t.Map.Elements = m.Elements
	}
	if len(m.Polygons) > 0 {
		t.Map.Polygons = m.Polygons
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func removeString(list []string, v string) []string {
	out := list[:0]
	for _, s := range list {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
