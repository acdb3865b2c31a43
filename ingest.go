package tour

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
)

// IngestResult reports the outcome of a panorama upload.
type IngestResult struct {
	// SceneID is the content hash identifying the created scene.
	SceneID string

	// Created is false when the image was already part of the tour.
	Created bool
}

// IngestPanorama turns an uploaded JPEG into a new scene. The scene
// identity is the SHA-1 of the image content, position and heading come
// from EXIF metadata when present (falling back to the centroid of known
// coordinates), and the insertion reaches every attached client as a
// regular update patch.
func (h *SessionHub) IngestPanorama(ctx context.Context, sess *Session, jpeg []byte, level int) (*IngestResult, error) {
	dir := sha1Hex([]byte(sess.ID))
	id := sha1Hex(jpeg)

	sess.mu.Lock()
	if sess.tour.Scene(id) != nil {
		sess.mu.Unlock()
		return &IngestResult{SceneID: id, Created: false}, nil
	}
	current := sess.tour.Clone()
	sess.mu.Unlock()

	scene := sceneFromImage(jpeg, current, level)
	scene.Panorama = fmt.Sprintf("/tours/%s/%s.jpg", dir, id)

	if err := h.store.WriteAsset(ctx, path.Join(dir, id+".jpg"), jpeg); err != nil {
		return nil, fmt.Errorf("store panorama: %w", err)
	}

	next := current.Clone()
	if err := next.AddScene(id, scene); err != nil {
		return nil, err
	}
	patch, err := DiffTours(current, next)
	if err != nil {
		return nil, err
	}
	if err := h.ApplyUpdate(sess, nil, patch); err != nil {
		return nil, err
	}
	return &IngestResult{SceneID: id, Created: true}, nil
}

// sceneFromImage builds a scene record from EXIF metadata, with the
// centroid of the tour's known coordinates as the position fallback.
func sceneFromImage(jpeg []byte, t *Tour, level int) *Scene {
	s := &Scene{
		Level:     level,
		Relations: []string{},
	}

	var haveCoords bool
	if x, err := exif.Decode(bytes.NewReader(jpeg)); err == nil {
		if lat, lon, err := x.LatLong(); err == nil {
			s.Lat, s.Lon = lat, lon
			haveCoords = true
		}
		if tag, err := x.Get(exif.ImageDescription); err == nil {
			if title, err := tag.StringVal(); err == nil {
				s.Title = strings.TrimSpace(title)
			}
		}
		if tag, err := x.Get(exif.GPSImgDirection); err == nil {
			if r, err := tag.Rat(0); err == nil {
				s.NorthOffset, _ = r.Float64()
			}
		}
	}

	if !haveCoords {
		if lat, lon, ok := centroid(knownCoordinates(t)); ok {
			s.Lat, s.Lon = lat, lon
		}
	}
	return s
}

// knownCoordinates collects every [lat, lon] pair a tour already places on
// the map: its center, its bounds corners, and every scene position.
func knownCoordinates(t *Tour) [][]float64 {
	var points [][]float64
	if len(t.Map.Center) == 2 {
		points = append(points, t.Map.Center)
	}
	for _, corner := range t.Map.MaxBounds {
		if len(corner) == 2 {
			points = append(points, corner)
		}
	}
	for _, s := range t.Scenes {
		points = append(points, []float64{s.Lat, s.Lon})
	}
	return points
}

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
