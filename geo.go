package tour

import "math"

// earthRadius is the spherical approximation of Earth's radius in meters.
const earthRadius = 6378137.0

// destinationPoint returns the coordinate reached by travelling distance
// meters from (lat, lon) along the given heading, on a spherical earth.
func destinationPoint(lat, lon, headingDeg, distance float64) (float64, float64) {
	const rad = math.Pi / 180
	const radInv = 180 / math.Pi

	lat1 := lat * rad
	lon1 := lon * rad
	heading := headingDeg * rad

	sinLat1 := math.Sin(lat1)
	cosLat1 := math.Cos(lat1)
	cosDistR := math.Cos(distance / earthRadius)
	sinDistR := math.Sin(distance / earthRadius)

	lat2 := math.Asin(sinLat1*cosDistR + cosLat1*sinDistR*math.Cos(heading))
	lon2 := lon1 + math.Atan2(math.Sin(heading)*sinDistR*cosLat1, cosDistR-sinLat1*math.Sin(lat2))

	lon2 *= radInv
	if lon2 > 180 {
		lon2 -= 360
	} else if lon2 < -180 {
		lon2 += 360
	}
	return lat2 * radInv, lon2
}

// geoBounds accumulates a lat/lon bounding box.
type geoBounds struct {
	ok             bool
	minLat, minLon float64
	maxLat, maxLon float64
}

func (b *geoBounds) extend(lat, lon float64) {
	if !b.ok {
		b.ok = true
		b.minLat, b.maxLat = lat, lat
		b.minLon, b.maxLon = lon, lon
		return
	}
	b.minLat = math.Min(b.minLat, lat)
	b.maxLat = math.Max(b.maxLat, lat)
	b.minLon = math.Min(b.minLon, lon)
	b.maxLon = math.Max(b.maxLon, lon)
}

// pad grows the bounds by the given ratio of its height and width in every
// direction, matching Leaflet's LatLngBounds.pad.
func (b geoBounds) pad(ratio float64) geoBounds {
	if !b.ok {
		return b
	}
	latBuffer := (b.maxLat - b.minLat) * ratio
	lonBuffer := (b.maxLon - b.minLon) * ratio
	return geoBounds{
		ok:     true,
		minLat: b.minLat - latBuffer,
		maxLat: b.maxLat + latBuffer,
		minLon: b.minLon - lonBuffer,
		maxLon: b.maxLon + lonBuffer,
	}
}

func (b geoBounds) center() (float64, float64) {
	return (b.minLat + b.maxLat) / 2, (b.minLon + b.maxLon) / 2
}

// deriveMapGeometry computes the map center, padded max bounds, and the
// boundary polygon from the node elements of a geometry set. ok is false
// when the set contains no nodes.
func deriveMapGeometry(elements []MapElement) (center []float64, maxBounds [][]float64, polygons [][][]float64, ok bool) {
	var b geoBounds
	for _, e := range elements {
		if e.Type == "node" {
			b.extend(e.Lat, e.Lon)
		}
	}
	if !b.ok {
		return nil, nil, nil, false
	}

	outer := b.pad(0.1)
	lat, lon := outer.center()
	center = []float64{lat, lon}
	maxBounds = [][]float64{
		{outer.maxLat, outer.maxLon}, // north-east
		{outer.minLat, outer.minLon}, // south-west
	}

	boundary := b.pad(0.05)
	polygons = [][][]float64{
		{
			{boundary.maxLat, boundary.maxLon}, // NE
			{boundary.maxLat, boundary.minLon}, // NW
			{boundary.minLat, boundary.minLon}, // SW
			{boundary.minLat, boundary.maxLon}, // SE
		},
	}
	return center, maxBounds, polygons, true
}

// centroid returns the arithmetic center of a set of [lat, lon] pairs.
func centroid(points [][]float64) (float64, float64, bool) {
	if len(points) == 0 {
		return 0, 0, false
	}
	var sumLat, sumLon float64
	for _, p := range points {
		sumLat += p[0]
		sumLon += p[1]
	}
	n := float64(len(points))
	return sumLat / n, sumLon / n, true
}
