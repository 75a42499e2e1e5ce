package server

import "testing"

func TestHaversineKnownDistance(t *testing.T) {
	// London to Paris, roughly 334km
	d := haversine(51.5074, -0.1278, 48.8566, 2.3522)
	if d < 330 || d > 340 {
		t.Errorf("London-Paris distance %.1fkm, expected ~334km", d)
	}
}

func TestTrailDistance(t *testing.T) {
	if d := TrailDistance(nil); d != 0 {
		t.Errorf("empty trail distance %v", d)
	}

	one := []Point{{Latitude: 12.9, Longitude: 77.6}}
	if d := TrailDistance(one); d != 0 {
		t.Errorf("single point trail distance %v", d)
	}

	// ~0.01 degrees each way in Bengaluru, around 1.5km
	trail := []Point{
		{Latitude: 12.9, Longitude: 77.6},
		{Latitude: 12.91, Longitude: 77.61},
	}
	if d := TrailDistance(trail); d < 1400 || d > 1700 {
		t.Errorf("trail distance %.0fm, expected ~1550m", d)
	}

	// distance accumulates per leg
	back := append(trail, Point{Latitude: 12.9, Longitude: 77.6})
	if d := TrailDistance(back); d < 2800 || d > 3400 {
		t.Errorf("round trip distance %.0fm, expected ~3100m", d)
	}
}
