package core

import (
	"math"
	"testing"
)

func TestElevationDegrees_Overhead(t *testing.T) {
	obs := GeodeticToECEF(0, 0, 0)
	target := Vec3{X: obs.X + 400, Y: 0, Z: 0}
	if el := ElevationDegrees(obs, target); math.Abs(el-90) > 1e-6 {
		t.Fatalf("elevation = %v, want 90", el)
	}
}

func TestGeodeticToECEF_EquatorAndPole(t *testing.T) {
	eq := GeodeticToECEF(0, 90, 0)
	if math.Abs(eq.Y-wgs84A) > 1e-6 || math.Abs(eq.X) > 1e-6 {
		t.Fatalf("equator point = %+v, want Y = %v", eq, wgs84A)
	}
	pole := GeodeticToECEF(90, 0, 0)
	polarRadius := wgs84A * (1 - wgs84F)
	if math.Abs(pole.Z-polarRadius) > 1e-3 {
		t.Fatalf("pole Z = %v, want %v", pole.Z, polarRadius)
	}
}

func TestWrapLongitude(t *testing.T) {
	cases := map[float64]float64{
		0:    0,
		190:  -170,
		-190: 170,
		540:  -180,
		-725: -5,
	}
	for in, want := range cases {
		if got := wrapLongitude(in); math.Abs(got-want) > 1e-9 {
			t.Errorf("wrapLongitude(%v) = %v, want %v", in, got, want)
		}
	}
}
