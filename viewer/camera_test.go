package viewer

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func TestCameraEyeOrbitsTarget(t *testing.T) {
	camera := NewCamera()
	camera.Target = mgl32.Vec3{1, 2, 3}
	camera.Altitude = 0

	if eye := camera.Eye(); !eye.ApproxEqual(mgl32.Vec3{1, 2, 8}) {
		t.Errorf("eye = %v", eye)
	}

	camera.Orbit(math.Pi/2, 0)
	if eye := camera.Eye(); !eye.ApproxEqualThreshold(mgl32.Vec3{6, 2, 3}, 1e-4) {
		t.Errorf("eye after quarter turn = %v", eye)
	}

	if d := camera.Eye().Sub(camera.Target).Len(); math.Abs(float64(d-camera.Distance)) > 1e-4 {
		t.Errorf("eye is %f from the target, want %f", d, camera.Distance)
	}
}

func TestCameraAltitudeStopsShortOfPoles(t *testing.T) {
	camera := NewCamera()
	camera.Orbit(0, 10)
	if camera.Altitude >= math.Pi/2 {
		t.Errorf("altitude = %f", camera.Altitude)
	}
	camera.Orbit(0, -20)
	if camera.Altitude <= -math.Pi/2 {
		t.Errorf("altitude = %f", camera.Altitude)
	}
}

func TestCameraDollyClamps(t *testing.T) {
	camera := NewCamera()
	camera.Dolly(1000)
	if camera.Distance != camera.Near {
		t.Errorf("distance = %f, want the near plane", camera.Distance)
	}
	camera.Dolly(-1000)
	if camera.Distance != camera.Far {
		t.Errorf("distance = %f, want the far plane", camera.Distance)
	}
}

func TestCameraAdvanceSpins(t *testing.T) {
	camera := NewCamera()
	camera.Spin = 1
	camera.Advance(0.5)
	if math.Abs(float64(camera.Azimuth)-0.5) > 1e-6 {
		t.Errorf("azimuth = %f", camera.Azimuth)
	}
}

func TestProjectionUsesVulkanClipSpace(t *testing.T) {
	camera := NewCamera()
	camera.Target = mgl32.Vec3{}
	camera.Altitude = 0
	uniform := camera.ViewProjection(16.0 / 9.0)

	project := func(p mgl32.Vec3) mgl32.Vec3 {
		clipped := uniform.Projection.Mul4(uniform.View).Mul4x1(p.Vec4(1))
		return clipped.Vec3().Mul(1 / clipped.W())
	}

	// Points above the target land in the upper half, which is negative y.
	if above := project(mgl32.Vec3{0, 1, 0}); above.Y() >= 0 {
		t.Errorf("point above the target projected to y = %f", above.Y())
	}
	if center := project(mgl32.Vec3{}); center.Z() < 0 || center.Z() > 1 {
		t.Errorf("target depth %f outside [0, 1]", center.Z())
	}
}

func TestViewProjectionBytes(t *testing.T) {
	uniform := ViewProjection{View: mgl32.Ident4(), Projection: mgl32.Scale3D(2, 3, 4)}
	data := uniform.Bytes()
	if len(data) != viewProjectionSize {
		t.Fatalf("got %d bytes, want %d", len(data), viewProjectionSize)
	}

	var decoded ViewProjection
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded != uniform {
		t.Errorf("decoded %v", decoded)
	}
}
