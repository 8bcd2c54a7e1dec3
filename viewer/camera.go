package viewer

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v2/common"
)

// clip converts OpenGL clip space to Vulkan's: Y points down and depth runs
// from 0 to 1.
var clip = mgl32.Mat4{1, 0, 0, 0, 0, -1, 0, 0, 0, 0, 0.5, 0, 0, 0, 0.5, 1}

const maxAltitude = math.Pi/2 - 0.01

// ViewProjection is the per-frame uniform block, binding 0 of set 0.
type ViewProjection struct {
	View       mgl32.Mat4
	Projection mgl32.Mat4
}

const viewProjectionSize = 2 * 16 * 4

// Bytes packs the block the way the vertex shader reads it.
func (u ViewProjection) Bytes() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, viewProjectionSize))
	_ = binary.Write(buf, common.ByteOrder, u)
	return buf.Bytes()
}

// Camera orbits a target point. Angles are in radians.
type Camera struct {
	Target   mgl32.Vec3
	Distance float32
	Azimuth  float32
	Altitude float32
	FovY     float32
	Near     float32
	Far      float32
	// Spin is the azimuth change per second of Advance.
	Spin float32
}

func NewCamera() *Camera {
	return &Camera{
		Distance: 5,
		Altitude: mgl32.DegToRad(20),
		FovY:     mgl32.DegToRad(45),
		Near:     0.1,
		Far:      100,
		Spin:     mgl32.DegToRad(15),
	}
}

// Dolly moves the camera towards the target by delta, never closer than the
// near plane.
func (c *Camera) Dolly(delta float32) {
	c.Distance = mgl32.Clamp(c.Distance-delta, c.Near, c.Far)
}

// Orbit turns the camera around the target. Altitude stops just short of
// the poles so the up vector stays valid.
func (c *Camera) Orbit(azimuth, altitude float32) {
	c.Azimuth = float32(math.Mod(float64(c.Azimuth+azimuth), 2*math.Pi))
	c.Altitude = mgl32.Clamp(c.Altitude+altitude, -maxAltitude, maxAltitude)
}

// Advance applies seconds worth of spin.
func (c *Camera) Advance(seconds float64) {
	c.Orbit(c.Spin*float32(seconds), 0)
}

func (c *Camera) Eye() mgl32.Vec3 {
	horizontal := c.Distance * float32(math.Cos(float64(c.Altitude)))
	return c.Target.Add(mgl32.Vec3{
		horizontal * float32(math.Sin(float64(c.Azimuth))),
		c.Distance * float32(math.Sin(float64(c.Altitude))),
		horizontal * float32(math.Cos(float64(c.Azimuth))),
	})
}

func (c *Camera) View() mgl32.Mat4 {
	return mgl32.LookAtV(c.Eye(), c.Target, mgl32.Vec3{0, 1, 0})
}

func (c *Camera) Projection(aspect float32) mgl32.Mat4 {
	return clip.Mul4(mgl32.Perspective(c.FovY, aspect, c.Near, c.Far))
}

func (c *Camera) ViewProjection(aspect float32) ViewProjection {
	return ViewProjection{View: c.View(), Projection: c.Projection(aspect)}
}
