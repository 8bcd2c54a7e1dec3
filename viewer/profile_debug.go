//go:build !release

package viewer

// Profile names the build flavor and the compiled shader directory.
const Profile = "debug"

const defaultValidation = true
