//go:build release

package viewer

const Profile = "release"

const defaultValidation = false
