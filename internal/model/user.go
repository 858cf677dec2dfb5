package model

// User is the identity record created on login. Users are never deleted.
type User struct {
	Username   string `json:"username" msgpack:"username"`
	ProfileURL string `json:"profileUrl,omitempty" msgpack:"profile_url,omitempty"`
}
