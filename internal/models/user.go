package models

// User is an API user. Users are declared in the configuration file with a
// bcrypt password hash.
type User struct {
	Email        string `json:"email" yaml:"email"`
	PasswordHash string `json:"-" yaml:"password_hash"`
	IsAdmin      bool   `json:"isAdmin" yaml:"is_admin"`
}
