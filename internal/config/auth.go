package config

import "golang.org/x/crypto/bcrypt"

func (c *Config) VerifyAuth(username, password string) bool {
	if username == "" {
		return false
	}
	auth := c.GetAuth()
	if auth == nil {
		return false
	}
	if username != auth.Username {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(auth.Password), []byte(password))
	return err == nil
}
