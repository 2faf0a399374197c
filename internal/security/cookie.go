package security

import "net/http"

// GetCookie returns the named cookie's value, or "" if absent.
func GetCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
