package middleware

import "github.com/labstack/echo/v4"

// StaffID returns the authenticated staff subject set by JWTAuth, or
// "anon" when the request is unauthenticated.
func StaffID(c echo.Context) string {
	if v, ok := c.Get("user_id").(string); ok && v != "" {
		return v
	}
	return "anon"
}

// StaffRole returns the role claim set by JWTAuth, or "".
func StaffRole(c echo.Context) string {
	v, _ := c.Get("role").(string)
	return v
}
