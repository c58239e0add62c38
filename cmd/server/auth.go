package main

import (
	"net/http"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/jakekausler/campaign-manager/internal/collaborators"
)

// jwtClaims is the payload minted into every access token. Role mirrors
// spec §6's AuthenticatedUser and is carried unchecked by the core - the
// core only ever asks MembershipChecker.CanEdit, never claims.Role.
type jwtClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// jwtMiddleware returns the echo-jwt middleware guarding every protected
// route group. Tokens are HS256-signed with signingKey and looked up from
// the standard "Authorization: Bearer <token>" header.
func jwtMiddleware(signingKey string) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:  []byte(signingKey),
		TokenLookup: "header:Authorization:Bearer ",
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(jwtClaims)
		},
	})
}

// authenticatedUser extracts the AuthenticatedUser the core's collaborator
// interfaces expect from the token echo-jwt already validated and stashed
// on the request context.
func authenticatedUser(c echo.Context) (collaborators.AuthenticatedUser, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok || token == nil {
		return collaborators.AuthenticatedUser{}, echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	claims, ok := token.Claims.(*jwtClaims)
	if !ok {
		return collaborators.AuthenticatedUser{}, echo.NewHTTPError(http.StatusUnauthorized, "invalid claims")
	}
	return collaborators.AuthenticatedUser{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  claims.Role,
	}, nil
}
