// @title           LearnHub API
// @version         1.0
// @description     Course site API. Sign in with POST /auth/session, which sets the session cookie; the same credential is accepted as a Bearer token.
// @BasePath        /api
// @securityDefinitions.apikey BearerToken
// @in              header
// @name            Authorization
// @description     Type "Bearer" followed by a space and your session credential.
package api
