package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints for the auth service.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>auth service - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "auth", "version": "v0.2.0" },
  "components": {
    "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer", "bearerFormat": "JWT" } },
    "schemas": {
      "Credentials": { "type": "object", "properties": { "username": {"type":"string"}, "mode": {"type":"string","enum":["","oidc"]}, "id_token": {"type":"string"} } },
      "RefreshToken": { "type": "object", "required": ["refresh_token"], "properties": { "refresh_token": {"type":"string"} } },
      "TokenPair": { "type": "object", "properties": { "user": {"type":"string"}, "access_token": {"type":"string"}, "refresh_token": {"type":"string"}, "expires_in": {"type":"integer"} } }
    }
  },
  "paths": {
    "/auth/register": {
      "post": { "summary": "Issue the first token pair for a registered user", "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Credentials"} }, "application/x-www-form-urlencoded": { "schema": {"$ref":"#/components/schemas/Credentials"} } } }, "responses": { "200": { "description": "token pair" }, "400": { "description": "missing username" } } }
    },
    "/auth/login": {
      "post": { "summary": "Issue a token pair for a verified username or an OIDC ID token", "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/Credentials"} }, "application/x-www-form-urlencoded": { "schema": {"$ref":"#/components/schemas/Credentials"} } } }, "responses": { "200": { "description": "token pair" }, "400": { "description": "bad request" }, "401": { "description": "invalid id token" } } }
    },
    "/auth/refresh": {
      "post": { "summary": "Rotate a refresh token", "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/RefreshToken"} } } }, "responses": { "200": { "description": "new token pair" }, "401": { "description": "invalid refresh token" }, "503": { "description": "token store unavailable" } } }
    },
    "/auth/logout": {
      "post": { "summary": "Revoke a refresh token", "requestBody": { "content": { "application/json": { "schema": {"$ref":"#/components/schemas/RefreshToken"} } } }, "responses": { "200": { "description": "logged out" } } }
    },
    "/auth/logout-all": {
      "post": { "summary": "Revoke every refresh token of the caller", "security": [{"bearer": []}], "responses": { "200": { "description": "number of revoked tokens" }, "401": { "description": "invalid token" } } }
    },
    "/auth/verify": {
      "get": { "summary": "Verify an access token", "security": [{"bearer": []}], "responses": { "200": { "description": "user" }, "401": { "description": "invalid token" } } }
    },
    "/auth/sessions": {
      "get": { "summary": "List the caller's refresh tokens", "security": [{"bearer": []}], "responses": { "200": { "description": "sessions" }, "401": { "description": "invalid token" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
