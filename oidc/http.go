package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/net/context/ctxhttp"
	"golang.org/x/oauth2"
)

// doRequest issues req using the HTTP client associated with ctx through the
// oauth2.HTTPClient context key, falling back to http.DefaultClient.
func doRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	client := http.DefaultClient
	if c, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok {
		client = c
	}
	return ctxhttp.Do(ctx, client, req)
}

func unmarshalResp(r *http.Response, body []byte, v interface{}) error {
	err := json.Unmarshal(body, v)
	if err == nil {
		return nil
	}
	ct := r.Header.Get("Content-Type")
	mediaType, _, parseErr := mime.ParseMediaType(ct)
	if parseErr == nil && mediaType != "application/json" {
		return fmt.Errorf("got Content-Type = %q, expected %q: %v", ct, "application/json", err)
	}
	return err
}

// contentTypeEssence reports the type/subtype portion of a Content-Type
// header, lower-cased, with parameters such as charset stripped.
func contentTypeEssence(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return mediaType
}

// ParseBearerToken extracts the bearer token from a request's Authorization
// header. It performs no validation of the token itself.
func ParseBearerToken(r *http.Request) (string, error) {
	ah := r.Header.Get("Authorization")
	if ah == "" {
		return "", errors.New("oidc: missing Authorization header")
	}
	if len(ah) <= 7 || !strings.EqualFold(ah[0:6], "BEARER") {
		return "", errors.New("oidc: Authorization header should carry a bearer token")
	}
	return ah[7:], nil
}
