package sheets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"
)

// Scope grants read/write access to spreadsheets.
const Scope = "https://www.googleapis.com/auth/spreadsheets"

// TokenSource supplies the bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token (tests, short-lived CLI runs).
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	t := strings.TrimSpace(string(s))
	if t == "" {
		return "", fmt.Errorf("static token is empty")
	}
	return t, nil
}

// TokenFile reads the bearer token from a file on every request, so an external
// agent can rotate it in place.
type TokenFile string

func (f TokenFile) Token(context.Context) (string, error) {
	b, err := os.ReadFile(string(f))
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}
	t := strings.TrimSpace(string(b))
	if t == "" {
		return "", fmt.Errorf("token file %s is empty", string(f))
	}
	return t, nil
}

// GoogleTokenSource uses Google service-account or application-default credentials.
type GoogleTokenSource struct {
	creds *auth.Credentials
}

// NewGoogleTokenSource detects credentials. credentialsFile may be empty to use
// GOOGLE_APPLICATION_CREDENTIALS or the metadata server.
func NewGoogleTokenSource(credentialsFile string) (*GoogleTokenSource, error) {
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes:          []string{Scope},
		CredentialsFile: strings.TrimSpace(credentialsFile),
	})
	if err != nil {
		return nil, fmt.Errorf("detect google credentials: %w", err)
	}
	return &GoogleTokenSource{creds: creds}, nil
}

func (g *GoogleTokenSource) Token(ctx context.Context) (string, error) {
	tok, err := g.creds.Token(ctx)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}
