// Package enrich turns a lead's website into the analysis and followup text stored
// in the result row. The document fetcher and text generator are external
// collaborators behind small interfaces.
package enrich

import (
	"context"
	"fmt"
)

// Document is the readable content of a fetched page.
type Document struct {
	URL   string
	Title string
	Text  string
}

// Fetcher retrieves a page. Failures are reported as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (Document, error)
}

// Generator produces text for a prompt. Outages are reported as *ServiceUnavailableError.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// FetchErrorKind classifies fetch failures.
type FetchErrorKind int

const (
	FetchNotReachable FetchErrorKind = iota
	FetchTimeout
)

func (k FetchErrorKind) String() string {
	if k == FetchTimeout {
		return "timeout"
	}
	return "not reachable"
}

// FetchError reports why a page could not be retrieved.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e == nil {
		return "fetch error"
	}
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ServiceUnavailableError marks a generator failure worth retrying later
// (rate limiting, 5xx, network blips).
type ServiceUnavailableError struct {
	Err error
}

func (e *ServiceUnavailableError) Error() string {
	if e == nil || e.Err == nil {
		return "text generation service unavailable"
	}
	return "text generation service unavailable: " + e.Err.Error()
}

func (e *ServiceUnavailableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string, maxTokens int) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return f(ctx, prompt, maxTokens)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, url string) (Document, error)

func (f FetcherFunc) Fetch(ctx context.Context, url string) (Document, error) {
	return f(ctx, url)
}
