package dxscan

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os/exec"
	"runtime"
	"strings"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan/internal/dx"
)

// searchParams maps recognized formats to their search query parameter
var searchParams = map[string]string{
	FormatITF:        "dx_full",
	FormatDXFilmEdge: "dx_number",
}

// SearchURL returns the redirect target for a detection.
//
// Returns false if the format has no search mapping.
//
//	SearchURL("search", "ITF", "025943")        -> "search?dx_full=025943"
//	SearchURL("search", "DXFilmEdge", "115-10") -> "search?dx_number=115-10"
func SearchURL(searchPath, format, text string) (string, bool) {
	param, ok := searchParams[format]
	if !ok {
		return "", false
	}
	return searchPath + "?" + param + "=" + encodeURIComponent(text), true
}

// componentUnescaper restores the characters encodeURIComponent leaves
// as-is but url.QueryEscape encodes
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// encodeURIComponent percent-encodes s for use as a query value.
// Spaces become %20 rather than "+".
func encodeURIComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}

var tagEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#39;",
)

// EscapeTags escapes markup characters so decoded text renders literally
func EscapeTags(s string) string {
	return tagEscaper.Replace(s)
}

// resultHTML formats the result area content
func resultHTML(format, text string) string {
	return format + ": " + EscapeTags(text)
}

// dxExtract derives the DX extract from a decoded code, if it is one
func dxExtract(format, text string) string {
	var (
		extract string
		err     error
	)
	switch format {
	case FormatITF:
		extract, err = dx.ExtractFromFull(text)
	case FormatDXFilmEdge:
		extract, err = dx.ExtractFromNumber(text)
	default:
		return ""
	}
	if err != nil {
		slog.Debug("dxscan: decoded text is not a DX code", "format", format, "error", err)
		return ""
	}
	return extract
}

// LogNavigator only logs navigation targets
type LogNavigator struct{}

// Navigate logs the target
func (LogNavigator) Navigate(_ context.Context, target string) error {
	slog.Info("dxscan: navigate", "url", target)
	return nil
}

// BrowserNavigator opens navigation targets in the system browser
type BrowserNavigator struct {
	// BaseURL resolves relative targets (e.g., "https://example.org/")
	BaseURL string
}

// Navigate resolves target against BaseURL and opens it
func (b BrowserNavigator) Navigate(_ context.Context, target string) error {
	resolved, err := resolveURL(b.BaseURL, target)
	if err != nil {
		return err
	}

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", resolved)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", resolved)
	default:
		cmd = exec.Command("xdg-open", resolved)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("dxscan: failed to open browser: %w", err)
	}
	go func() { _ = cmd.Wait() }()

	slog.Info("dxscan: opened search page", "url", resolved)
	return nil
}

func resolveURL(base, target string) (string, error) {
	if base == "" {
		return target, nil
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("dxscan: invalid base URL %q: %w", base, err)
	}
	ref, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("dxscan: invalid navigation target %q: %w", target, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}
