package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"codewhisperer-proxy/internal/auth"
	"codewhisperer-proxy/pkg/utils"
)

// AnalyzeToken describes a stored token relative to now.
func AnalyzeToken(tok *auth.Token, now time.Time) string {
	if tok == nil {
		return "ERROR: no token stored\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Access token: %s\n", utils.MaskToken(tok.AccessToken))
	fmt.Fprintf(&b, "Token length: %d\n", len(tok.AccessToken))

	if strings.HasPrefix(tok.AccessToken, "Bearer ") {
		b.WriteString("WARNING: Token starts with 'Bearer ' prefix, which should be added by the code\n")
	}

	remaining := tok.ExpiresAt.Sub(now).Round(time.Second)
	switch {
	case tok.Expired(now) && remaining > 0:
		fmt.Fprintf(&b, "WARNING: Token expires in %s and will be refreshed on next use\n", remaining)
	case tok.Expired(now):
		fmt.Fprintf(&b, "WARNING: Token expired %s ago\n", -remaining)
	default:
		fmt.Fprintf(&b, "✓ Token valid for %s\n", remaining)
	}

	if tok.RefreshToken != "" {
		fmt.Fprintf(&b, "✓ Refresh token present: %s\n", utils.MaskToken(tok.RefreshToken))
	} else {
		b.WriteString("WARNING: No refresh token; a new login is needed when the token expires\n")
	}
	if tok.Region != "" {
		fmt.Fprintf(&b, "Region: %s\n", tok.Region)
	}
	if tok.StartURL != "" {
		fmt.Fprintf(&b, "Start URL: %s\n", tok.StartURL)
	}
	return b.String()
}

// AnalyzeRegistration describes a stored client registration relative to now.
func AnalyzeRegistration(reg *auth.Registration, region string, now time.Time) string {
	if reg == nil {
		return "No client registration stored\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Client ID: %s\n", utils.MaskToken(reg.ClientID))
	if reg.Usable(region, now) {
		b.WriteString("✓ Registration is reusable\n")
	} else {
		fmt.Fprintf(&b, "WARNING: Registration will be replaced (region %q, expiry %v)\n", reg.Region, reg.ClientSecretExpiresAt)
	}
	return b.String()
}

// DisplayTokenAnalysis prints what the credential store currently holds.
func DisplayTokenAnalysis(ctx context.Context, credentials auth.CredentialStore, region string, now time.Time) {
	writeTokenAnalysis(ctx, os.Stdout, credentials, region, now)
}

func writeTokenAnalysis(ctx context.Context, w io.Writer, credentials auth.CredentialStore, region string, now time.Time) {
	fmt.Fprintln(w, "\n🔍 Token Analysis")
	fmt.Fprintln(w, "----------------------------")

	tok, err := credentials.LoadToken(ctx)
	if err != nil && !errors.Is(err, auth.ErrCredentialNotFound) {
		fmt.Fprintf(w, "Error loading token: %v\n", err)
	} else {
		fmt.Fprint(w, AnalyzeToken(tok, now))
	}

	reg, err := credentials.LoadRegistration(ctx)
	if err != nil && !errors.Is(err, auth.ErrCredentialNotFound) {
		fmt.Fprintf(w, "Error loading registration: %v\n", err)
	} else {
		fmt.Fprint(w, AnalyzeRegistration(reg, region, now))
	}
	fmt.Fprintln(w, "----------------------------")
}
