// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

const maxScopeLen = 256

var audienceProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(true),
)

// NormalizeAudience canonicalizes an audience, which is a tenant hostname
// such as "school.example.org". Unicode labels are converted to ASCII.
func NormalizeAudience(audience string) (string, error) {
	audience = strings.TrimSpace(audience)
	if audience == "" {
		return "", errors.New("audience is empty")
	}
	ascii, err := audienceProfile.ToASCII(strings.TrimSuffix(audience, "."))
	if err != nil {
		return "", fmt.Errorf("audience %q: %w", audience, err)
	}
	return ascii, nil
}

// NormalizeScope returns the NFC form of a scope and rejects control characters.
func NormalizeScope(scope string) (string, error) {
	scope = norm.NFC.String(strings.TrimSpace(scope))
	if scope == "" {
		return "", errors.New("scope is empty")
	}
	if len(scope) > maxScopeLen {
		return "", fmt.Errorf("scope longer than %d bytes", maxScopeLen)
	}
	for _, r := range scope {
		if r < 0x20 || r == 0x7f || r == '/' {
			return "", fmt.Errorf("scope %q contains a forbidden character", scope)
		}
	}
	return scope, nil
}

// ValidateTags checks that tags, when present, are a JSON object.
func ValidateTags(tags json.RawMessage) error {
	if len(tags) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(tags, &obj); err != nil {
		return fmt.Errorf("tags must be a JSON object: %w", err)
	}
	return nil
}
