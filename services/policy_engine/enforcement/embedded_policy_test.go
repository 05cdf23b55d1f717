// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enforcement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestEmbeddedRulesIntegrity(t *testing.T) {
	require.NotEmpty(t, DetectionRules, "embedded rule data is empty")

	var dump struct {
		Rules []map[string]any `yaml:"rules"`
	}
	require.NoError(t, yaml.Unmarshal(DetectionRules, &dump))
	assert.Len(t, dump.Rules, 9)

	names := make(map[string]bool)
	for _, r := range dump.Rules {
		name, _ := r["name"].(string)
		assert.NotEmpty(t, name)
		assert.False(t, names[name], "duplicate rule name %s", name)
		names[name] = true
	}
}

func TestEmbeddedWhitelistSeeds(t *testing.T) {
	var dump struct {
		Whitelist []map[string]any `yaml:"whitelist"`
	}
	require.NoError(t, yaml.Unmarshal(WhitelistSeeds, &dump))
	assert.Len(t, dump.Whitelist, 3)
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint()
	assert.Len(t, fp, 64)
	assert.Equal(t, fp, Fingerprint())
}
