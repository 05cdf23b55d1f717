// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package enforcement bakes the built-in detection rules and the default
whitelist into the binary, so a fresh deployment detects the standard
sensitive-data families without any operator configuration.
*/
package enforcement

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
)

// DetectionRules holds the raw bytes of detection_rules.yaml.
//
//	err := yaml.Unmarshal(enforcement.DetectionRules, &file)
//
//go:embed detection_rules.yaml
var DetectionRules []byte

// WhitelistSeeds holds the raw bytes of whitelist_seeds.yaml.
//
//go:embed whitelist_seeds.yaml
var WhitelistSeeds []byte

// Fingerprint returns the hex SHA-256 of the embedded rule file. The CLI
// prints it so operators can confirm which built-in rule set a binary ships.
func Fingerprint() string {
	sum := sha256.Sum256(DetectionRules)
	return hex.EncodeToString(sum[:])
}
