package harness

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

// FingerprintDomain separates suite fingerprints from any other digest.
// The version suffix allows changing the encoding later.
const FingerprintDomain = "verdict/suite/v1"

// Fingerprint returns a content digest of the suite: SHA-256 over the
// domain, a zero byte, the re-encoded suite and its resolved configuration.
// Formatting, comments and Unicode normalization form do not change it.
func (s *Suite) Fingerprint() (string, error) {
	body := *s
	body.Config = yaml.Node{}
	suiteYAML, err := yaml.Marshal(&body)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}

	cfg, err := s.Configuration()
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	cfgYAML, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(FingerprintDomain))
	h.Write([]byte{0x00})
	h.Write(norm.NFC.Bytes(suiteYAML))
	h.Write([]byte{0x00})
	h.Write(norm.NFC.Bytes(cfgYAML))
	return hex.EncodeToString(h.Sum(nil)), nil
}
