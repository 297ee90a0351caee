package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	MinCodeLength = 3
	MaxCodeLength = 10

	// MaxStoredCodeLength bounds any code or alias the store accepts.
	MaxStoredCodeLength = 50
)

// DefaultReservedWords are rejected as custom aliases because they collide
// with routes or look official.
var DefaultReservedWords = []string{
	"api", "admin", "www", "mail", "ftp", "localhost", "dashboard",
	"login", "register", "signup", "signin", "auth", "oauth",
	"health", "metrics", "actuator", "static", "assets", "public",
}

// CodePolicy configures generated codes and accepted custom aliases.
type CodePolicy struct {
	Length            int
	FallbackLength    int
	MaxAttempts       int
	AliasMinLength    int
	AliasMaxLength    int
	AliasAllowSymbols bool
	ReservedWords     []string
}

// DefaultCodePolicy mirrors the configuration defaults.
func DefaultCodePolicy() CodePolicy {
	return CodePolicy{
		Length:            7,
		FallbackLength:    8,
		MaxAttempts:       10,
		AliasMinLength:    3,
		AliasMaxLength:    50,
		AliasAllowSymbols: true,
		ReservedWords:     DefaultReservedWords,
	}
}

func (p CodePolicy) normalized() CodePolicy {
	d := DefaultCodePolicy()
	if p.Length < MinCodeLength || p.Length > MaxCodeLength {
		p.Length = d.Length
	}
	if p.FallbackLength < MinCodeLength || p.FallbackLength > MaxCodeLength {
		p.FallbackLength = p.Length
	}
	switch {
	case p.MaxAttempts <= 0:
		p.MaxAttempts = d.MaxAttempts
	case p.MaxAttempts < 3:
		p.MaxAttempts = 3
	case p.MaxAttempts > 20:
		p.MaxAttempts = 20
	}
	if p.AliasMinLength < 1 {
		p.AliasMinLength = d.AliasMinLength
	}
	if p.AliasMaxLength < p.AliasMinLength || p.AliasMaxLength > MaxStoredCodeLength {
		p.AliasMaxLength = d.AliasMaxLength
	}
	if p.ReservedWords == nil {
		p.ReservedWords = d.ReservedWords
	}
	return p
}

// CodeGenerator produces random candidate codes and validates custom aliases.
// It never consults the store.
type CodeGenerator struct {
	policy   CodePolicy
	reserved map[string]struct{}
}

// NewCodeGenerator returns a generator for the given policy. Out of range
// values fall back to defaults.
func NewCodeGenerator(policy CodePolicy) *CodeGenerator {
	policy = policy.normalized()
	reserved := make(map[string]struct{}, len(policy.ReservedWords))
	for _, w := range policy.ReservedWords {
		reserved[strings.ToLower(strings.TrimSpace(w))] = struct{}{}
	}
	return &CodeGenerator{policy: policy, reserved: reserved}
}

// Policy returns the effective policy after normalization.
func (g *CodeGenerator) Policy() CodePolicy {
	return g.policy
}

// Generate returns a code of the configured length.
func (g *CodeGenerator) Generate() (string, error) {
	return g.GenerateWithLength(g.policy.Length)
}

// GenerateWithLength returns n symbols drawn uniformly from the 62-symbol
// alphabet using crypto/rand.
func (g *CodeGenerator) GenerateWithLength(n int) (string, error) {
	if n < MinCodeLength || n > MaxCodeLength {
		return "", fmt.Errorf("code length %d outside [%d,%d]", n, MinCodeLength, MaxCodeLength)
	}

	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, n)
	for i := range buf {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		buf[i] = codeAlphabet[idx.Int64()]
	}
	return string(buf), nil
}

// ValidateAlias returns nil or an error wrapping ErrInvalidAlias with the reason.
func (g *CodeGenerator) ValidateAlias(alias string) error {
	n := len(alias)
	if n < g.policy.AliasMinLength || n > g.policy.AliasMaxLength {
		return fmt.Errorf("%w: length must be between %d and %d characters",
			ErrInvalidAlias, g.policy.AliasMinLength, g.policy.AliasMaxLength)
	}
	for i := 0; i < n; i++ {
		if !isAliasChar(alias[i], g.policy.AliasAllowSymbols) {
			if g.policy.AliasAllowSymbols {
				return fmt.Errorf("%w: only letters, digits, '-' and '_' are allowed", ErrInvalidAlias)
			}
			return fmt.Errorf("%w: only letters and digits are allowed", ErrInvalidAlias)
		}
	}
	if _, ok := g.reserved[strings.ToLower(alias)]; ok {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidAlias, alias)
	}
	return nil
}

// IsPlausibleCode reports whether s could name any stored link, generated or
// custom. Anything else cannot exist and needs no store lookup.
func IsPlausibleCode(s string) bool {
	if len(s) == 0 || len(s) > MaxStoredCodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isAliasChar(s[i], true) {
			return false
		}
	}
	return true
}

func isAliasChar(c byte, allowSymbols bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '-' || c == '_':
		return allowSymbols
	}
	return false
}
