// Package company resolves user supplied company identifiers to company ids
// and keeps the directory of known companies.
package company

import (
	"context"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Company is an entry of the company directory.
type Company struct {
	ID          string              `json:"companyId" yaml:"id"`
	Name        string              `json:"companyName" yaml:"name"`
	CountryCode string              `json:"countryCode,omitempty" yaml:"countryCode"`
	Sector      string              `json:"sector,omitempty" yaml:"sector"`
	Website     string              `json:"website,omitempty" yaml:"website"`
	Identifiers map[string][]string `json:"identifiers,omitempty" yaml:"identifiers"`
	UpdatedAt   time.Time           `json:"-" yaml:"-"`
}

// Known identifier systems.
const (
	SystemLei                       = "Lei"
	SystemIsin                      = "Isin"
	SystemPermID                    = "PermId"
	SystemTicker                    = "Ticker"
	SystemDuns                      = "Duns"
	SystemCompanyRegistrationNumber = "CompanyRegistrationNumber"
	SystemVatNumber                 = "VatNumber"
)

var knownSystems = map[string]bool{
	SystemLei: true, SystemIsin: true, SystemPermID: true, SystemTicker: true,
	SystemDuns: true, SystemCompanyRegistrationNumber: true, SystemVatNumber: true,
}

// KnownSystem reports whether system is an identifier system of the directory.
func KnownSystem(system string) bool { return knownSystems[system] }

// SearchResult is one hit of a name or identifier search.
type SearchResult struct {
	ID          string  `json:"companyId"`
	Name        string  `json:"companyName"`
	CountryCode string  `json:"countryCode,omitempty"`
	Score       float64 `json:"score"`
}

// Directory looks up companies.
type Directory interface {
	// ValidateIdentifier returns the company id for a company id or any
	// registered identifier. Unknown identifiers fail with NotFound and
	// identifiers shared by several companies with Validation.
	ValidateIdentifier(ctx context.Context, identifier string) (string, error)
	GetCompany(ctx context.Context, id string) (*Company, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Exists(ctx context.Context, id string) (bool, error)
}

var legalForms = map[string]bool{
	"ag": true, "se": true, "gmbh": true, "kg": true, "kgaa": true, "mbh": true,
	"inc": true, "corp": true, "corporation": true, "co": true, "company": true,
	"ltd": true, "limited": true, "plc": true, "llc": true, "lp": true,
	"sa": true, "sas": true, "spa": true, "nv": true, "bv": true, "ab": true, "oy": true,
}

// NormalizeName folds case, strips diacritics and punctuation and drops
// trailing legal forms: "Müller GmbH & Co. KG" becomes "muller".
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = cases.Fold().String(folded)
	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for len(words) > 1 && legalForms[words[len(words)-1]] {
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func cleanIdentifier(s string) string {
	return strings.TrimSpace(s)
}
