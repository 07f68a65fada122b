package company

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// ImportFile is the layout of a company import file.
//
//	companies:
//	  - name: Example AG
//	    countryCode: DE
//	    identifiers:
//	      Lei: ["529900EXAMPLE0000001"]
type ImportFile struct {
	Companies []Company `yaml:"companies"`
}

// LoadImportFile reads companies from a yaml (or json) file.
func LoadImportFile(path string) ([]Company, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "company: read %s", path)
	}
	return ParseImportFile(raw)
}

// ParseImportFile decodes an import file.
func ParseImportFile(raw []byte) ([]Company, error) {
	var f ImportFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrap(err, "company: parse import file")
	}
	return f.Companies, nil
}
