package source

import (
	"os"

	"gopkg.in/yaml.v3"

	"sjsage522/estateworker/pkg/errors"
)

// TypeTables maps a table name to its raw-label -> canonical-type aliases
type TypeTables map[string]map[string]string

// LoadTypeTables reads the type alias tables from a YAML file
func LoadTypeTables(path string) (TypeTables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfiguration("read type tables "+path, err)
	}
	return ParseTypeTables(data)
}

// ParseTypeTables decodes a YAML document of alias tables
func ParseTypeTables(data []byte) (TypeTables, error) {
	tables := TypeTables{}
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return nil, errors.NewConfiguration("decode type tables", err)
	}
	return tables, nil
}

// CheckReferences verifies every source points to an existing table
func (t TypeTables) CheckReferences(sources []SourceConfig) error {
	for _, src := range sources {
		if src.TypeTable == "" {
			continue
		}
		if _, ok := t[src.TypeTable]; !ok {
			return errors.New(errors.ErrorTypeConfiguration, src.Name, "unknown type_table "+src.TypeTable, nil)
		}
	}
	return nil
}
