package postgres

import (
	"fmt"
	"strings"
)

// maxIdentifierLength is NAMEDATALEN - 1
const maxIdentifierLength = 63

// ValidateTableName checks that name is a plain or schema-qualified
// identifier that can be used unquoted
func ValidateTableName(name string) error {
	if name == "" {
		return fmt.Errorf("table name cannot be empty")
	}

	parts := strings.Split(name, ".")
	if len(parts) > 2 {
		return fmt.Errorf("table name %q has too many parts", name)
	}
	for _, part := range parts {
		if err := validateIdentifier(part); err != nil {
			return fmt.Errorf("table name %q: %w", name, err)
		}
	}
	return nil
}

func validateIdentifier(id string) error {
	if id == "" {
		return fmt.Errorf("empty identifier")
	}
	if len(id) > maxIdentifierLength {
		return fmt.Errorf("identifier longer than %d characters", maxIdentifierLength)
	}

	first := id[0]
	if !((first >= 'a' && first <= 'z') || (first >= 'A' && first <= 'Z') || first == '_') {
		return fmt.Errorf("identifier must start with a letter or underscore")
	}
	for _, char := range id {
		if !((char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '_') {
			return fmt.Errorf("identifier contains invalid character: %c", char)
		}
	}
	return nil
}

// SplitTableName returns the schema (empty when unqualified) and the table
func SplitTableName(name string) (schema, table string) {
	if i := strings.IndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// IndexPrefix returns a name usable as the prefix of index names for table
func IndexPrefix(name string) string {
	_, table := SplitTableName(name)
	return strings.ToLower(table)
}
