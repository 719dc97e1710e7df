// Package keys defines the identifier vocabulary shared by the datastore and
// action layers: collections, fully qualified ids (fqids) and fully qualified
// fields (fqfields). All three render to the wire as "/"-joined strings, e.g.
// "motion_change_recommendation/42/text".
package keys

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// KeySeparator joins the parts of an fqid or fqfield.
const KeySeparator = "/"

var (
	collectionRegex = regexp.MustCompile(`^[a-z]([a-z_]*[a-z])?$`)
	idRegex         = regexp.MustCompile(`^[1-9][0-9]*$`)
	fieldRegex      = regexp.MustCompile(`^[a-z][a-z0-9_]*\$?[a-z0-9_]*$`)
)

// Collection names a model type, e.g. "agenda_item". The zero value is not a
// valid collection.
type Collection string

// Valid reports whether the collection name matches the allowed pattern:
// lowercase words separated by underscores, no leading or trailing underscore.
func (c Collection) Valid() bool {
	return collectionRegex.MatchString(string(c))
}

func (c Collection) String() string {
	return string(c)
}

// FQID builds the fully qualified id of instance id within the collection.
func (c Collection) FQID(id int) FQID {
	return FQID{Collection: c, ID: id}
}

// FQID identifies one model instance, e.g. "topic/42".
type FQID struct {
	Collection Collection
	ID         int
}

func (f FQID) String() string {
	return string(f.Collection) + KeySeparator + strconv.Itoa(f.ID)
}

// Field builds the fully qualified field for one field of this instance.
func (f FQID) Field(name string) FQField {
	return FQField{Collection: f.Collection, ID: f.ID, Field: name}
}

// MarshalJSON renders the fqid in its string form.
func (f FQID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(f.String())), nil
}

// UnmarshalJSON parses the string form of an fqid.
func (f *FQID) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("fqid is not a JSON string: %w", err)
	}
	parsed, err := ParseFQID(s)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// ParseFQID parses "collection/id" and validates both parts.
func ParseFQID(s string) (FQID, error) {
	idx := strings.IndexByte(s, '/')
	if idx < 0 || strings.IndexByte(s[idx+1:], '/') >= 0 {
		return FQID{}, fmt.Errorf("invalid fqid %q", s)
	}
	collection := Collection(s[:idx])
	rawID := s[idx+1:]
	if !collection.Valid() || !idRegex.MatchString(rawID) {
		return FQID{}, fmt.Errorf("invalid fqid %q", s)
	}
	id, err := strconv.Atoi(rawID)
	if err != nil {
		return FQID{}, fmt.Errorf("invalid fqid %q", s)
	}
	return FQID{Collection: collection, ID: id}, nil
}

// MustFQID parses "collection/id" and panics on malformed input. Intended for
// literals in tests and static tables.
func MustFQID(s string) FQID {
	fqid, err := ParseFQID(s)
	if err != nil {
		panic(err)
	}
	return fqid
}

// FQField identifies one field of one model instance, e.g. "topic/42/title".
// It is the key format of the datastore.
type FQField struct {
	Collection Collection
	ID         int
	Field      string
}

func (f FQField) String() string {
	return string(f.Collection) + KeySeparator + strconv.Itoa(f.ID) + KeySeparator + f.Field
}

// FQID returns the instance part of the fqfield.
func (f FQField) FQID() FQID {
	return FQID{Collection: f.Collection, ID: f.ID}
}

// MarshalJSON renders the fqfield in its string form.
func (f FQField) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(f.String())), nil
}

// ParseFQField parses "collection/id/field" and validates all three parts.
func ParseFQField(s string) (FQField, error) {
	parts := strings.Split(s, KeySeparator)
	if len(parts) != 3 {
		return FQField{}, fmt.Errorf("invalid fqfield %q", s)
	}
	collection := Collection(parts[0])
	if !collection.Valid() || !idRegex.MatchString(parts[1]) || !ValidFieldName(parts[2]) {
		return FQField{}, fmt.Errorf("invalid fqfield %q", s)
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return FQField{}, fmt.Errorf("invalid fqfield %q", s)
	}
	return FQField{Collection: collection, ID: id, Field: parts[2]}, nil
}

// ValidFieldName reports whether name is a well formed field name. Template
// fields carry a single "$" at the replacement position, e.g. "group_$_ids".
func ValidFieldName(name string) bool {
	return fieldRegex.MatchString(name)
}

// ValidID reports whether raw is a positive integer without leading zeros.
func ValidID(raw string) bool {
	return idRegex.MatchString(raw)
}
