package cql

// ValueSetReference is one `valueset "<name>": '<oid>'` declaration.
type ValueSetReference struct {
	Name string `json:"name"`
	OID  string `json:"oid"`
}

// IndividualCodeReference is one `code "<name>": '<code>' from "<system>"` declaration.
type IndividualCodeReference struct {
	Name   string `json:"name"`
	Code   string `json:"code"`
	System string `json:"system"`
}

// Include is an `include <Name> version '<v>' called <Alias>` statement.
type Include struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Alias   string `json:"alias,omitempty"`
}

// Library is an included CQL document located on disk.
type Library struct {
	Include
	Path string `json:"path"`
	Text string `json:"-"`
}

type Definition struct {
	Name       string `json:"name"`
	Expression string `json:"expression,omitempty"`
}

type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Structure is the parsed shape of a measure handed to SQL generation.
type Structure struct {
	LibraryName        string                    `json:"library_name"`
	LibraryVersion     string                    `json:"library_version"`
	ValueSets          []ValueSetReference       `json:"valuesets"`
	Codes              []IndividualCodeReference `json:"codes"`
	Includes           []Include                 `json:"includes"`
	Parameters         []Parameter               `json:"parameters"`
	Definitions        []Definition              `json:"definitions"`
	Populations        map[string]string         `json:"populations"`
	LibraryDefinitions map[string][]Definition   `json:"library_definitions,omitempty"`
}
