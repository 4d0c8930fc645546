package harness

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// SchemaError is one schema violation in a scenario document.
type SchemaError struct {
	// Path locates the offending value inside the document, dotted
	// ("steps.2.op"). Empty when the violation is document-wide.
	Path    string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// SchemaErrors aggregates every violation found in one document.
type SchemaErrors struct {
	Errs []*SchemaError
}

func (e *SchemaErrors) Error() string {
	if len(e.Errs) == 1 {
		return "schema: " + e.Errs[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "schema: %d violations:", len(e.Errs))
	for _, err := range e.Errs {
		b.WriteString("\n  ")
		b.WriteString(err.Error())
	}
	return b.String()
}

// ValidateScenarioBytes checks a YAML scenario document against the
// embedded schema. A nil return means the document unifies with
// #Scenario; otherwise every violation found is reported.
func ValidateScenarioBytes(data []byte) []*SchemaError {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return []*SchemaError{{Message: fmt.Sprintf("not valid YAML: %v", err)}}
	}
	return ValidateScenarioData(doc)
}

// ValidateScenarioData checks an already-decoded document against the
// embedded schema.
func ValidateScenarioData(doc any) []*SchemaError {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		// The embedded schema is part of the build; failing to compile it
		// is a programming error, not a document problem.
		panic(fmt.Sprintf("harness: embedded schema does not compile: %v", err))
	}
	def := schema.LookupPath(cue.ParsePath("#Scenario"))
	if !def.Exists() {
		panic("harness: embedded schema lacks #Scenario")
	}

	val := def.Unify(ctx.Encode(doc))
	err := val.Validate(cue.Concrete(true), cue.Final())
	if err == nil {
		return nil
	}

	var out []*SchemaError
	for _, e := range cueerrors.Errors(err) {
		out = append(out, &SchemaError{
			Path:    strings.Join(e.Path(), "."),
			Message: e.Error(),
		})
	}
	return out
}
