package tools

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/abdul-hamid-achik/toolloop/internal/errors"
)

// ParamSpec documents one parameter of a tool.
type ParamSpec struct {
	Name        string
	Description string
	Required    bool
}

// Schema describes a tool to the parser and to the model.
type Schema struct {
	Name        string
	Kind        Kind
	Description string
	Parameters  []ParamSpec
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate converts the raw string parameters collected from a tool tag into
// the typed parameter struct of the tool and checks it. Failures are
// reported as a tool_validation_failed error with one entry per field.
// Parameters the tool does not declare are ignored.
func (s Schema) Validate(raw map[string]string) (Params, error) {
	ptr, ok := newParams(s.Kind)
	if !ok {
		return nil, errors.ToolNotFound(s.Name)
	}

	if fields := decodeStrings(raw, ptr); len(fields) > 0 {
		return nil, errors.ToolValidationFailed(s.Name, fields)
	}

	if err := validate.Struct(ptr); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return nil, errors.ToolValidationFailed(s.Name, map[string]string{"_": err.Error()})
		}
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = describeFieldError(ptr, fe)
		}
		return nil, errors.ToolValidationFailed(s.Name, fields)
	}

	return reflect.ValueOf(ptr).Elem().Interface().(Params), nil
}

// Usage renders the tag form of the tool for the system prompt.
func (s Schema) Usage(containerTag string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## %s\n%s\nParameters:\n", s.Name, s.Description)
	for _, p := range s.Parameters {
		req := "optional"
		if p.Required {
			req = "required"
		}
		fmt.Fprintf(&sb, "- %s (%s): %s\n", p.Name, req, p.Description)
	}
	fmt.Fprintf(&sb, "Usage:\n<%s name=\"%s\">\n", containerTag, s.Name)
	for _, p := range s.Parameters {
		fmt.Fprintf(&sb, "<%s>...</%s>\n", p.Name, p.Name)
	}
	fmt.Fprintf(&sb, "</%s>\n", containerTag)
	return sb.String()
}

// decodeStrings assigns raw values to the fields of the struct behind ptr,
// matched by json name. It returns conversion failures keyed by name.
func decodeStrings(raw map[string]string, ptr any) map[string]string {
	v := reflect.ValueOf(ptr).Elem()
	t := v.Type()
	fields := map[string]string{}

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		value, ok := raw[name]
		if !ok {
			continue
		}
		fv := v.Field(i)
		switch fv.Kind() {
		case reflect.String:
			fv.SetString(value)
		case reflect.Int:
			trimmed := strings.TrimSpace(value)
			if trimmed == "" {
				continue
			}
			n, err := strconv.Atoi(trimmed)
			if err != nil {
				fields[name] = "must be an integer"
				continue
			}
			fv.SetInt(int64(n))
		case reflect.Bool:
			trimmed := strings.TrimSpace(value)
			if trimmed == "" {
				continue
			}
			b, err := strconv.ParseBool(trimmed)
			if err != nil {
				fields[name] = "must be true or false"
				continue
			}
			fv.SetBool(b)
		}
	}
	return fields
}

func describeFieldError(ptr any, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gtefield":
		return "must not be less than " + jsonName(ptr, fe.Param())
	}
	return "failed " + fe.Tag() + " check"
}

func jsonName(ptr any, field string) string {
	sf, ok := reflect.TypeOf(ptr).Elem().FieldByName(field)
	if !ok {
		return field
	}
	name, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
	return name
}
