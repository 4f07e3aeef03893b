// Package document parses one scrape artifact into a canonical record set.
// Parsing and validation happen in one pass: a document either yields a
// complete RecordSet or a validation error listing every offending path.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	apperrors "github.com/zatekoja/waitingtimes/pkg/errors"
)

const (
	bucketRegular  = "regular"
	bucketFast     = "fast"
	bucketVeryFast = "veryFast"

	timestampLayout = "2006-01-02T15:04:05Z07:00"
)

var bucketNames = []string{bucketRegular, bucketFast, bucketVeryFast}

type rawDocument struct {
	Start      *string       `json:"start" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	End        *string       `json:"end" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
	Procedures rawProcedures `json:"procedures" validate:"required,dive"`
}

// rawProcedures decodes element by element so decode failures keep their
// index in the reported path.
type rawProcedures []rawProcedure

func (p *rawProcedures) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = nil
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return withPath("procedures", err)
	}

	out := make(rawProcedures, len(items))
	for i, item := range items {
		if err := decodeStrict(item, &out[i]); err != nil {
			return withPath(fmt.Sprintf("procedures[%d]", i), err)
		}
	}
	*p = out
	return nil
}

type rawProcedure struct {
	Code           *string            `json:"code" validate:"required,min=1"`
	Name           *string            `json:"name" validate:"required,min=1"`
	MaxAllowedDays *rawMaxAllowedDays `json:"maxAllowedDays" validate:"required"`
	WaitingPeriods *rawWaitingPeriods `json:"waitingPeriods" validate:"required"`
}

type rawMaxAllowedDays struct {
	Regular  *int `json:"regular" validate:"required,min=0"`
	Fast     *int `json:"fast" validate:"required,min=0"`
	VeryFast *int `json:"veryFast" validate:"required,min=0"`
}

// rawWaitingPeriods distinguishes a bucket that is null from one that is
// missing: the former is allowed, the latter is not.
type rawWaitingPeriods struct {
	Regular  []rawEntry `json:"regular" validate:"omitempty,dive"`
	Fast     []rawEntry `json:"fast" validate:"omitempty,dive"`
	VeryFast []rawEntry `json:"veryFast" validate:"omitempty,dive"`

	present map[string]bool
}

type rawEntry struct {
	Facility *string `json:"facility" validate:"required,min=1"`
	Days     *int    `json:"days" validate:"required,min=0"`
}

func (w *rawWaitingPeriods) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}

	var buckets map[string]json.RawMessage
	if err := json.Unmarshal(data, &buckets); err != nil {
		return withPath("waitingPeriods", err)
	}

	w.present = make(map[string]bool, len(bucketNames))
	unknown := make([]string, 0)
	for name, raw := range buckets {
		var target *[]rawEntry
		switch name {
		case bucketRegular:
			target = &w.Regular
		case bucketFast:
			target = &w.Fast
		case bucketVeryFast:
			target = &w.VeryFast
		default:
			unknown = append(unknown, name)
			continue
		}
		w.present[name] = true

		entries, err := decodeEntries(raw)
		if err != nil {
			return withPath("waitingPeriods."+name, err)
		}
		*target = entries
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return withPath("waitingPeriods", fmt.Errorf("unknown field %q", unknown[0]))
	}
	return nil
}

func decodeEntries(data []byte) ([]rawEntry, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	if items == nil {
		return nil, nil
	}

	entries := make([]rawEntry, len(items))
	for i, item := range items {
		if err := decodeStrict(item, &entries[i]); err != nil {
			return nil, withPath(fmt.Sprintf("[%d]", i), err)
		}
	}
	return entries, nil
}

func (w *rawWaitingPeriods) bucket(name string) []rawEntry {
	switch name {
	case bucketRegular:
		return w.Regular
	case bucketFast:
		return w.Fast
	default:
		return w.VeryFast
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Normalize parses a raw scrape document into a RecordSet. It has no side
// effects and returns either a complete record set or an error.
func Normalize(data []byte) (*RecordSet, error) {
	doc, err := decode(data)
	if err != nil {
		return nil, apperrors.NewSchemaValidationError("malformed document", []string{err.Error()})
	}

	if err := validate.Struct(doc); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return nil, apperrors.NewSchemaValidationError("malformed document", []string{err.Error()})
		}
		return nil, apperrors.NewSchemaValidationError("malformed document", describe(verrs))
	}

	return build(doc)
}

func decode(data []byte) (*rawDocument, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	doc := &rawDocument{}
	if err := dec.Decode(doc); err != nil {
		var pathErr *pathError
		if errors.As(err, &pathErr) {
			return nil, pathErr
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, withPath("", typeErr)
		}
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after document")
	}
	return doc, nil
}

func decodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// pathError is a decode failure located at a document path such as
// procedures[2].waitingPeriods.fast[0].days
type pathError struct {
	path string
	err  error
}

func (e *pathError) Error() string {
	return e.path + ": " + e.err.Error()
}

func (e *pathError) Unwrap() error {
	return e.err
}

// withPath prefixes err with prefix. Type errors are rewritten so their
// field joins the path.
func withPath(prefix string, err error) error {
	var pathErr *pathError
	if errors.As(err, &pathErr) {
		return &pathError{path: joinPath(prefix, pathErr.path), err: pathErr.err}
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &pathError{
			path: joinPath(prefix, typeErr.Field),
			err:  fmt.Errorf("expected %s, got %s", jsonKind(typeErr.Type), typeErr.Value),
		}
	}
	return &pathError{path: prefix, err: err}
}

func joinPath(prefix, field string) string {
	switch {
	case field == "":
		return prefix
	case prefix == "", strings.HasPrefix(field, "["):
		return prefix + field
	default:
		return prefix + "." + field
	}
}

func jsonKind(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "integer"
	case reflect.Float32, reflect.Float64:
		return "number"
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return "object"
	}
}

func describe(verrs validator.ValidationErrors) []string {
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i >= 0 {
			path = path[i+1:]
		}

		var reason string
		switch fe.Tag() {
		case "required":
			reason = "is required"
		case "min":
			if fe.Kind() == reflect.String {
				reason = "must not be empty"
			} else {
				reason = fmt.Sprintf("must be >= %s", fe.Param())
			}
		case "datetime":
			reason = "must be an RFC 3339 timestamp"
		default:
			reason = fmt.Sprintf("failed %s", fe.Tag())
		}
		fields = append(fields, fmt.Sprintf("%s: %s", path, reason))
	}
	return fields
}

func build(doc *rawDocument) (*RecordSet, error) {
	var fields []string

	start, err := time.Parse(timestampLayout, *doc.Start)
	if err != nil {
		fields = append(fields, "start: must be an RFC 3339 timestamp")
	}
	end, err := time.Parse(timestampLayout, *doc.End)
	if err != nil {
		fields = append(fields, "end: must be an RFC 3339 timestamp")
	}

	set := &RecordSet{
		Start:          start,
		End:            end,
		Procedures:     make([]ProcedureRecord, 0, len(doc.Procedures)),
		MaxAllowedDays: make([]MaxAllowedDaysRecord, 0, len(doc.Procedures)),
		WaitingPeriods: make(map[string]*WaitingPeriodRecord),
	}

	seenCodes := make(map[string]int, len(doc.Procedures))
	seenInstitutions := make(map[string]struct{})

	for i, raw := range doc.Procedures {
		prefix := fmt.Sprintf("procedures[%d]", i)

		code := strings.TrimSpace(*raw.Code)
		name := NormalizeName(*raw.Name)
		if code == "" {
			fields = append(fields, prefix+".code: must not be empty")
			continue
		}
		if first, dup := seenCodes[code]; dup {
			fields = append(fields, fmt.Sprintf("%s.code: duplicate code %q (first seen at procedures[%d])", prefix, code, first))
			continue
		}
		seenCodes[code] = i
		if name == "" {
			fields = append(fields, prefix+".name: must not be empty")
		}

		set.Procedures = append(set.Procedures, ProcedureRecord{Code: code, Name: name})
		set.MaxAllowedDays = append(set.MaxAllowedDays, MaxAllowedDaysRecord{
			ProcedureCode: code,
			Regular:       *raw.MaxAllowedDays.Regular,
			Fast:          *raw.MaxAllowedDays.Fast,
			VeryFast:      *raw.MaxAllowedDays.VeryFast,
		})

		for _, bucket := range bucketNames {
			if !raw.WaitingPeriods.present[bucket] {
				fields = append(fields, fmt.Sprintf("%s.waitingPeriods.%s: is required", prefix, bucket))
				continue
			}
			for j, entry := range raw.WaitingPeriods.bucket(bucket) {
				facility := NormalizeName(*entry.Facility)
				if facility == "" {
					fields = append(fields, fmt.Sprintf("%s.waitingPeriods.%s[%d].facility: must not be empty", prefix, bucket, j))
					continue
				}
				if _, ok := seenInstitutions[facility]; !ok {
					seenInstitutions[facility] = struct{}{}
					set.Institutions = append(set.Institutions, facility)
				}
				set.addWaitingPeriod(facility, code, bucket, *entry.Days)
			}
		}
	}

	if len(fields) > 0 {
		return nil, apperrors.NewSchemaValidationError("malformed document", fields)
	}
	return set, nil
}
