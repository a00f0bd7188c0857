package protocol

import (
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

// schemaRejection maps a schema validation failure to a MalformedEvent
// carrying the dotted path of the most specific failing instance.
func schemaRejection(err error) *models.RejectionError {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return models.Reject(models.CodeMalformedEvent, "", "%v", err)
	}

	leaf := firstLeaf(ve)

	field := FieldPath(leaf.InstanceLocation)
	if name := propertyFromMessage(leaf); name != "" {
		field = joinField(field, name)
	}
	return models.Reject(models.CodeMalformedEvent, field, "%s", leaf.Message)
}

// firstLeaf returns the most specific cause. Causes are collected in
// schema map order, so leaves are sorted to keep the reported field stable
// across calls.
func firstLeaf(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	var leaves []*jsonschema.ValidationError
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, e)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)

	sort.SliceStable(leaves, func(i, j int) bool {
		if leaves[i].InstanceLocation != leaves[j].InstanceLocation {
			return leaves[i].InstanceLocation < leaves[j].InstanceLocation
		}
		return leaves[i].KeywordLocation < leaves[j].KeywordLocation
	})
	return leaves[0]
}

// propertyFromMessage extracts the offending property name for keywords
// that report on the parent object (required, additionalProperties).
func propertyFromMessage(ve *jsonschema.ValidationError) string {
	kw := ve.KeywordLocation
	if !strings.HasSuffix(kw, "/required") && !strings.HasSuffix(kw, "/additionalProperties") {
		return ""
	}
	start := strings.IndexByte(ve.Message, '\'')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(ve.Message[start+1:], '\'')
	if end < 0 {
		return ""
	}
	return ve.Message[start+1 : start+1+end]
}

// FieldPath converts a JSON pointer ("/payload/artifacts/1/id") to the
// dotted form used in rejections ("payload.artifacts[1].id").
func FieldPath(pointer string) string {
	if pointer == "" || pointer == "/" {
		return ""
	}
	var b strings.Builder
	for _, seg := range strings.Split(strings.TrimPrefix(pointer, "/"), "/") {
		seg = strings.ReplaceAll(strings.ReplaceAll(seg, "~1", "/"), "~0", "~")
		if _, err := strconv.Atoi(seg); err == nil && b.Len() > 0 {
			b.WriteString("[" + seg + "]")
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

func joinField(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
