// Package xajax parses the response stream of the ERP's internal XAJAX-style
// RPC framework. A response body is a JSON envelope holding an ordered list of
// commands; the interesting payloads (item arrays, edited-item objects) arrive
// embedded as literals inside free-form "script call" source text rather than
// as clean JSON.
package xajax

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Command is one element of a response stream.
//
// Known kinds: "as" assigns Val to the field named by Elm, "sc" carries
// script-call source text in Src, "rt" is the terminal return value and "rj"
// is a rejection whose message lives in Exc.
type Command struct {
	Cmd string `json:"cmd"`
	Elm string `json:"elm"`
	Val any    `json:"val"`
	Src string `json:"src"`
	Exc string `json:"exc"`
}

const (
	CmdAssign = "as"
	CmdScript = "sc"
	CmdReturn = "rt"
	CmdReject = "rj"
)

// Callback identifies which script-call payload a caller expects.
type Callback string

const (
	// invoice line items, an array literal
	CallbackItems Callback = "setarArrayItens("
	// temp item returned for editing, object literals (last wins)
	CallbackEditItem Callback = "callbackEditarItem("
	// confirmation after saving an edited item, same shape as CallbackEditItem
	CallbackSaveItem Callback = "callbackSalvarEdicaoItem("
)

type envelope struct {
	Response []Command `json:"response"`
}

// Result is the structured form of a response stream.
//
// Items, Response and Error are the reserved keys of the mapping, everything
// assigned by name lands in Fields. A matched object-payload callback replaces
// Fields wholesale with the decoded object.
type Result struct {
	Items    []map[string]any
	Response any
	Error    string
	Fields   map[string]any

	// Commands keeps the decoded stream so callers can classify
	// business-level conditions (redirect scripts, auth banners) that this
	// package deliberately does not interpret.
	Commands []Command

	// Raw is the undecoded response body, kept for callers that need to
	// salvage values out of otherwise malformed script text.
	Raw []byte

	// SessionCookie is the TINYSESSID value the response carried, if any.
	// Populated by the transport, not by this package.
	SessionCookie string
}

// Field returns a named value from the open mapping.
func (r Result) Field(name string) (any, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// StringField returns a named value rendered as a string, or "" when absent.
func (r Result) StringField(name string) string {
	v, ok := r.Fields[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ParseError reports a response that did not contain the expected balanced
// bracket or brace region.
type ParseError struct {
	Reason  string
	Excerpt string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("xajax: %s: %q", e.Reason, e.Excerpt)
}

func excerpt(s string) string {
	if len(s) > 200 {
		return s[:200]
	}
	return s
}

// Decode unmarshals the raw response body into its command stream.
func Decode(raw []byte) ([]Command, error) {
	var env envelope
	err := json.Unmarshal(raw, &env)
	if err != nil {
		return nil, &ParseError{Reason: "response envelope is not json", Excerpt: excerpt(string(raw))}
	}
	return env.Response, nil
}

// Fold accumulates a command stream into a Result. The callback selects which
// script-call payload, if any, gets extracted; pass "" when none is expected.
// Duplicate assignments follow stream order, last write wins.
func Fold(cmds []Command, callback Callback) (Result, error) {
	result := Result{
		Fields:   map[string]any{},
		Commands: cmds,
	}

	for _, cmd := range cmds {
		switch cmd.Cmd {
		case CmdAssign:
			result.Fields[cmd.Elm] = cmd.Val
		case CmdScript:
			if callback == "" || !strings.Contains(cmd.Src, string(callback)) {
				continue
			}
			switch callback {
			case CallbackItems:
				items, err := decodeItemArray(cmd.Src)
				if err != nil {
					return result, err
				}
				result.Items = items
			case CallbackEditItem, CallbackSaveItem:
				obj, err := decodeLastObject(cmd.Src)
				if err != nil {
					return result, err
				}
				result.Fields = obj
			}
		case CmdReturn:
			result.Response = cmd.Val
		case CmdReject:
			result.Error = cmd.Exc
		}
	}

	return result, nil
}

// Parse decodes and folds a raw response body in one step.
func Parse(raw []byte, callback Callback) (Result, error) {
	cmds, err := Decode(raw)
	if err != nil {
		return Result{}, err
	}
	return Fold(cmds, callback)
}

func decodeItemArray(src string) ([]map[string]any, error) {
	literal, err := ExtractArray(src)
	if err != nil {
		return nil, err
	}
	var items []map[string]any
	err = json.Unmarshal([]byte(literal), &items)
	if err != nil {
		return nil, &ParseError{Reason: "item array is not valid json", Excerpt: excerpt(literal)}
	}
	return items, nil
}

func decodeLastObject(src string) (map[string]any, error) {
	literals := ExtractObjects(src)
	if len(literals) == 0 {
		return nil, &ParseError{Reason: "no brace-delimited object in script call", Excerpt: excerpt(src)}
	}
	// the innermost/most recent call is the authoritative one
	last := UnescapeJS(literals[len(literals)-1])
	var obj map[string]any
	err := json.Unmarshal([]byte(last), &obj)
	if err != nil {
		return nil, &ParseError{Reason: "object payload is not valid json", Excerpt: excerpt(last)}
	}
	return obj, nil
}
