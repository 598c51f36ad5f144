package helpers

import (
	"fmt"
	"strings"
)

// JSONGenerator creates malicious and malformed Zulip payloads for testing
type JSONGenerator struct{}

// NewJSONGenerator creates a new JSON generator
func NewJSONGenerator() *JSONGenerator {
	return &JSONGenerator{}
}

// GenerateMalformedEventBatches returns 200 bodies that cannot be decoded
// as an events response.
func (g *JSONGenerator) GenerateMalformedEventBatches() []string {
	return []string{
		// Not JSON at all
		``,
		`not json`,
		`<html><body>Welcome</body></html>`,

		// Truncated
		`{"result":"success","events":[{"id":1,"type":"message"}`,
		`{"result":"success","events":[`,

		// Events of the wrong shape
		`{"result":"success","events":{}}`,
		`{"result":"success","events":"none"}`,
		`{"result":"success","events":42}`,
		`[]`,

		// Events without a usable id
		`{"result":"success","events":[{"type":"message"}]}`,
		`{"result":"success","events":[{"id":"7","type":"message"}]}`,
		`{"result":"success","events":[{"id":1.5,"type":"message"}]}`,
		`{"result":"success","events":[{"id":99999999999999999999,"type":"message"}]}`,

		// Events that are not objects
		`{"result":"success","events":["message"]}`,
		`{"result":"success","events":[[1,"message"]]}`,

		// Fields of the wrong type
		`{"result":"success","events":[{"id":1,"type":5}]}`,
		`{"result":"success","events":[{"id":1,"type":"typing","op":7}]}`,
	}
}

// GenerateUndecodableErrorBodies returns 4xx bodies that are not a
// structured error payload.
func (g *JSONGenerator) GenerateUndecodableErrorBodies() []string {
	return []string{
		``,
		`Bad Request`,
		`<html><body>400 Bad Request</body></html>`,
		`{"result":"error"}`,
		`{"result":"error","code":"BAD_REQUEST"}`,
		`{"result":"error","msg":5}`,
		`{"result":"error","msg":null}`,
		`{"result":"error","msg":"truncated`,
		`["error"]`,
	}
}

// GenerateUncodedErrorBodies returns 4xx bodies that decode but whose code
// the client cannot represent. They must classify with a nil code.
func (g *JSONGenerator) GenerateUncodedErrorBodies() []string {
	return []string{
		`{"result":"error","msg":"no code"}`,
		`{"result":"error","msg":"unknown","code":"SOMETHING_NEW"}`,
		`{"result":"error","msg":"lowercase","code":"bad_request"}`,
		`{"result":"error","msg":"padded","code":" BAD_REQUEST"}`,
		`{"result":"error","msg":"missing var","code":"REQUEST_VARIABLE_MISSING"}`,
		`{"result":"error","msg":"null var","code":"REQUEST_VARIABLE_MISSING","var_name":null}`,
		`{"result":"error","msg":"no delay","code":"RATE_LIMIT_HIT"}`,
		`{"result":"error","msg":"null delay","code":"RATE_LIMIT_HIT","retry-after":null}`,
		`{"message":"x","code":123}`,
		`{"message":"x","code":"REQUEST_VARIABLE_MISSING","var_name":5}`,
		`{"message":"x","code":"RATE_LIMIT_HIT","retry_after":"soon"}`,
		`{"result":"error","msg":"object code","code":{"tag":"BAD_REQUEST"}}`,
		`{"result":"error","msg":"bool delay","code":"RATE_LIMIT_HIT","retry-after":true}`,
	}
}

// GenerateDeeplyNestedEvent creates an event whose payload nests depth
// levels of objects.
func (g *JSONGenerator) GenerateDeeplyNestedEvent(id int64, depth int) string {
	var b strings.Builder
	fmt.Fprintf(&b, `{"id":%d,"type":"custom","payload":`, id)
	for i := 0; i < depth; i++ {
		b.WriteString(`{"child":`)
	}
	b.WriteString(`"leaf"`)
	for i := 0; i < depth; i++ {
		b.WriteString(`}`)
	}
	b.WriteString(`}`)
	return b.String()
}

// GenerateHostileStrings returns string values that must survive decoding
// unchanged inside an event payload.
func (g *JSONGenerator) GenerateHostileStrings() []string {
	return []string{
		"",
		"\u0000",
		"line\nbreak",
		"\u202Eright-to-left",
		"<script>alert('xss')</script>",
		"'; DROP TABLE messages--",
		"🚀 rocket",
		"\\\"escaped\\\"",
		strings.Repeat("A", 64*1024),
	}
}
