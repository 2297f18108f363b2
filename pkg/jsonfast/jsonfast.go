// Package jsonfast builds flat JSON objects with a fixed field set, such as
// the disposition events published over MQTT, by appending into one buffer.
package jsonfast

import (
	"strconv"
	"time"
)

const defaultCapacity = 256

// Builder appends one flat JSON object. Fields may be added before
// BeginObject; the opening brace is then written implicitly.
type Builder struct {
	buf    []byte
	opened bool
	fields int
}

// New creates a builder with the given initial capacity.
func New(capacity int) *Builder {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Builder{buf: make([]byte, 0, capacity)}
}

// Bytes returns the built document. The slice aliases the builder's buffer.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// BeginObject writes the opening brace.
func (b *Builder) BeginObject() {
	b.buf = append(b.buf, '{')
	b.opened = true
	b.fields = 0
}

// EndObject writes the closing brace.
func (b *Builder) EndObject() {
	if !b.opened {
		b.BeginObject()
	}
	b.buf = append(b.buf, '}')
	b.opened = false
}

// AddStringField adds "name":"value", escaping value.
func (b *Builder) AddStringField(name, value string) {
	b.key(name)
	b.quote(value)
}

// AddOptionalStringField adds a string field only when value is non-empty.
func (b *Builder) AddOptionalStringField(name, value string) {
	if value != "" {
		b.AddStringField(name, value)
	}
}

// AddRawJSONField adds "name":<raw>. raw must already be valid JSON.
func (b *Builder) AddRawJSONField(name string, raw []byte) {
	b.key(name)
	b.buf = append(b.buf, raw...)
}

// AddIntField adds "name":v.
func (b *Builder) AddIntField(name string, v int) {
	b.key(name)
	b.buf = strconv.AppendInt(b.buf, int64(v), 10)
}

// AddBoolField adds "name":true or "name":false.
func (b *Builder) AddBoolField(name string, v bool) {
	b.key(name)
	b.buf = strconv.AppendBool(b.buf, v)
}

// AddTimeRFC3339Field adds the time in UTC, RFC 3339 with second precision.
func (b *Builder) AddTimeRFC3339Field(name string, t time.Time) {
	b.key(name)
	b.buf = append(b.buf, '"')
	b.buf = t.UTC().AppendFormat(b.buf, time.RFC3339)
	b.buf = append(b.buf, '"')
}

func (b *Builder) key(name string) {
	if !b.opened {
		b.BeginObject()
	}
	if b.fields > 0 {
		b.buf = append(b.buf, ',')
	}
	b.fields++
	b.quote(name)
	b.buf = append(b.buf, ':')
}

// quote writes s as a JSON string. Bytes >= 0x20 other than quote and
// backslash pass through, so valid UTF-8 stays valid.
func (b *Builder) quote(s string) {
	b.buf = append(b.buf, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.buf = append(b.buf, '\\', c)
		case c == '\n':
			b.buf = append(b.buf, '\\', 'n')
		case c == '\r':
			b.buf = append(b.buf, '\\', 'r')
		case c == '\t':
			b.buf = append(b.buf, '\\', 't')
		case c < 0x20:
			b.buf = append(b.buf, '\\', 'u', '0', '0', hexDigits[c>>4], hexDigits[c&0x0f])
		default:
			b.buf = append(b.buf, c)
		}
	}
	b.buf = append(b.buf, '"')
}

const hexDigits = "0123456789abcdef"
