package jedec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// recordLexer tokenizes a single JEDEC field record such as "QF343936*",
// "C8F3A*", "UH00000011*", "E0000...0000" or a bare FEAR line "0000010001100000*".
// Hex digits may collide with the C and E keys, so the value rule accepts
// both token kinds.
var recordLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Key", Pattern: `QF|UH|C|E`},
	{Name: "Digits", Pattern: `[0-9A-Fa-f]+`},
	{Name: "Star", Pattern: `\*`},
	{Name: "Whitespace", Pattern: `[ \t]+`},
})

type fieldRecord struct {
	Key   string `parser:"@Key?"`
	Value string `parser:"@( Key | Digits )*"`
	End   bool   `parser:"@Star?"`
}

var recordParser = participle.MustBuild[fieldRecord](
	participle.Lexer(recordLexer),
	participle.Elide("Whitespace"),
)

// parseRecord decodes everything up to and including the first '*'.
func parseRecord(line string) (*fieldRecord, error) {
	if i := strings.IndexByte(line, '*'); i >= 0 {
		line = line[:i+1]
	}
	rec, err := recordParser.ParseString("", line)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (r *fieldRecord) uint(base, bitSize int) (uint64, error) {
	if r.Value == "" {
		return 0, fmt.Errorf("jedec: %s record has no value", r.Key)
	}
	v, err := strconv.ParseUint(r.Value, base, bitSize)
	if err != nil {
		return 0, fmt.Errorf("jedec: %s record: %w", r.Key, err)
	}
	return v, nil
}

// fuseCount decodes "QF<decimal>*".
func fuseCount(line string) (uint64, error) {
	rec, err := parseRecord(line)
	if err != nil {
		return 0, err
	}
	return rec.uint(10, 64)
}

// declaredChecksum decodes "C<hex>*".
func declaredChecksum(line string) (uint16, error) {
	rec, err := parseRecord(line)
	if err != nil {
		return 0, err
	}
	v, err := rec.uint(16, 16)
	return uint16(v), err
}

// usercode decodes "UH<hex>*".
func usercode(line string) (uint32, error) {
	rec, err := parseRecord(line)
	if err != nil {
		return 0, err
	}
	v, err := rec.uint(16, 32)
	return uint32(v), err
}

// binaryField decodes the feature row line ("E<bits>"). Bits beyond 64 do
// not fit and are rejected.
func binaryField(line string) (uint64, string, error) {
	rec, err := parseRecord(line)
	if err != nil {
		return 0, "", err
	}
	v, err := rec.uint(2, 64)
	return v, rec.Value, err
}

// fearField decodes a FEAR line ("<bits>*"). The two leading bits are
// reserved and do not count towards the value; the bit string is returned
// whole.
func fearField(line string) (uint64, string, error) {
	rec, err := parseRecord(line)
	if err != nil {
		return 0, "", err
	}
	if len(rec.Value) <= fearReserved {
		return 0, rec.Value, fmt.Errorf("jedec: FEAR record %q too short", rec.Value)
	}
	v, err := strconv.ParseUint(rec.Value[fearReserved:], 2, 64)
	if err != nil {
		return 0, rec.Value, fmt.Errorf("jedec: FEAR record: %w", err)
	}
	return v, rec.Value, nil
}

const fearReserved = 2
