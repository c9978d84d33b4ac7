package sqltables

import (
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

// Kind classifies a scanned token.
type Kind int

const (
	KindInvalid Kind = iota
	// KindWord is a bare identifier or keyword.
	KindWord
	// KindQuoted is a quoted identifier ("x", `x` or [x]); never a keyword.
	KindQuoted
	KindString
	KindNumber
	// KindParam is a bind parameter: $1, ?, :name or @name.
	KindParam
	KindPunct
	KindOperator
)

// Token is a unit emitted by Scan.
type Token struct {
	Kind Kind
	Text string
}

// Upper returns the keyword form of a word token, or "" for any other kind.
func (t Token) Upper() string {
	if t.Kind != KindWord {
		return ""
	}
	return strings.ToUpper(t.Text)
}

// Is reports whether t is the keyword kw (uppercase).
func (t Token) Is(kw string) bool {
	return t.Kind == KindWord && strings.EqualFold(t.Text, kw)
}

// IsPunct reports whether t is the punctuation p.
func (t Token) IsPunct(p string) bool {
	return t.Kind == KindPunct && t.Text == p
}

//nolint:govet // Participle DSL uses unkeyed fields
var sqlLexer = lexer.MustSimple([]lexer.SimpleRule{
	{"Whitespace", `\s+`},
	{"LineComment", `--[^\n]*`},
	{"BlockComment", `/\*[\s\S]*?\*/`},
	{"DollarString", `\$\$[\s\S]*?\$\$`},
	{"EscapeString", `[eE]'(?:[^'\\]|\\[\s\S]|'')*'`},
	{"PrefixString", `[nNxXbB]'(?:[^']|'')*'`},
	{"String", `'(?:[^']|'')*'`},
	{"Quoted", "\"(?:[^\"]|\"\")*\"|`(?:[^`]|``)*`|\\[[^\\]\\[]*\\]"},
	{"Cast", `::`},
	{"Param", `\$[0-9]+|\?|:[\p{L}_][\p{L}\p{N}_]*|@[\p{L}_][\p{L}\p{N}_]*`},
	{"Number", `[0-9]+(?:\.[0-9]*)?(?:[eE][-+]?[0-9]+)?|\.[0-9]+`},
	{"Word", `[\p{L}_][\p{L}\p{N}_$]*`},
	{"Punct", `[(),;.\[\]{}]`},
	{"Operator", `[-+*/%<>=!|&^~#@?:]+`},
})

var kindBySymbol = func() map[lexer.TokenType]Kind {
	symbols := sqlLexer.Symbols()
	out := map[lexer.TokenType]Kind{
		symbols["DollarString"]: KindString,
		symbols["EscapeString"]: KindString,
		symbols["PrefixString"]: KindString,
		symbols["String"]:       KindString,
		symbols["Quoted"]:       KindQuoted,
		symbols["Cast"]:         KindOperator,
		symbols["Param"]:        KindParam,
		symbols["Number"]:       KindNumber,
		symbols["Word"]:         KindWord,
		symbols["Punct"]:        KindPunct,
		symbols["Operator"]:     KindOperator,
	}
	return out
}()

// Scan tokenizes sql, dropping whitespace and comments. Any input the lexer
// cannot match (unterminated strings, comments or quoted identifiers, tagged
// dollar quotes) is an error.
func Scan(sql string) ([]Token, error) {
	lex, err := sqlLexer.Lex("", strings.NewReader(sql))
	if err != nil {
		return nil, err
	}
	raw, err := lexer.ConsumeAll(lex)
	if err != nil {
		return nil, err
	}

	tokens := make([]Token, 0, len(raw))
	for _, tok := range raw {
		if tok.EOF() {
			break
		}
		kind, ok := kindBySymbol[tok.Type]
		if !ok {
			continue
		}
		tokens = append(tokens, Token{Kind: kind, Text: tok.Value})
	}
	return tokens, nil
}

// NormalizeIdentifier strips identifier quoting, unescapes doubled quotes and
// lowercases the result.
func NormalizeIdentifier(text string) string {
	if len(text) >= 2 {
		switch text[0] {
		case '"':
			if text[len(text)-1] == '"' {
				text = strings.ReplaceAll(text[1:len(text)-1], `""`, `"`)
			}
		case '`':
			if text[len(text)-1] == '`' {
				text = strings.ReplaceAll(text[1:len(text)-1], "``", "`")
			}
		case '[':
			if text[len(text)-1] == ']' {
				text = text[1 : len(text)-1]
			}
		}
	}
	return strings.ToLower(text)
}
