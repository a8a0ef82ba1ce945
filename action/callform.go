package action

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rediwo/redi-migrate/types"
)

// ParamDummy marks a schema-only action in the call form.
const ParamDummy = "dummy_action"

// Format renders an action in its call form, e.g.
// CreateField('Book', 'year', db_field='year', type_key='Integer').
func Format(a Action) string {
	s := a.Spec()
	parts := make([]string, 0, len(s.Args)+len(s.Params)+1)
	for _, arg := range s.Args {
		parts = append(parts, formatValue(arg))
	}
	for _, k := range sortedKeys(s.Params) {
		parts = append(parts, k+"="+formatValue(s.Params[k]))
	}
	if s.Dummy {
		parts = append(parts, ParamDummy+"=true")
	}
	return string(s.Kind) + "(" + strings.Join(parts, ", ") + ")"
}

// FormatChain renders a chain, one action per line.
func FormatChain(chain []Action) string {
	var b strings.Builder
	for _, a := range chain {
		b.WriteString(Format(a))
		b.WriteByte('\n')
	}
	return b.String()
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		r := strings.NewReplacer(`\`, `\\`, `'`, `\'`, "\n", `\n`, "\t", `\t`)
		return "'" + r.Replace(val) + "'"
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		s := strconv.FormatFloat(val, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEn") && !math.IsInf(val, 0) {
			s += ".0"
		}
		return s
	case []any:
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = formatValue(item)
		}
		return "[" + strings.Join(items, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]string, len(keys))
		for i, k := range keys {
			items[i] = formatValue(k) + ": " + formatValue(val[k])
		}
		return "{" + strings.Join(items, ", ") + "}"
	}
	return formatValue(fmt.Sprint(v))
}

// Parser reads actions in call form.
type Parser struct {
	l    *Lexer
	cur  Token
	peek Token
}

// NewParser creates a parser over src.
func NewParser(src string) *Parser {
	p := &Parser{l: NewLexer(src)}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
}

func (p *Parser) errorf(format string, args ...any) error {
	return types.SchemaErrorf("line %d, column %d: %s", p.cur.Line, p.cur.Column, fmt.Sprintf(format, args...))
}

func (p *Parser) expect(t TokenType) error {
	if p.cur.Type != t {
		if p.cur.Type == ILLEGAL {
			return p.errorf("%s", p.cur.Literal)
		}
		return p.errorf("expected %s, found %s", t, p.cur.Type)
	}
	p.next()
	return nil
}

// Parse reads a single action.
func Parse(src string) (Action, error) {
	p := NewParser(src)
	a, err := p.ParseAction()
	if err != nil {
		return nil, err
	}
	if p.cur.Type != EOF {
		return nil, p.errorf("unexpected %s after action", p.cur.Type)
	}
	return a, nil
}

// ParseChain reads a sequence of actions, optionally wrapped in brackets
// and separated by commas or newlines.
func ParseChain(src string) ([]Action, error) {
	p := NewParser(src)
	bracketed := p.cur.Type == LBRACKET
	if bracketed {
		p.next()
	}
	var chain []Action
	for p.cur.Type == IDENT {
		a, err := p.ParseAction()
		if err != nil {
			return nil, err
		}
		chain = append(chain, a)
		if p.cur.Type == COMMA {
			p.next()
		}
	}
	if bracketed {
		if err := p.expect(RBRACKET); err != nil {
			return nil, err
		}
	}
	if p.cur.Type != EOF {
		return nil, p.errorf("unexpected %s", p.cur.Type)
	}
	return chain, nil
}

// ParseAction reads Kind(arg, ..., name=value, ...).
func (p *Parser) ParseAction() (Action, error) {
	if p.cur.Type != IDENT {
		return nil, p.errorf("expected action kind, found %s", p.cur.Type)
	}
	spec := Spec{Kind: Kind(p.cur.Literal), Params: map[string]any{}}
	p.next()
	if err := p.expect(LPAREN); err != nil {
		return nil, err
	}

	for p.cur.Type != RPAREN {
		if p.cur.Type == IDENT && p.peek.Type == EQUALS {
			name := p.cur.Literal
			p.next()
			p.next()
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			if _, dup := spec.Params[name]; dup {
				return nil, p.errorf("duplicate parameter %s", name)
			}
			spec.Params[name] = v
		} else {
			if len(spec.Params) > 0 {
				return nil, p.errorf("positional argument after named parameter")
			}
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			spec.Args = append(spec.Args, v)
		}
		if p.cur.Type != COMMA {
			break
		}
		p.next()
	}
	if err := p.expect(RPAREN); err != nil {
		return nil, err
	}

	if d, ok := spec.Params[ParamDummy]; ok {
		b, isBool := d.(bool)
		if !isBool {
			return nil, types.SchemaErrorf("%s: %s must be a boolean", spec.Kind, ParamDummy)
		}
		spec.Dummy = b
		delete(spec.Params, ParamDummy)
	}
	return Decode(spec)
}

func (p *Parser) parseValue() (any, error) {
	tok := p.cur
	switch tok.Type {
	case STRING:
		p.next()
		return tok.Literal, nil
	case NUMBER:
		p.next()
		if i, err := strconv.ParseInt(tok.Literal, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", tok.Literal)
		}
		return f, nil
	case IDENT:
		p.next()
		switch tok.Literal {
		case "true", "True":
			return true, nil
		case "false", "False":
			return false, nil
		case "null", "None":
			return nil, nil
		}
		return nil, types.SchemaErrorf("line %d, column %d: unexpected identifier %s", tok.Line, tok.Column, tok.Literal)
	case LBRACKET:
		p.next()
		items := []any{}
		for p.cur.Type != RBRACKET {
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			items = append(items, v)
			if p.cur.Type != COMMA {
				break
			}
			p.next()
		}
		return items, p.expect(RBRACKET)
	case LBRACE:
		p.next()
		m := map[string]any{}
		for p.cur.Type != RBRACE {
			if p.cur.Type != STRING && p.cur.Type != IDENT {
				return nil, p.errorf("expected mapping key, found %s", p.cur.Type)
			}
			key := p.cur.Literal
			p.next()
			if err := p.expect(COLON); err != nil {
				return nil, err
			}
			v, err := p.parseValue()
			if err != nil {
				return nil, err
			}
			m[key] = v
			if p.cur.Type != COMMA {
				break
			}
			p.next()
		}
		return m, p.expect(RBRACE)
	case ILLEGAL:
		return nil, p.errorf("%s", tok.Literal)
	}
	return nil, p.errorf("unexpected %s", tok.Type)
}
