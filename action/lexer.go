package action

import "fmt"

// TokenType represents the type of token
type TokenType int

const (
	ILLEGAL TokenType = iota
	EOF

	IDENT
	STRING
	NUMBER

	LPAREN   // (
	RPAREN   // )
	LBRACKET // [
	RBRACKET // ]
	LBRACE   // {
	RBRACE   // }
	COMMA    // ,
	EQUALS   // =
	COLON    // :
)

func (t TokenType) String() string {
	switch t {
	case EOF:
		return "end of input"
	case IDENT:
		return "identifier"
	case STRING:
		return "string"
	case NUMBER:
		return "number"
	case LPAREN:
		return "'('"
	case RPAREN:
		return "')'"
	case LBRACKET:
		return "'['"
	case RBRACKET:
		return "']'"
	case LBRACE:
		return "'{'"
	case RBRACE:
		return "'}'"
	case COMMA:
		return "','"
	case EQUALS:
		return "'='"
	case COLON:
		return "':'"
	}
	return "illegal token"
}

// Token represents a token
type Token struct {
	Type    TokenType
	Literal string
	Line    int
	Column  int
}

// Lexer splits the call form of actions into tokens
type Lexer struct {
	input        string
	position     int  // current position in input (points to current char)
	readPosition int  // current reading position in input (after current char)
	ch           byte // current char under examination
	line         int
	column       int
}

// NewLexer creates a new lexer instance
func NewLexer(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

func (l *Lexer) readChar() {
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++

	if l.ch == '\n' {
		l.line++
		l.column = 0
	} else {
		l.column++
	}
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

// NextToken scans the input and returns the next token
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	tok := Token{Line: l.line, Column: l.column}
	single := map[byte]TokenType{
		'(': LPAREN, ')': RPAREN, '[': LBRACKET, ']': RBRACKET,
		'{': LBRACE, '}': RBRACE, ',': COMMA, '=': EQUALS, ':': COLON,
	}
	if t, ok := single[l.ch]; ok {
		tok.Type, tok.Literal = t, string(l.ch)
		l.readChar()
		return tok
	}

	switch {
	case l.ch == 0:
		tok.Type = EOF
	case l.ch == '\'' || l.ch == '"':
		lit, err := l.readString(l.ch)
		if err != nil {
			tok.Type, tok.Literal = ILLEGAL, err.Error()
			return tok
		}
		tok.Type, tok.Literal = STRING, lit
	case isLetter(l.ch):
		tok.Type, tok.Literal = IDENT, l.readIdentifier()
	case isDigit(l.ch) || ((l.ch == '-' || l.ch == '+') && isDigit(l.peekChar())):
		tok.Type, tok.Literal = NUMBER, l.readNumber()
	default:
		tok.Type, tok.Literal = ILLEGAL, string(l.ch)
		l.readChar()
	}
	return tok
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '#':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		default:
			return
		}
	}
}

func (l *Lexer) readIdentifier() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[position:l.position]
}

func (l *Lexer) readNumber() string {
	position := l.position
	if l.ch == '-' || l.ch == '+' {
		l.readChar()
	}
	for isDigit(l.ch) || l.ch == '.' || l.ch == 'e' || l.ch == 'E' ||
		((l.ch == '-' || l.ch == '+') && (l.input[l.position-1] == 'e' || l.input[l.position-1] == 'E')) {
		l.readChar()
	}
	return l.input[position:l.position]
}

// readString reads a quoted string, resolving backslash escapes
func (l *Lexer) readString(quote byte) (string, error) {
	var out []byte
	for {
		l.readChar()
		switch l.ch {
		case 0:
			return "", fmt.Errorf("unterminated string at line %d", l.line)
		case quote:
			l.readChar()
			return string(out), nil
		case '\\':
			l.readChar()
			switch l.ch {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case 0:
				return "", fmt.Errorf("unterminated string at line %d", l.line)
			default:
				out = append(out, l.ch)
			}
		default:
			out = append(out, l.ch)
		}
	}
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z' || ch == '_' || ch == '~'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}
