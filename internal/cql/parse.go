package cql

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrSyntax is wrapped by every error returned from Parse.
var ErrSyntax = errors.New("cql syntax error")

// Statement is one parsed CQL statement.
type Statement interface {
	statement()
}

// Name is a possibly keyspace-qualified table or keyspace name.
type Name struct {
	Keyspace string
	Table    string
}

// String renders the name as keyspace.table.
func (n Name) String() string {
	if n.Keyspace == "" {
		return n.Table
	}
	return n.Keyspace + "." + n.Table
}

// Column is a column definition in CREATE TABLE.
type Column struct {
	Name string
	Type string
}

// CreateKeyspaceStmt is CREATE KEYSPACE. Replication options are ignored.
type CreateKeyspaceStmt struct {
	Keyspace    string
	IfNotExists bool
}

// CreateTableStmt is CREATE TABLE with a single-column primary key.
type CreateTableStmt struct {
	Name        Name
	Columns     []Column
	PrimaryKey  string
	IfNotExists bool
}

// InsertStmt is INSERT INTO ... VALUES. Values are string, int64 or nil.
type InsertStmt struct {
	Name    Name
	Columns []string
	Values  []any
}

// SelectStmt is SELECT * with an optional LIMIT. Limit is 0 when absent.
type SelectStmt struct {
	Name           Name
	Limit          int
	AllowFiltering bool
}

// DeleteStmt is DELETE FROM ... WHERE column = value.
type DeleteStmt struct {
	Name   Name
	Column string
	Value  any
}

// BatchStmt is BEGIN BATCH ... APPLY BATCH.
type BatchStmt struct {
	Statements []Statement
}

func (CreateKeyspaceStmt) statement() {}
func (CreateTableStmt) statement()    {}
func (InsertStmt) statement()         {}
func (SelectStmt) statement()         {}
func (DeleteStmt) statement()         {}
func (BatchStmt) statement()          {}

// Parse parses a single statement (a batch counts as one).
func Parse(src string) (Statement, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	stmt, err := p.statement(true)
	if err != nil {
		return nil, err
	}
	p.accept(tokPunct, ";")
	if !p.done() {
		return nil, p.errorf("unexpected %q after statement", p.peek().text)
	}
	return stmt, nil
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokNumber
	tokString
	tokPunct
)

type token struct {
	kind tokKind
	text string
	pos  int
}

func tokenize(src string) ([]token, error) {
	var toks []token
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case isIdentStart(c):
			j := i + 1
			for j < len(src) && isIdentPart(src[j]) {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: src[i:j], pos: i})
			i = j
		case isDigit(c) || (c == '-' && i+1 < len(src) && isDigit(src[i+1])):
			j := i + 1
			for j < len(src) && isDigit(src[j]) {
				j++
			}
			toks = append(toks, token{kind: tokNumber, text: src[i:j], pos: i})
			i = j
		case c == '\'':
			var b strings.Builder
			j := i + 1
			closed := false
			for j < len(src) {
				if src[j] == '\'' {
					if j+1 < len(src) && src[j+1] == '\'' {
						b.WriteByte('\'')
						j += 2
						continue
					}
					closed = true
					j++
					break
				}
				b.WriteByte(src[j])
				j++
			}
			if !closed {
				return nil, fmt.Errorf("%w: unterminated string at offset %d", ErrSyntax, i)
			}
			toks = append(toks, token{kind: tokString, text: b.String(), pos: i})
			i = j
		case strings.IndexByte("(),.=*;{}:", c) >= 0:
			toks = append(toks, token{kind: tokPunct, text: string(c), pos: i})
			i++
		default:
			return nil, fmt.Errorf("%w: unexpected character %q at offset %d", ErrSyntax, c, i)
		}
	}
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) done() bool {
	return p.pos >= len(p.toks)
}

func (p *parser) peek() token {
	if p.done() {
		return token{kind: tokPunct, text: "<eof>", pos: -1}
	}
	return p.toks[p.pos]
}

func (p *parser) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSyntax, fmt.Sprintf(format, args...))
}

// accept consumes the next token when it matches. Identifiers compare
// case-insensitively so keywords may be written in any case.
func (p *parser) accept(kind tokKind, text string) bool {
	t := p.peek()
	if p.done() || t.kind != kind {
		return false
	}
	if kind == tokIdent && !strings.EqualFold(t.text, text) {
		return false
	}
	if kind != tokIdent && t.text != text {
		return false
	}
	p.pos++
	return true
}

func (p *parser) keyword(words ...string) error {
	for _, w := range words {
		if !p.accept(tokIdent, w) {
			return p.errorf("expected %s, got %q", w, p.peek().text)
		}
	}
	return nil
}

func (p *parser) punct(s string) error {
	if !p.accept(tokPunct, s) {
		return p.errorf("expected %q, got %q", s, p.peek().text)
	}
	return nil
}

func (p *parser) ident() (string, error) {
	t := p.peek()
	if p.done() || t.kind != tokIdent {
		return "", p.errorf("expected identifier, got %q", t.text)
	}
	p.pos++
	return strings.ToLower(t.text), nil
}

func (p *parser) name() (Name, error) {
	first, err := p.ident()
	if err != nil {
		return Name{}, err
	}
	if !p.accept(tokPunct, ".") {
		return Name{Table: first}, nil
	}
	second, err := p.ident()
	if err != nil {
		return Name{}, err
	}
	return Name{Keyspace: first, Table: second}, nil
}

func (p *parser) value() (any, error) {
	t := p.peek()
	switch {
	case p.done():
		return nil, p.errorf("expected value, got end of statement")
	case t.kind == tokString:
		p.pos++
		return t.text, nil
	case t.kind == tokNumber:
		p.pos++
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, p.errorf("bad number %q", t.text)
		}
		return n, nil
	case t.kind == tokIdent && strings.EqualFold(t.text, "null"):
		p.pos++
		return nil, nil
	}
	return nil, p.errorf("expected value, got %q", t.text)
}

func (p *parser) ifNotExists() (bool, error) {
	if !p.accept(tokIdent, "if") {
		return false, nil
	}
	return true, p.keyword("not", "exists")
}

func (p *parser) statement(allowBatch bool) (Statement, error) {
	switch t := p.peek(); {
	case p.accept(tokIdent, "create"):
		if p.accept(tokIdent, "keyspace") {
			return p.createKeyspace()
		}
		if p.accept(tokIdent, "table") {
			return p.createTable()
		}
		return nil, p.errorf("unsupported CREATE %q", p.peek().text)
	case p.accept(tokIdent, "insert"):
		return p.insert()
	case p.accept(tokIdent, "select"):
		return p.selectAll()
	case p.accept(tokIdent, "delete"):
		return p.delete()
	case allowBatch && p.accept(tokIdent, "begin"):
		return p.batch()
	default:
		return nil, p.errorf("unsupported statement %q", t.text)
	}
}

func (p *parser) createKeyspace() (Statement, error) {
	ine, err := p.ifNotExists()
	if err != nil {
		return nil, err
	}
	ks, err := p.ident()
	if err != nil {
		return nil, err
	}
	// WITH clause options are accepted and discarded.
	if p.accept(tokIdent, "with") {
		depth := 0
		for !p.done() {
			t := p.peek()
			if t.kind == tokPunct && t.text == ";" && depth == 0 {
				break
			}
			if t.kind == tokPunct && t.text == "{" {
				depth++
			}
			if t.kind == tokPunct && t.text == "}" {
				depth--
			}
			p.pos++
		}
		if depth != 0 {
			return nil, p.errorf("unbalanced braces in WITH clause")
		}
	}
	return CreateKeyspaceStmt{Keyspace: ks, IfNotExists: ine}, nil
}

func (p *parser) createTable() (Statement, error) {
	ine, err := p.ifNotExists()
	if err != nil {
		return nil, err
	}
	name, err := p.name()
	if err != nil {
		return nil, err
	}
	if err := p.punct("("); err != nil {
		return nil, err
	}
	stmt := CreateTableStmt{Name: name, IfNotExists: ine}
	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		typ, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, Column{Name: col, Type: typ})
		if p.accept(tokIdent, "primary") {
			if err := p.keyword("key"); err != nil {
				return nil, err
			}
			if stmt.PrimaryKey != "" {
				return nil, p.errorf("multiple primary keys")
			}
			stmt.PrimaryKey = col
		}
		if p.accept(tokPunct, ",") {
			continue
		}
		if err := p.punct(")"); err != nil {
			return nil, err
		}
		break
	}
	if stmt.PrimaryKey == "" {
		return nil, p.errorf("table %s has no primary key", name)
	}
	return stmt, nil
}

func (p *parser) insert() (Statement, error) {
	if err := p.keyword("into"); err != nil {
		return nil, err
	}
	name, err := p.name()
	if err != nil {
		return nil, err
	}
	if err := p.punct("("); err != nil {
		return nil, err
	}
	stmt := InsertStmt{Name: name}
	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)
		if !p.accept(tokPunct, ",") {
			break
		}
	}
	if err := p.punct(")"); err != nil {
		return nil, err
	}
	if err := p.keyword("values"); err != nil {
		return nil, err
	}
	if err := p.punct("("); err != nil {
		return nil, err
	}
	for {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		stmt.Values = append(stmt.Values, v)
		if !p.accept(tokPunct, ",") {
			break
		}
	}
	if err := p.punct(")"); err != nil {
		return nil, err
	}
	if len(stmt.Columns) != len(stmt.Values) {
		return nil, p.errorf("%d columns but %d values", len(stmt.Columns), len(stmt.Values))
	}
	return stmt, nil
}

func (p *parser) selectAll() (Statement, error) {
	if err := p.punct("*"); err != nil {
		return nil, err
	}
	if err := p.keyword("from"); err != nil {
		return nil, err
	}
	name, err := p.name()
	if err != nil {
		return nil, err
	}
	stmt := SelectStmt{Name: name}
	if p.accept(tokIdent, "limit") {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		n, ok := v.(int64)
		if !ok || n <= 0 {
			return nil, p.errorf("LIMIT must be a positive integer")
		}
		stmt.Limit = int(n)
	}
	if p.accept(tokIdent, "allow") {
		if err := p.keyword("filtering"); err != nil {
			return nil, err
		}
		stmt.AllowFiltering = true
	}
	return stmt, nil
}

func (p *parser) delete() (Statement, error) {
	if err := p.keyword("from"); err != nil {
		return nil, err
	}
	name, err := p.name()
	if err != nil {
		return nil, err
	}
	if err := p.keyword("where"); err != nil {
		return nil, err
	}
	col, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.punct("="); err != nil {
		return nil, err
	}
	v, err := p.value()
	if err != nil {
		return nil, err
	}
	return DeleteStmt{Name: name, Column: col, Value: v}, nil
}

func (p *parser) batch() (Statement, error) {
	// UNLOGGED and LOGGED are accepted; every batch is applied atomically.
	if !p.accept(tokIdent, "unlogged") {
		p.accept(tokIdent, "logged")
	}
	if err := p.keyword("batch"); err != nil {
		return nil, err
	}
	var stmt BatchStmt
	for {
		if p.accept(tokIdent, "apply") {
			if err := p.keyword("batch"); err != nil {
				return nil, err
			}
			return stmt, nil
		}
		if p.done() {
			return nil, p.errorf("batch is missing APPLY BATCH")
		}
		inner, err := p.statement(false)
		if err != nil {
			return nil, err
		}
		switch inner.(type) {
		case InsertStmt, DeleteStmt:
		default:
			return nil, p.errorf("only INSERT and DELETE are allowed in a batch")
		}
		stmt.Statements = append(stmt.Statements, inner)
		p.accept(tokPunct, ";")
	}
}
