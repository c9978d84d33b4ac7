package sqltables

import "strings"

// reserved lists words that can never be a table name or an alias in the
// positions the scanner inspects.
var reserved = map[string]struct{}{
	"ALL": {}, "AND": {}, "AS": {}, "BY": {}, "CROSS": {}, "DEFAULT": {}, "ELSE": {},
	"END": {}, "EXCEPT": {}, "FETCH": {}, "FOR": {}, "FORCE": {}, "FROM": {}, "FULL": {},
	"GROUP": {}, "HAVING": {}, "IGNORE": {}, "INNER": {}, "INTERSECT": {}, "INTO": {},
	"JOIN": {}, "LATERAL": {}, "LEFT": {}, "LIMIT": {}, "NATURAL": {}, "NOT": {},
	"OFFSET": {}, "ON": {}, "ONLY": {}, "OR": {}, "ORDER": {}, "OUTER": {}, "PARTITION": {},
	"RETURNING": {}, "RIGHT": {}, "SELECT": {}, "SET": {}, "STRAIGHT_JOIN": {},
	"TABLESAMPLE": {}, "THEN": {}, "UNION": {}, "USE": {}, "USING": {}, "VALUES": {},
	"WHEN": {}, "WHERE": {}, "WINDOW": {}, "WITH": {},
}

var joinWords = map[string]struct{}{
	"JOIN":          {},
	"STRAIGHT_JOIN": {},
}

type statement struct {
	toks      []Token
	ctes      map[string]struct{}
	reads     map[string]struct{}
	writes    map[string]struct{}
	allReads  bool
	allWrites bool
	reason    string
}

func newStatement(toks []Token) *statement {
	return &statement{
		toks:   toks,
		ctes:   map[string]struct{}{},
		reads:  map[string]struct{}{},
		writes: map[string]struct{}{},
	}
}

func (s *statement) fail(reason string) {
	s.allReads = true
	s.allWrites = true
	if s.reason == "" {
		s.reason = reason
	}
}

func (s *statement) failReads(reason string) {
	s.allReads = true
	if s.reason == "" {
		s.reason = reason
	}
}

func (s *statement) failWrites(reason string) {
	s.allWrites = true
	if s.reason == "" {
		s.reason = reason
	}
}

func (s *statement) at(i int) Token {
	if i < 0 || i >= len(s.toks) {
		return Token{}
	}
	return s.toks[i]
}

// classify inspects the whole statement and fills the read and write sets.
func (s *statement) classify() StatementKind {
	pos, cteKind, ok := s.parseWith(0)
	if !ok {
		return StatementUnknown
	}

	kind := s.parseBody(pos)
	if kind == StatementSelect && cteKind != StatementUnknown {
		// WITH d AS (DELETE ... RETURNING *) SELECT ... FROM d
		kind = cteKind
	}
	return kind
}

// parseBody classifies the statement starting at pos, after any WITH clause.
func (s *statement) parseBody(pos int) StatementKind {
	head := s.at(pos)
	switch {
	case head.IsPunct("("), head.Is("SELECT"), head.Is("VALUES"):
		s.scanReads(pos, len(s.toks))
		return StatementSelect
	case head.Is("TABLE"):
		name, next, ok := s.parseName(pos + 1)
		if !ok {
			s.fail("TABLE without a relation")
			return StatementUnknown
		}
		s.addRead(name)
		s.scanReads(next, len(s.toks))
		return StatementSelect
	case head.Is("INSERT"), head.Is("REPLACE"):
		return s.parseInsert(pos)
	case head.Is("UPDATE"):
		return s.parseUpdate(pos)
	case head.Is("DELETE"):
		return s.parseDelete(pos)
	case head.Is("TRUNCATE"):
		return s.parseTruncate(pos)
	case head.Is("MERGE"):
		return s.parseMerge(pos)
	case head.Is("BEGIN"), head.Is("START"):
		return StatementBegin
	case head.Is("SAVEPOINT"), head.Is("RELEASE"):
		return StatementSavepoint
	case head.Is("COMMIT"), head.Is("END"):
		return StatementCommit
	case head.Is("ROLLBACK"), head.Is("ABORT"):
		if s.at(pos+1).Is("TO") || s.at(pos+2).Is("TO") {
			return StatementSavepoint
		}
		return StatementRollback
	}
	s.fail("unsupported statement " + strings.ToUpper(head.Text))
	return StatementUnknown
}

// parseWith consumes a leading WITH clause and returns the position of the
// main statement and the kind of the first data-modifying CTE body.
func (s *statement) parseWith(pos int) (int, StatementKind, bool) {
	if !s.at(pos).Is("WITH") {
		return pos, StatementUnknown, true
	}
	pos++
	recursive := s.at(pos).Is("RECURSIVE")
	if recursive {
		pos++
	}

	dml := StatementUnknown
	for {
		nameTok := s.at(pos)
		if nameTok.Kind != KindWord && nameTok.Kind != KindQuoted {
			s.fail("malformed WITH clause")
			return 0, StatementUnknown, false
		}
		name := NormalizeIdentifier(nameTok.Text)
		if recursive {
			s.ctes[name] = struct{}{}
		}
		pos++

		if s.at(pos).IsPunct("(") {
			pos = s.skipParens(pos)
		}
		if !s.at(pos).Is("AS") {
			s.fail("malformed WITH clause")
			return 0, StatementUnknown, false
		}
		pos++
		if s.at(pos).Is("NOT") {
			pos++
		}
		if s.at(pos).Is("MATERIALIZED") {
			pos++
		}
		if !s.at(pos).IsPunct("(") {
			s.fail("malformed WITH clause")
			return 0, StatementUnknown, false
		}
		end := s.skipParens(pos)

		// Without RECURSIVE a body only sees the CTEs declared before it, so
		// WITH users AS (SELECT * FROM users) reads the real users table.
		body := newStatement(s.toks[pos+1 : end-1])
		for cte := range s.ctes {
			body.ctes[cte] = struct{}{}
		}
		kind := body.classify()
		s.absorb(body)
		s.ctes[name] = struct{}{}
		switch kind {
		case StatementInsert, StatementUpdate, StatementDelete, StatementMerge:
			if dml == StatementUnknown {
				dml = kind
			}
		case StatementSelect:
		default:
			s.fail("unsupported WITH body")
			return 0, StatementUnknown, false
		}

		pos = end
		if !s.at(pos).IsPunct(",") {
			break
		}
		pos++
	}
	return pos, dml, true
}

func (s *statement) absorb(other *statement) {
	for name := range other.reads {
		s.reads[name] = struct{}{}
	}
	for name := range other.writes {
		s.writes[name] = struct{}{}
	}
	if other.allReads {
		s.allReads = true
	}
	if other.allWrites {
		s.allWrites = true
	}
	if s.reason == "" {
		s.reason = other.reason
	}
}

func (s *statement) parseInsert(pos int) StatementKind {
	pos++
	for {
		tok := s.at(pos)
		switch {
		case tok.Is("OR"):
			pos += 2 // INSERT OR REPLACE / IGNORE / ...
		case tok.Is("IGNORE"), tok.Is("LOW_PRIORITY"), tok.Is("DELAYED"), tok.Is("HIGH_PRIORITY"), tok.Is("INTO"):
			pos++
		default:
			name, next, ok := s.parseName(pos)
			if !ok {
				s.fail("INSERT without a target")
				return StatementUnknown
			}
			s.addWrite(name)
			s.scanReads(next, len(s.toks))
			return StatementInsert
		}
	}
}

func (s *statement) parseUpdate(pos int) StatementKind {
	pos++
	for {
		tok := s.at(pos)
		if tok.Is("OR") {
			pos += 2
			continue
		}
		if tok.Is("ONLY") || tok.Is("LOW_PRIORITY") || tok.Is("IGNORE") {
			pos++
			continue
		}
		break
	}

	setAt := s.findTopLevel(pos, "SET")
	if setAt < 0 {
		s.fail("UPDATE without SET")
		return StatementUnknown
	}

	// Every relation between UPDATE and SET is a potential target: MySQL
	// allows UPDATE a JOIN b ... SET a.x = b.y and UPDATE a, b SET ...
	// The first one names a table even when a CTE shadows it.
	targets := s.collectRefs(pos, setAt)
	if name, _, ok := s.parseName(pos); ok {
		targets = append(targets, name)
	}
	if len(targets) == 0 {
		s.fail("UPDATE without a target")
		return StatementUnknown
	}
	for _, name := range targets {
		s.addWrite(name)
	}
	s.scanReads(setAt, len(s.toks))
	return StatementUpdate
}

func (s *statement) parseDelete(pos int) StatementKind {
	pos++
	for s.at(pos).Is("LOW_PRIORITY") || s.at(pos).Is("QUICK") || s.at(pos).Is("IGNORE") {
		pos++
	}

	if s.at(pos).Is("FROM") {
		pos++
		usingAt := s.findTopLevel(pos, "USING")
		end := usingAt
		if end < 0 {
			end = len(s.toks)
		}
		targets := s.parseRefList(pos, end)
		if name, _, ok := s.parseName(pos); ok {
			targets = append(targets, name)
		}
		if len(targets) == 0 {
			s.fail("DELETE without a target")
			return StatementUnknown
		}
		for _, name := range targets {
			s.addWrite(name)
		}
		if usingAt >= 0 {
			// MySQL's DELETE FROM a USING t AS a JOIN ... names aliases before
			// USING, so every relation after it is treated as written. For
			// PostgreSQL this over-invalidates the joined tables.
			for _, name := range s.parseFromClause(usingAt+1, len(s.toks)) {
				s.addWrite(name)
			}
		}
		s.scanReads(pos, len(s.toks))
		return StatementDelete
	}

	// DELETE t1, t2 FROM t1 JOIN t2 ...: the leading names may be aliases, so
	// every relation of the statement is treated as written.
	fromAt := s.findTopLevel(pos, "FROM")
	if fromAt < 0 {
		s.fail("DELETE without FROM")
		return StatementUnknown
	}
	for _, name := range s.parseRefList(pos, fromAt) {
		s.addWrite(name)
	}
	before := len(s.reads)
	s.scanReads(fromAt, len(s.toks))
	if len(s.reads) == before && len(s.writes) == 0 {
		s.fail("DELETE without a target")
		return StatementUnknown
	}
	for name := range s.reads {
		s.writes[name] = struct{}{}
	}
	return StatementDelete
}

func (s *statement) parseTruncate(pos int) StatementKind {
	pos++
	if s.at(pos).Is("TABLE") {
		pos++
	}
	targets := s.parseRefList(pos, len(s.toks))
	if len(targets) == 0 {
		s.fail("TRUNCATE without a target")
		return StatementUnknown
	}
	for _, name := range targets {
		s.addWrite(name)
	}
	for i := pos; i < len(s.toks); i++ {
		if s.toks[i].Is("CASCADE") {
			s.failWrites("TRUNCATE ... CASCADE reaches unnamed tables")
		}
	}
	return StatementTruncate
}

func (s *statement) parseMerge(pos int) StatementKind {
	pos++
	if s.at(pos).Is("INTO") {
		pos++
	}
	name, next, ok := s.parseName(pos)
	if !ok {
		s.fail("MERGE without a target")
		return StatementUnknown
	}
	s.addWrite(name)
	s.scanReads(next, len(s.toks))
	for i := next; i < len(s.toks); i++ {
		if s.toks[i].Is("USING") {
			if src, _, ok := s.parseName(i + 1); ok {
				s.addRead(src)
			}
			break
		}
	}
	return StatementMerge
}

// scanReads walks toks[from:to] and records every relation of every FROM
// clause and after every JOIN keyword, including those inside subqueries.
// A FROM inside a function call, as in EXTRACT(YEAR FROM ts), is skipped.
func (s *statement) scanReads(from, to int) {
	// query[d] reports whether the parenthesis group at depth d+1 is a query.
	var query []bool
	for i := from; i < to; i++ {
		tok := s.toks[i]
		switch {
		case tok.IsPunct("("):
			query = append(query, startsQuery(s.at(i+1)))
		case tok.IsPunct(")"):
			if len(query) > 0 {
				query = query[:len(query)-1]
			}
		case tok.Is("FROM"):
			if len(query) > 0 && !query[len(query)-1] {
				continue
			}
			if s.at(i - 1).Is("DISTINCT") {
				// a IS DISTINCT FROM b
				continue
			}
			s.parseFromClause(i+1, to)
		case isJoin(tok):
			if name, _, ok := s.parseRef(i + 1); ok && name != "" {
				s.addRead(name)
			}
		}
	}
}

// parseFromClause reads a FROM item list: comma separated table references,
// each followed by any number of joins with their ON or USING conditions.
// Every relation found is recorded as a read and returned. When the list
// ends on a token that cannot end a FROM clause, the statement falls back to
// depending on every table.
func (s *statement) parseFromClause(pos, end int) []string {
	var names []string
	first := true
	for pos < end {
		name, next, ok := s.parseRef(pos)
		if !ok {
			if first {
				return nil
			}
			s.failReads("unrecognized table reference in FROM clause")
			return names
		}
		first = false
		if name != "" {
			s.addRead(name)
			names = append(names, name)
		}
		pos = next

		for {
			j := s.joinAt(pos)
			if j < 0 {
				break
			}
			name, next, ok := s.parseRef(j)
			if !ok {
				s.failReads("unrecognized JOIN operand")
				return names
			}
			if name != "" {
				s.addRead(name)
				names = append(names, name)
			}
			pos = next
			switch {
			case s.at(pos).Is("ON"):
				pos = s.skipCondition(pos+1, end)
			case s.at(pos).Is("USING"):
				pos = s.skipParens(pos + 1)
			}
		}

		if pos < end && s.at(pos).IsPunct(",") {
			pos++
			continue
		}
		break
	}

	if pos < end && !endsFromClause(s.at(pos)) {
		s.failReads("unrecognized " + strings.ToUpper(s.at(pos).Text) + " in FROM clause")
	}
	return names
}

// joinAt returns the position after the join operator starting at pos, such
// as LEFT OUTER JOIN or NATURAL JOIN, or -1.
func (s *statement) joinAt(pos int) int {
	start := pos
	for {
		tok := s.at(pos)
		switch {
		case isJoin(tok):
			return pos + 1
		case tok.Is("NATURAL"), tok.Is("LEFT"), tok.Is("RIGHT"), tok.Is("FULL"),
			tok.Is("INNER"), tok.Is("OUTER"), tok.Is("CROSS"):
			pos++
		default:
			return -1
		}
		if pos-start > 3 {
			return -1
		}
	}
}

// skipCondition returns the position of the first token at or after pos, at
// the same parenthesis depth, that ends a join condition: a comma, another
// join, a clause keyword or the closing parenthesis of the enclosing group.
func (s *statement) skipCondition(pos, end int) int {
	depth := 0
	for i := pos; i < end; i++ {
		tok := s.toks[i]
		switch {
		case tok.IsPunct("("):
			depth++
		case tok.IsPunct(")"):
			if depth == 0 {
				return i
			}
			depth--
		case depth > 0:
		case tok.IsPunct(","), s.joinAt(i) >= 0:
			return i
		case endsFromClause(tok) && !tok.Is("ON"):
			return i
		}
	}
	return end
}

// parseRefList reads a comma separated list of table references starting at
// pos and stops at the first token that cannot continue the list or at end.
// Every relation found is also recorded as a read.
func (s *statement) parseRefList(pos, end int) []string {
	var names []string
	for pos < end {
		name, next, ok := s.parseRef(pos)
		if !ok {
			break
		}
		if name != "" {
			s.addRead(name)
			names = append(names, name)
		}
		pos = next
		if pos < end && s.at(pos).IsPunct(",") {
			pos++
			continue
		}
		break
	}
	return names
}

// collectRefs returns every relation in toks[from:to] that starts the range,
// follows a top-level comma or follows a JOIN keyword.
func (s *statement) collectRefs(from, to int) []string {
	var names []string
	names = append(names, s.parseRefList(from, to)...)
	depth := 0
	for i := from; i < to; i++ {
		tok := s.toks[i]
		switch {
		case tok.IsPunct("("):
			depth++
		case tok.IsPunct(")"):
			depth--
		case depth == 0 && isJoin(tok):
			if name, _, ok := s.parseRef(i + 1); ok && name != "" {
				s.addRead(name)
				names = append(names, name)
			}
		}
	}
	return names
}

// parseRef reads one table reference. It returns an empty name with ok set
// for references that are not relations (subqueries and function calls) so
// a list can continue past them.
func (s *statement) parseRef(pos int) (string, int, bool) {
	for s.at(pos).Is("LATERAL") || s.at(pos).Is("ONLY") {
		pos++
	}
	if s.at(pos).IsPunct("(") {
		end := s.skipParens(pos)
		if !startsQuery(s.at(pos + 1)) {
			// (a JOIN b ON ...) is a parenthesized join, not a subquery.
			// Subqueries are picked up by the linear scan.
			s.parseFromClause(pos+1, end-1)
		}
		return "", s.skipAlias(end), true
	}

	name, next, ok := s.parseName(pos)
	if !ok {
		return "", pos, false
	}
	if s.at(next).IsPunct("(") {
		// table function, e.g. generate_series(1, 10)
		next = s.skipParens(next)
		return "", s.skipAlias(next), true
	}
	if s.at(next).Kind == KindOperator && s.at(next).Text == "*" {
		// TRUNCATE / DELETE FROM t * (include descendants)
		next++
	}

	if _, isCTE := s.ctes[name]; isCTE {
		name = ""
	}
	return name, s.skipAlias(next), true
}

// parseName reads a possibly schema-qualified identifier and returns its
// canonical lowercase form.
func (s *statement) parseName(pos int) (string, int, bool) {
	if !isNameToken(s.at(pos)) {
		return "", pos, false
	}
	parts := []string{NormalizeIdentifier(s.at(pos).Text)}
	pos++
	for s.at(pos).IsPunct(".") && isIdentToken(s.at(pos+1)) {
		parts = append(parts, NormalizeIdentifier(s.at(pos+1).Text))
		pos += 2
	}
	return strings.Join(parts, "."), pos, true
}

func (s *statement) skipAlias(pos int) int {
	if s.at(pos).Is("AS") {
		pos++
		if isIdentToken(s.at(pos)) {
			pos++
		}
	} else if isNameToken(s.at(pos)) {
		pos++
	}
	if s.at(pos).IsPunct("(") {
		pos = s.skipParens(pos)
	}
	return pos
}

// skipParens returns the position after the parenthesis group opened at pos.
func (s *statement) skipParens(pos int) int {
	depth := 0
	for i := pos; i < len(s.toks); i++ {
		switch {
		case s.toks[i].IsPunct("("):
			depth++
		case s.toks[i].IsPunct(")"):
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(s.toks)
}

// findTopLevel returns the index of the first keyword kw at parenthesis depth
// zero at or after pos, or -1.
func (s *statement) findTopLevel(pos int, kw string) int {
	depth := 0
	for i := pos; i < len(s.toks); i++ {
		tok := s.toks[i]
		switch {
		case tok.IsPunct("("):
			depth++
		case tok.IsPunct(")"):
			depth--
		case depth == 0 && tok.Is(kw):
			return i
		}
	}
	return -1
}

func (s *statement) addRead(name string) {
	if name == "" {
		return
	}
	if _, isCTE := s.ctes[name]; isCTE {
		return
	}
	s.reads[name] = struct{}{}
}

// addWrite records a DML target. Targets always name relations, never CTEs.
func (s *statement) addWrite(name string) {
	if name == "" {
		return
	}
	s.writes[name] = struct{}{}
}

// fromClauseEnd lists the keywords that may follow a complete FROM item list.
var fromClauseEnd = map[string]struct{}{
	"WHERE": {}, "GROUP": {}, "HAVING": {}, "WINDOW": {}, "QUALIFY": {}, "ORDER": {},
	"LIMIT": {}, "OFFSET": {}, "FETCH": {}, "FOR": {}, "UNION": {}, "INTERSECT": {},
	"EXCEPT": {}, "MINUS": {}, "RETURNING": {}, "SET": {}, "ON": {}, "INTO": {},
	"USING": {},
}

func endsFromClause(tok Token) bool {
	if tok.IsPunct(")") || tok.IsPunct(";") {
		return true
	}
	if tok.Kind != KindWord {
		return false
	}
	_, ok := fromClauseEnd[tok.Upper()]
	return ok
}

// startsQuery reports whether a parenthesis group opening before tok holds a
// query rather than a join or an expression list.
func startsQuery(tok Token) bool {
	return tok.Is("SELECT") || tok.Is("WITH") || tok.Is("VALUES") || tok.Is("TABLE")
}

func isJoin(tok Token) bool {
	_, ok := joinWords[tok.Upper()]
	return ok
}

func isIdentToken(tok Token) bool {
	return tok.Kind == KindWord || tok.Kind == KindQuoted
}

func isNameToken(tok Token) bool {
	switch tok.Kind {
	case KindQuoted:
		return true
	case KindWord:
		_, isReserved := reserved[tok.Upper()]
		return !isReserved
	default:
		return false
	}
}
