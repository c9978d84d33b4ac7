package sqltables

import (
	"sort"
	"strings"
)

// Wildcard is the dependency recorded for reads whose tables are unknown.
// A write to any table invalidates it.
const Wildcard = "*"

// StatementKind is the coarse shape of a single statement.
type StatementKind int

const (
	StatementUnknown StatementKind = iota
	StatementSelect
	StatementInsert
	StatementUpdate
	StatementDelete
	StatementTruncate
	StatementMerge
	StatementBegin
	// StatementSavepoint covers SAVEPOINT, RELEASE and ROLLBACK TO.
	StatementSavepoint
	StatementCommit
	StatementRollback
)

func (k StatementKind) String() string {
	switch k {
	case StatementSelect:
		return "select"
	case StatementInsert:
		return "insert"
	case StatementUpdate:
		return "update"
	case StatementDelete:
		return "delete"
	case StatementTruncate:
		return "truncate"
	case StatementMerge:
		return "merge"
	case StatementBegin:
		return "begin"
	case StatementSavepoint:
		return "savepoint"
	case StatementCommit:
		return "commit"
	case StatementRollback:
		return "rollback"
	default:
		return "unknown"
	}
}

// Analysis is the classification of a statement batch.
type Analysis struct {
	Kinds  []StatementKind
	Reads  []string
	Writes []string
	// AllReads is set when the read set could not be determined.
	AllReads bool
	// AllWrites is set when the write set could not be determined; callers
	// must treat the batch as touching every table.
	AllWrites bool
	// Reason describes the first classification failure, if any.
	Reason string
}

// Tables is a table set that may stand for every table.
type Tables struct {
	Names []string
	All   bool
}

// ReadTables returns the relations a query depends on. Queries that cannot be
// scanned, or that name no relation at all, report All.
func ReadTables(sql string) Tables {
	return Classify(sql).ReadSet()
}

// WriteTables returns the relations a statement batch may modify. Anything
// outside the supported grammar reports All.
func WriteTables(sql string) Tables {
	return Classify(sql).WriteSet()
}

// ReadSet derives the read dependencies from an analysis.
func (a Analysis) ReadSet() Tables {
	if a.AllReads {
		return Tables{All: true}
	}
	names := mergeSorted(a.Reads, a.Writes)
	if len(names) == 0 {
		return Tables{All: true}
	}
	return Tables{Names: names}
}

// WriteSet derives the write targets from an analysis.
func (a Analysis) WriteSet() Tables {
	if a.AllWrites {
		return Tables{All: true}
	}
	for _, k := range a.Kinds {
		if k == StatementSelect || k == StatementUnknown {
			return Tables{All: true}
		}
	}
	return Tables{Names: append([]string(nil), a.Writes...)}
}

// Classify tokenizes sql and classifies every statement of the batch.
func Classify(sql string) Analysis {
	tokens, err := Scan(sql)
	if err != nil {
		return failed("scan: " + err.Error())
	}

	statements, ok := splitStatements(tokens)
	if !ok {
		return failed("unbalanced parentheses")
	}
	if len(statements) == 0 {
		return failed("empty statement")
	}

	reads := map[string]struct{}{}
	writes := map[string]struct{}{}
	out := Analysis{}
	txOpen := false

	for _, stmt := range statements {
		s := newStatement(stmt)
		kind := s.classify()
		out.Kinds = append(out.Kinds, kind)

		switch kind {
		case StatementBegin:
			txOpen = true
		case StatementCommit:
			if !txOpen {
				s.failWrites("commit of a transaction opened outside the batch")
			}
			txOpen = false
		case StatementRollback:
			txOpen = false
		}

		for name := range s.reads {
			reads[name] = struct{}{}
		}
		for name := range s.writes {
			writes[name] = struct{}{}
		}
		if s.allReads {
			out.AllReads = true
		}
		if s.allWrites {
			out.AllWrites = true
		}
		if out.Reason == "" && s.reason != "" {
			out.Reason = s.reason
		}
	}

	out.Reads = sortedKeys(reads)
	out.Writes = sortedKeys(writes)
	return out
}

// Relation returns the unqualified relation name of a canonical table name.
func Relation(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

func failed(reason string) Analysis {
	return Analysis{
		Kinds:     []StatementKind{StatementUnknown},
		AllReads:  true,
		AllWrites: true,
		Reason:    reason,
	}
}

func splitStatements(tokens []Token) ([][]Token, bool) {
	var out [][]Token
	depth := 0
	start := 0
	for i, tok := range tokens {
		switch {
		case tok.IsPunct("("):
			depth++
		case tok.IsPunct(")"):
			depth--
			if depth < 0 {
				return nil, false
			}
		case tok.IsPunct(";") && depth == 0:
			if i > start {
				out = append(out, tokens[start:i])
			}
			start = i + 1
		}
	}
	if depth != 0 {
		return nil, false
	}
	if start < len(tokens) {
		out = append(out, tokens[start:])
	}
	return out, true
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func mergeSorted(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, n := range a {
		set[n] = struct{}{}
	}
	for _, n := range b {
		set[n] = struct{}{}
	}
	return sortedKeys(set)
}
