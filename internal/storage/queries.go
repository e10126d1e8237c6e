package storage

import (
	"fmt"
	"strings"

	"github.com/dshills/bookmarks-mcp/pkg/types"
)

// dialect captures the SQL differences between SQLite and PostgreSQL
type dialect struct {
	placeholder func(n int) string
	contains    func(haystack, needle string) string
}

var sqliteDialect = dialect{
	placeholder: func(int) string { return "?" },
	contains: func(haystack, needle string) string {
		return fmt.Sprintf("instr(%s, %s) > 0", haystack, needle)
	},
}

var postgresDialect = dialect{
	placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	contains: func(haystack, needle string) string {
		return fmt.Sprintf("strpos(%s, %s) > 0", haystack, needle)
	},
}

// queryBuilder collects arguments in the order their placeholders appear
type queryBuilder struct {
	d    dialect
	sb   strings.Builder
	args []interface{}
}

func newQueryBuilder(d dialect) *queryBuilder {
	return &queryBuilder{d: d}
}

// bind records v and returns its placeholder
func (qb *queryBuilder) bind(v interface{}) string {
	qb.args = append(qb.args, v)
	return qb.d.placeholder(len(qb.args))
}

// bindList binds every value and returns a comma separated placeholder list
func (qb *queryBuilder) bindList(values []string) string {
	phs := make([]string, len(values))
	for i, v := range values {
		phs[i] = qb.bind(v)
	}
	return strings.Join(phs, ", ")
}

func (qb *queryBuilder) bindIDs(ids []int64) string {
	phs := make([]string, len(ids))
	for i, id := range ids {
		phs[i] = qb.bind(id)
	}
	return strings.Join(phs, ", ")
}

func (qb *queryBuilder) write(format string, a ...interface{}) {
	fmt.Fprintf(&qb.sb, format, a...)
}

func (qb *queryBuilder) String() string {
	return qb.sb.String()
}

// tagSearchQuery selects bookmarks whose tag set contains every name
func tagSearchQuery(d dialect, userID int64, names []string, limit int) (string, []interface{}) {
	qb := newQueryBuilder(d)
	qb.write(`
		SELECT b.id, b.created_at
		FROM bookmarks b
		INNER JOIN bookmark_tags bt ON bt.bookmark_id = b.id
		INNER JOIN tags t ON t.id = bt.tag_id
		WHERE b.user_id = %s AND t.user_id = %s AND t.name IN (%s)
		GROUP BY b.id, b.created_at
		HAVING COUNT(DISTINCT t.name) = %s
		ORDER BY b.created_at DESC, b.id ASC
		LIMIT %s`,
		qb.bind(userID), qb.bind(userID), qb.bindList(names), qb.bind(len(names)), qb.bind(limit))
	return qb.String(), qb.args
}

// textSearchQuery counts matched tokens per bookmark and orders by the
// lexical score matched/len(tokens) + bonus*exact_domain.
func textSearchQuery(d dialect, userID int64, q TextQuery, limit int) (string, []interface{}) {
	qb := newQueryBuilder(d)

	matched := "0"
	if len(q.Tokens) > 0 {
		terms := make([]string, len(q.Tokens))
		for i, token := range q.Tokens {
			terms[i] = fmt.Sprintf("CASE WHEN %s THEN 1 ELSE 0 END", d.contains("b.search_text", qb.bind(token)))
		}
		matched = strings.Join(terms, " + ")
	}

	exact := "0"
	if q.Domain != "" {
		exact = fmt.Sprintf("CASE WHEN b.domain = %s THEN 1 ELSE 0 END", qb.bind(q.Domain))
	}

	denominator := float64(len(q.Tokens))
	if denominator == 0 {
		denominator = 1
	}

	qb.write(`
		SELECT id, created_at, matched, exact_domain FROM (
			SELECT b.id AS id, b.created_at AS created_at, %s AS matched, %s AS exact_domain
			FROM bookmarks b
			WHERE b.user_id = %s
		) scored
		WHERE matched > 0 OR exact_domain > 0
		ORDER BY CAST(matched AS DOUBLE PRECISION) / CAST(%s AS DOUBLE PRECISION)
			+ CAST(%s AS DOUBLE PRECISION) * exact_domain DESC,
			created_at DESC, id ASC
		LIMIT %s`,
		matched, exact, qb.bind(userID), qb.bind(denominator), qb.bind(q.DomainBonus), qb.bind(limit))
	return qb.String(), qb.args
}

// normalizeQueryTags folds and dedupes tag names the way AttachTags stores them
func normalizeQueryTags(tags []string) []string {
	return types.NormalizeTags(tags)
}
