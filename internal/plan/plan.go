package plan

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strconv"

	"github.com/dshills/bookmarks-mcp/pkg/types"
)

// Mode selects which retrievers answer a plan
type Mode string

const (
	ModeTagOnly  Mode = "tag_only" // Tags only, AND semantics as a hard filter
	ModeLexical  Mode = "lexical"  // Substring matching (fallback for vector)
	ModeVector   Mode = "vector"   // Semantic nearest-neighbour search
	ModeDomain   Mode = "domain"   // Query text is a bare domain or URL fragment
	ModeCombined Mode = "combined" // Tags plus text
)

// NeedsEmbedding reports whether the mode requires a query vector
func (m Mode) NeedsEmbedding() bool {
	return m == ModeVector || m == ModeCombined
}

// Request is the raw search request; everything except UserID is optional
type Request struct {
	UserID int64
	Query  string
	Tags   []string
	Limit  int
	Cursor string
}

// Options bounds the page size
type Options struct {
	DefaultLimit int
	MaxLimit     int
}

// DefaultOptions returns the default page size policy
func DefaultOptions() Options {
	return Options{
		DefaultLimit: 20,
		MaxLimit:     100,
	}
}

// Plan is the canonical, immutable form of a search request.
// Two semantically identical requests produce plans with identical hashes.
type Plan struct {
	userID int64
	text   string
	tags   []string
	tokens []string
	domain string
	mode   Mode
	limit  int
	offset int

	cursorIgnored bool
}

// Normalize turns a raw request into a Plan and selects its mode
func Normalize(req Request, opts Options) (*Plan, error) {
	if req.UserID <= 0 {
		return nil, types.ErrInvalidUser
	}

	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultOptions().DefaultLimit
	}
	if opts.MaxLimit < opts.DefaultLimit {
		opts.MaxLimit = opts.DefaultLimit
	}

	p := &Plan{
		userID: req.UserID,
		text:   types.NormalizeText(req.Query),
		tags:   types.NormalizeTags(req.Tags),
	}

	hasText := p.text != ""
	hasTags := len(p.tags) > 0

	switch {
	case !hasText && !hasTags:
		return nil, types.ErrEmptyQuery
	case hasTags && !hasText:
		p.mode = ModeTagOnly
	case hasTags && hasText:
		p.mode = ModeCombined
	default:
		if domain, ok := ParseDomain(p.text); ok {
			p.mode = ModeDomain
			p.domain = domain
		} else {
			p.mode = ModeVector
		}
	}

	if p.mode == ModeDomain {
		// A URL fragment matches by its host, not by its literal text
		p.tokens = []string{p.domain}
	} else if hasText {
		p.tokens = types.Tokenize(p.text)
		if p.domain == "" {
			// Combined plans still earn the exact-domain bonus
			if domain, ok := ParseDomain(p.text); ok {
				p.domain = domain
			}
		}
	}

	p.limit = req.Limit
	if p.limit <= 0 {
		p.limit = opts.DefaultLimit
	}
	if p.limit > opts.MaxLimit {
		p.limit = opts.MaxLimit
	}

	offset, err := DecodeCursor(req.Cursor)
	if err != nil {
		p.cursorIgnored = true
		offset = 0
	}
	p.offset = offset

	return p, nil
}

// UserID returns the user scope
func (p *Plan) UserID() int64 { return p.userID }

// Text returns the canonical query text ("" when absent)
func (p *Plan) Text() string { return p.text }

// Tags returns a copy of the sorted, unique tag names
func (p *Plan) Tags() []string { return append([]string(nil), p.tags...) }

// Tokens returns a copy of the lexical tokens of the query text
func (p *Plan) Tokens() []string { return append([]string(nil), p.tokens...) }

// Domain returns the bare host when the query text parses as a domain
func (p *Plan) Domain() string { return p.domain }

// Mode returns the retrieval mode
func (p *Plan) Mode() Mode { return p.mode }

// Limit returns the page size
func (p *Plan) Limit() int { return p.limit }

// Offset returns the position of the first result of the requested page
func (p *Plan) Offset() int { return p.offset }

// CursorIgnored reports whether a malformed cursor was replaced by the first page
func (p *Plan) CursorIgnored() bool { return p.cursorIgnored }

// WithMode returns a copy of the plan with a different mode
func (p *Plan) WithMode(m Mode) *Plan {
	cp := *p
	cp.tags = p.Tags()
	cp.tokens = p.Tokens()
	cp.mode = m
	return &cp
}

// Hash returns a deterministic digest of the question the plan asks.
// Paging fields are excluded: every page of one question shares a ranking.
func (p *Plan) Hash() [32]byte {
	h := sha256.New()
	writeField(h, "bookmarks/plan/v1")
	writeField(h, strconv.FormatInt(p.userID, 10))
	writeField(h, string(p.mode))
	writeField(h, p.text)
	writeField(h, strconv.Itoa(len(p.tags)))
	for _, tag := range p.tags {
		writeField(h, tag)
	}

	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Key returns the hex form of Hash
func (p *Plan) Key() string {
	sum := p.Hash()
	return hex.EncodeToString(sum[:])
}

// writeField writes a length-prefixed field so adjacent fields cannot collide
func writeField(h hash.Hash, s string) {
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(s)))
	_, _ = h.Write(lenBuf[:n])
	_, _ = h.Write([]byte(s))
}
