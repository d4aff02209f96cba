// Package ofx reads bank statements from OFX 2.x (XML) documents.
//
// A Parser walks the markup forward-only. Statements are pulled one at a
// time with NextStatement, and each statement's transactions are pulled
// with Statement.NextTransaction from the same underlying decoder, so a
// file is never held in memory and cannot be read twice.
//
//	p := ofx.NewParser(r, logger)
//	for {
//	    st, err := p.NextStatement(ctx)
//	    if errors.Is(err, io.EOF) {
//	        break
//	    }
//	    ...
//	    for {
//	        tx, err := st.NextTransaction(ctx)
//	        if errors.Is(err, io.EOF) {
//	            break
//	        }
//	        if errors.Is(err, ofx.ErrFieldSkipped) {
//	            continue
//	        }
//	        ...
//	    }
//	}
//
// Elements are matched by name at a fixed nesting depth:
//
//	OFX                                 1
//	  SIGNONMSGSRSV1/SONRS/FI/ORG       2..5
//	  BANKMSGSRSV1                      2
//	    STMTTRNRS                       3
//	      STMTRS                        4
//	        CURDEF, BANKACCTFROM        5
//	          BANKID, ACCTID, ACCTTYPE  6
//	        BANKTRANLIST                5
//	          STMTTRN                   6
//	            TRNTYPE, DTPOSTED, ...  7
//
// Anything else is skipped. A key:value header (OFXHEADER:100 ...) or
// byte order mark before the first '<' is ignored.
package ofx

import (
	"bufio"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/encoding/ianaindex"
)

const (
	tagRoot        = "OFX"
	tagSignon      = "SIGNONMSGSRSV1"
	tagFI          = "FI"
	tagOrg         = "ORG"
	tagEnvelope    = "BANKMSGSRSV1"
	tagWrapper     = "STMTTRNRS"
	tagStatement   = "STMTRS"
	tagCurrency    = "CURDEF"
	tagAccount     = "BANKACCTFROM"
	tagBankID      = "BANKID"
	tagAccountID   = "ACCTID"
	tagAccountType = "ACCTTYPE"
	tagTranList    = "BANKTRANLIST"
	tagTransaction = "STMTTRN"
	tagTrnType     = "TRNTYPE"
	tagDatePosted  = "DTPOSTED"
	tagAmount      = "TRNAMT"
	tagFitID       = "FITID"
	tagName        = "NAME"
	tagMemo        = "MEMO"
)

const (
	depthEnvelope    = 2
	depthWrapper     = 3
	depthStatement   = 4
	depthStmtChild   = 5
	depthSignonOrg   = 5
	depthAccountLeaf = 6
	depthTransaction = 6
	depthTxnLeaf     = 7
)

// Statement is one account statement. Its transactions are read lazily.
type Statement struct {
	BankID      string
	BankName    string // FI/ORG from the signon block, or BankID
	AccountID   string
	AccountType string
	Currency    string

	parser *Parser
	done   bool
}

// RawTransaction is a transaction as it appears in the file.
type RawTransaction struct {
	ID          string // FITID
	Type        string
	Date        time.Time
	Category    string // MEMO
	Description string // NAME
	Amount      decimal.NullDecimal
}

// Parser is a forward-only OFX statement reader. It is not safe for
// concurrent use.
type Parser struct {
	src    *trackingReader
	in     *bufio.Reader
	dec    *xml.Decoder
	logger *slog.Logger

	stack       []string
	started     bool
	finished    bool
	sawEnvelope bool
	sawStmt     bool
	institution string
	current     *Statement
	err         error
}

// NewParser returns a Parser reading from r. Nothing is read until the
// first call to NextStatement.
func NewParser(r io.Reader, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	src := &trackingReader{r: r}
	in := bufio.NewReader(src)
	dec := xml.NewDecoder(in)
	dec.Strict = true
	dec.CharsetReader = charsetReader
	return &Parser{
		src:    src,
		in:     in,
		dec:    dec,
		logger: logger,
	}
}

// NextStatement advances to the next statement. Unread transactions of
// the previous statement are discarded. It returns io.EOF after the last
// statement, a *StructuralError or *SyntaxError for a bad document, and
// ctx.Err() if ctx is done.
func (p *Parser) NextStatement(ctx context.Context) (*Statement, error) {
	if p.err != nil {
		return nil, p.err
	}
	if p.finished {
		return nil, io.EOF
	}
	if p.current != nil && !p.current.done {
		if err := p.current.discard(ctx); err != nil {
			return nil, err
		}
	}
	p.current = nil

	if err := ctx.Err(); err != nil {
		return nil, p.fail(err)
	}
	if !p.started {
		if err := p.readRoot(); err != nil {
			return nil, p.fail(err)
		}
	}

	for {
		tok, err := p.token()
		if err != nil {
			return nil, p.fail(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name, depth := t.Name.Local, p.depth()
			switch {
			case depth == depthEnvelope && name == tagSignon:
				err = p.readSignon()
			case depth == depthEnvelope && name == tagEnvelope:
				p.sawEnvelope = true
			case depth == depthWrapper && name == tagWrapper:
				p.sawStmt = false
			case depth == depthStatement && name == tagStatement && p.parent() == tagWrapper:
				p.sawStmt = true
				st, err := p.readStatementHeader()
				if err != nil {
					return nil, p.fail(err)
				}
				p.current = st
				return st, nil
			default:
				err = p.skip()
			}
			if err != nil {
				return nil, p.fail(err)
			}

		case xml.EndElement:
			switch {
			case p.depth() == depthWrapper-1 && t.Name.Local == tagWrapper && !p.sawStmt:
				return nil, p.fail(structural("<%s> without <%s>", tagWrapper, tagStatement))
			case p.depth() == 0:
				p.finished = true
				if !p.sawEnvelope {
					return nil, p.fail(structural("missing <%s>", tagEnvelope))
				}
				return nil, io.EOF
			}
		}
	}
}

// NextTransaction returns the next transaction of the statement, or
// io.EOF when the statement has no more. A *FieldError means that one
// transaction was skipped and reading may continue.
func (s *Statement) NextTransaction(ctx context.Context) (*RawTransaction, error) {
	p := s.parser
	if s.done || p.current != s {
		return nil, io.EOF
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := ctx.Err(); err != nil {
		return nil, p.fail(err)
	}

	for {
		tok, err := p.token()
		if err != nil {
			return nil, p.fail(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if p.depth() == depthTransaction && t.Name.Local == tagTransaction && p.parent() == tagTranList {
				return p.readTransaction()
			}
			if err := p.skip(); err != nil {
				return nil, p.fail(err)
			}
		case xml.EndElement:
			if p.depth() < depthStatement {
				s.done = true
				return nil, io.EOF
			}
		}
	}
}

func (s *Statement) discard(ctx context.Context) error {
	for {
		_, err := s.NextTransaction(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil && !errors.Is(err, ErrFieldSkipped) {
			return err
		}
	}
}

func (p *Parser) readRoot() error {
	p.started = true
	if err := p.skipPreamble(); err != nil {
		return err
	}
	for {
		tok, err := p.token()
		if err != nil {
			return err
		}
		if t, ok := tok.(xml.StartElement); ok {
			if t.Name.Local != tagRoot {
				return structural("root element is <%s>, want <%s>", t.Name.Local, tagRoot)
			}
			return nil
		}
	}
}

func (p *Parser) skipPreamble() error {
	for {
		b, err := p.in.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return &SyntaxError{Msg: "no markup found"}
			}
			return fmt.Errorf("ofx: read input: %w", err)
		}
		if b == '<' {
			return p.in.UnreadByte()
		}
	}
}

func (p *Parser) readSignon() error {
	depth := p.depth()
	for {
		tok, err := p.token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == tagOrg && p.depth() == depthSignonOrg && p.parent() == tagFI {
				if p.institution, err = p.readText(); err != nil {
					return err
				}
			}
		case xml.EndElement:
			if p.depth() < depth {
				return nil
			}
		}
	}
}

// readStatementHeader reads STMTRS up to the opening BANKTRANLIST tag, or
// to its own end when the statement has no transaction list.
func (p *Parser) readStatementHeader() (*Statement, error) {
	st := &Statement{parser: p}
	sawAccount := false

	for {
		tok, err := p.token()
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch {
			case p.depth() != depthStmtChild:
				err = p.skip()
			case t.Name.Local == tagCurrency:
				st.Currency, err = p.readText()
			case t.Name.Local == tagAccount:
				sawAccount = true
				err = p.readAccount(st)
			case t.Name.Local == tagTranList:
				if !sawAccount {
					return nil, structural("missing <%s> before <%s>", tagAccount, tagTranList)
				}
				return st, nil
			default:
				err = p.skip()
			}
			if err != nil {
				return nil, err
			}

		case xml.EndElement:
			if p.depth() < depthStatement {
				if !sawAccount {
					return nil, structural("<%s> without <%s>", tagStatement, tagAccount)
				}
				st.done = true
				return st, nil
			}
		}
	}
}

func (p *Parser) readAccount(st *Statement) error {
	for {
		tok, err := p.token()
		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if p.depth() != depthAccountLeaf {
				err = p.skip()
			} else {
				switch t.Name.Local {
				case tagBankID:
					st.BankID, err = p.readText()
				case tagAccountID:
					st.AccountID, err = p.readText()
				case tagAccountType:
					var raw string
					raw, err = p.readText()
					st.AccountType = NormalizeAccountType(raw)
				default:
					err = p.skip()
				}
			}
			if err != nil {
				return err
			}

		case xml.EndElement:
			if p.depth() < depthStmtChild {
				if st.BankID == "" {
					return structural("<%s> without <%s>", tagAccount, tagBankID)
				}
				if st.AccountID == "" {
					return structural("<%s> without <%s>", tagAccount, tagAccountID)
				}
				st.BankName = p.institution
				if st.BankName == "" {
					st.BankName = st.BankID
				}
				return nil
			}
		}
	}
}

func (p *Parser) readTransaction() (*RawTransaction, error) {
	var typ, posted, amount, fitID, name, memo string

	for {
		tok, err := p.token()
		if err != nil {
			return nil, p.fail(err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			var dst *string
			if p.depth() == depthTxnLeaf {
				switch t.Name.Local {
				case tagTrnType:
					dst = &typ
				case tagDatePosted:
					dst = &posted
				case tagAmount:
					dst = &amount
				case tagFitID:
					dst = &fitID
				case tagName:
					dst = &name
				case tagMemo:
					dst = &memo
				}
			}
			if dst == nil {
				err = p.skip()
			} else {
				*dst, err = p.readText()
			}
			if err != nil {
				return nil, p.fail(err)
			}

		case xml.EndElement:
			if p.depth() < depthTransaction {
				tx := &RawTransaction{
					ID:          fitID,
					Type:        NormalizeTransactionType(typ),
					Category:    memo,
					Description: name,
				}
				if fitID == "" {
					return nil, p.skipped(&FieldError{Field: tagFitID, Err: errMissing})
				}
				if amount != "" {
					d, err := ParseAmount(amount)
					if err != nil {
						return nil, p.skipped(&FieldError{Field: tagAmount, FitID: fitID, Value: amount, Err: err})
					}
					tx.Amount = decimal.NewNullDecimal(d)
				}
				if posted == "" {
					return nil, p.skipped(&FieldError{Field: tagDatePosted, FitID: fitID, Err: errMissing})
				}
				if tx.Date, err = ParseDate(posted); err != nil {
					return nil, p.skipped(&FieldError{Field: tagDatePosted, FitID: fitID, Value: posted, Err: err})
				}
				return tx, nil
			}
		}
	}
}

func (p *Parser) skipped(fe *FieldError) error {
	p.logger.Warn("skipping transaction",
		"field", fe.Field,
		"fit_id", fe.FitID,
		"value", fe.Value,
		"error", fe.Err,
	)
	return fe
}

// readText returns the trimmed character data of the element just opened
// and consumes its end tag. Nested elements are ignored.
func (p *Parser) readText() (string, error) {
	depth := p.depth()
	var b strings.Builder
	for {
		tok, err := p.token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.CharData:
			if p.depth() == depth {
				b.Write(t)
			}
		case xml.EndElement:
			if p.depth() < depth {
				return strings.TrimSpace(b.String()), nil
			}
		}
	}
}

// skip consumes the element just opened, including its children.
func (p *Parser) skip() error {
	depth := p.depth()
	for p.depth() >= depth {
		if _, err := p.token(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Parser) token() (xml.Token, error) {
	tok, err := p.dec.Token()
	if err != nil {
		return nil, p.classify(err)
	}
	switch t := tok.(type) {
	case xml.StartElement:
		p.stack = append(p.stack, t.Name.Local)
	case xml.EndElement:
		p.stack = p.stack[:len(p.stack)-1]
	}
	return tok, nil
}

func (p *Parser) depth() int {
	return len(p.stack)
}

func (p *Parser) parent() string {
	if len(p.stack) < 2 {
		return ""
	}
	return p.stack[len(p.stack)-2]
}

func (p *Parser) classify(err error) error {
	if p.src.err != nil {
		return fmt.Errorf("ofx: read input: %w", p.src.err)
	}
	var se *xml.SyntaxError
	if errors.As(err, &se) {
		return &SyntaxError{Line: se.Line, Msg: se.Msg, Err: err}
	}
	if errors.Is(err, io.EOF) {
		return &SyntaxError{Msg: "unexpected end of input", Err: err}
	}
	return &SyntaxError{Msg: err.Error(), Err: err}
}

func (p *Parser) fail(err error) error {
	if p.err == nil {
		p.err = err
	}
	return p.err
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("charset %q: %w", label, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("charset %q is not supported", label)
	}
	return enc.NewDecoder().Reader(input), nil
}

// trackingReader remembers the last non-EOF read error so that I/O
// failures are not reported as malformed markup.
type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(b []byte) (int, error) {
	n, err := t.r.Read(b)
	if err != nil && !errors.Is(err, io.EOF) {
		t.err = err
	}
	return n, err
}
