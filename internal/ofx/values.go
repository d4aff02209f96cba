package ofx

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
)

const (
	dateLayout     = "20060102150405"
	dateLayoutFrac = "20060102150405.000"
)

var errMissing = errors.New("value is missing")

// ParseDate parses an OFX datetime. Only the fixed-width prefix
// yyyyMMddHHmmss or yyyyMMddHHmmss.fff is read; any trailing timezone
// bracket such as [-3:MSK] is ignored and the result is in UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) >= len(dateLayoutFrac) && s[len(dateLayout)] == '.' {
		if t, err := time.Parse(dateLayoutFrac, s[:len(dateLayoutFrac)]); err == nil {
			return t, nil
		}
	}
	if len(s) < len(dateLayout) {
		return time.Time{}, fmt.Errorf("date %q: want %d digits", s, len(dateLayout))
	}
	t, err := time.Parse(dateLayout, s[:len(dateLayout)])
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q: %w", s, err)
	}
	return t, nil
}

// ParseAmount parses a TRNAMT value. A single comma is accepted as the
// decimal separator when no dot is present.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, errMissing
	}
	if !strings.Contains(s, ".") && strings.Count(s, ",") == 1 {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("amount %q: %w", s, err)
	}
	return d, nil
}

var (
	accountTypes = canonicalNames(
		ofxgo.AcctTypeChecking,
		ofxgo.AcctTypeSavings,
		ofxgo.AcctTypeMoneyMrkt,
		ofxgo.AcctTypeCreditLine,
		ofxgo.AcctTypeCD,
	)
	transactionTypes = canonicalNames(
		ofxgo.TrnTypeCredit,
		ofxgo.TrnTypeDebit,
		ofxgo.TrnTypeInt,
		ofxgo.TrnTypeDep,
		ofxgo.TrnTypeFee,
		ofxgo.TrnTypeATM,
		ofxgo.TrnTypePOS,
		ofxgo.TrnTypeXfer,
		ofxgo.TrnTypeCheck,
		ofxgo.TrnTypePayment,
	)
)

func canonicalNames(values ...fmt.Stringer) map[string]string {
	m := make(map[string]string, len(values))
	for _, v := range values {
		name := v.String()
		m[strings.ToUpper(name)] = name
	}
	return m
}

// NormalizeAccountType maps an ACCTTYPE value onto its canonical OFX
// spelling. Unknown values are returned trimmed but otherwise unchanged.
func NormalizeAccountType(s string) string {
	return normalize(accountTypes, s)
}

// NormalizeTransactionType maps a TRNTYPE value onto its canonical OFX
// spelling. Unknown values are returned trimmed but otherwise unchanged.
func NormalizeTransactionType(s string) string {
	return normalize(transactionTypes, s)
}

func normalize(known map[string]string, s string) string {
	s = strings.TrimSpace(s)
	if canon, ok := known[strings.ToUpper(s)]; ok {
		return canon
	}
	return s
}
