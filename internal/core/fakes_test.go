package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/ofximport/internal/database"
	"github.com/JonMunkholm/ofximport/internal/lease"
	"github.com/JonMunkholm/ofximport/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLeases(t *testing.T) (*lease.Coordinator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return lease.NewCoordinator(client, discardLogger()), mr
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ===== File Store =====

type fakeFiles struct {
	mu        sync.Mutex
	byName    map[string]database.BankFile
	writes    int
	createErr error
	updateErr error
	getErrs   []error // returned by GetByFileName in order before succeeding
	rowCounts map[uuid.UUID]int64
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{
		byName:    make(map[string]database.BankFile),
		rowCounts: make(map[uuid.UUID]int64),
	}
}

func (f *fakeFiles) put(file database.BankFile) database.BankFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	if file.ID == uuid.Nil {
		file.ID = uuid.New()
	}
	f.byName[file.FileName] = file
	return file
}

func (f *fakeFiles) get(name string) (database.BankFile, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.byName[name]
	return file, ok
}

func (f *fakeFiles) GetByFileName(_ context.Context, name string) (database.BankFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		return database.BankFile{}, err
	}
	file, ok := f.byName[name]
	if !ok {
		return database.BankFile{}, store.ErrNotFound
	}
	return file, nil
}

func (f *fakeFiles) Create(_ context.Context, file database.BankFile) (database.BankFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return database.BankFile{}, f.createErr
	}
	if _, ok := f.byName[file.FileName]; ok {
		return database.BankFile{}, fmt.Errorf("duplicate key value violates unique constraint")
	}
	f.writes++
	file.ID = uuid.New()
	f.byName[file.FileName] = file
	return file, nil
}

func (f *fakeFiles) Update(_ context.Context, file database.BankFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	cur, ok := f.byName[file.FileName]
	if !ok || cur.ID != file.ID {
		return store.ErrNotFound
	}
	f.writes++
	f.byName[file.FileName] = file
	return nil
}

func (f *fakeFiles) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, file := range f.byName {
		if file.ID == id {
			f.writes++
			delete(f.byName, name)
			delete(f.rowCounts, id)
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeFiles) ListInProgressBefore(_ context.Context, cutoff time.Time, limit int) ([]database.BankFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.BankFile
	for _, file := range f.byName {
		if file.Status == database.FileStatusInProgress && file.ImportedAt.Before(cutoff) && len(out) < limit {
			out = append(out, file)
		}
	}
	return out, nil
}

func (f *fakeFiles) CountTransactions(_ context.Context, id uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rowCounts[id], nil
}

// ===== Dimension Stores =====

type fakeDimensions struct {
	mu         sync.Mutex
	banks      map[string]database.Bank
	accounts   map[string]database.BankAccount
	categories map[string]uuid.UUID
	categoryFn func(name string) error
}

func newFakeDimensions() *fakeDimensions {
	return &fakeDimensions{
		banks:      make(map[string]database.Bank),
		accounts:   make(map[string]database.BankAccount),
		categories: make(map[string]uuid.UUID),
	}
}

type fakeBanks struct{ d *fakeDimensions }

func (b fakeBanks) GetOrCreate(_ context.Context, bankID, name string) (database.Bank, error) {
	b.d.mu.Lock()
	defer b.d.mu.Unlock()
	if bank, ok := b.d.banks[bankID]; ok {
		return bank, nil
	}
	bank := database.Bank{ID: uuid.New(), BankID: bankID, Name: name}
	b.d.banks[bankID] = bank
	return bank, nil
}

type fakeAccounts struct{ d *fakeDimensions }

func (a fakeAccounts) GetOrCreate(_ context.Context, bankID uuid.UUID, accountID, accountType string) (database.BankAccount, error) {
	a.d.mu.Lock()
	defer a.d.mu.Unlock()
	key := bankID.String() + "/" + accountID
	if acct, ok := a.d.accounts[key]; ok {
		return acct, nil
	}
	acct := database.BankAccount{ID: uuid.New(), BankID: bankID, AccountID: accountID, AccountType: accountType}
	a.d.accounts[key] = acct
	return acct, nil
}

type fakeCategories struct{ d *fakeDimensions }

func (c fakeCategories) GetOrCreateID(_ context.Context, name string) (uuid.UUID, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.d.categoryFn != nil {
		if err := c.d.categoryFn(name); err != nil {
			return uuid.Nil, err
		}
	}
	if id, ok := c.d.categories[name]; ok {
		return id, nil
	}
	id := uuid.New()
	c.d.categories[name] = id
	return id, nil
}

// ===== Inserter =====

// fakeInserter deduplicates globally by FITID, like the real inserter.
type fakeInserter struct {
	mu       sync.Mutex
	stored   map[string]database.TransactionRow
	batches  []int
	failures []error // returned by Insert in order before succeeding
	files    *fakeFiles
}

func newFakeInserter(files *fakeFiles) *fakeInserter {
	return &fakeInserter{stored: make(map[string]database.TransactionRow), files: files}
}

func (i *fakeInserter) Insert(_ context.Context, rows []database.TransactionRow) (InsertResult, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.failures) > 0 {
		err := i.failures[0]
		i.failures = i.failures[1:]
		return InsertResult{}, err
	}
	i.batches = append(i.batches, len(rows))

	var res InsertResult
	for _, r := range rows {
		if _, ok := i.stored[r.FitID]; ok {
			res.Duplicates++
			continue
		}
		i.stored[r.FitID] = r
		res.Inserted++
		if i.files != nil {
			i.files.mu.Lock()
			i.files.rowCounts[r.FileID]++
			i.files.mu.Unlock()
		}
	}
	return res, nil
}

func (i *fakeInserter) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.stored)
}

// ===== OFX Documents =====

type testTxn struct {
	FitID  string
	Amount string // omitted when "-"
	Name   string
	Memo   string
	Date   string
}

type testStmt struct {
	BankID    string
	AccountID string
	Txns      []testTxn
}

// buildOFX renders an OFX 2.x document with one STMTTRNRS per statement.
func buildOFX(stmts ...testStmt) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<?OFX OFXHEADER="200" VERSION="211" SECURITY="NONE" OLDFILEUID="NONE" NEWFILEUID="NONE"?>` + "\n")
	b.WriteString("<OFX><SIGNONMSGSRSV1><SONRS><FI><ORG>Test Bank</ORG></FI></SONRS></SIGNONMSGSRSV1><BANKMSGSRSV1>\n")
	for i, st := range stmts {
		fmt.Fprintf(&b, "<STMTTRNRS><TRNUID>%d</TRNUID><STMTRS><CURDEF>USD</CURDEF>", i+1)
		fmt.Fprintf(&b, "<BANKACCTFROM><BANKID>%s</BANKID><ACCTID>%s</ACCTID><ACCTTYPE>CHECKING</ACCTTYPE></BANKACCTFROM>", st.BankID, st.AccountID)
		b.WriteString("<BANKTRANLIST>\n")
		for _, tx := range st.Txns {
			date := tx.Date
			if date == "" {
				date = "20240215103000"
			}
			b.WriteString("<STMTTRN><TRNTYPE>DEBIT</TRNTYPE>")
			fmt.Fprintf(&b, "<DTPOSTED>%s</DTPOSTED>", date)
			if tx.Amount != "-" {
				fmt.Fprintf(&b, "<TRNAMT>%s</TRNAMT>", tx.Amount)
			}
			fmt.Fprintf(&b, "<FITID>%s</FITID><NAME>%s</NAME><MEMO>%s</MEMO></STMTTRN>\n", tx.FitID, tx.Name, tx.Memo)
		}
		b.WriteString("</BANKTRANLIST></STMTRS></STMTTRNRS>\n")
	}
	b.WriteString("</BANKMSGSRSV1></OFX>\n")
	return b.String()
}

// txns returns n valid transactions with FITIDs prefix-0 .. prefix-(n-1).
func txns(prefix string, n int) []testTxn {
	out := make([]testTxn, n)
	for i := range out {
		out[i] = testTxn{
			FitID:  fmt.Sprintf("%s-%d", prefix, i),
			Amount: fmt.Sprintf("-%d.50", i+1),
			Name:   "Payee",
			Memo:   "Groceries",
		}
	}
	return out
}
