package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/JonMunkholm/ofximport/internal/core"
	"github.com/JonMunkholm/ofximport/internal/ofx"
	"github.com/spf13/cobra"
)

type parseOptions struct {
	json bool
}

func newParseCommand() *cobra.Command {
	opts := &parseOptions{}

	cmd := &cobra.Command{
		Use:   "parse FILE",
		Short: "Parse an OFX file without touching the database",
		Long: `Parse an OFX file and print its statements and transactions.

Transactions that would be rejected on import are marked with the reason.
Nothing is written anywhere, so this is safe to run against any file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			summary, err := parseFile(cmd.Context(), f, cmd.OutOrStdout(), opts.json)
			if err != nil {
				return err
			}
			slog.Info("parsed file",
				"file", args[0],
				"statements", summary.Statements,
				"transactions", summary.Transactions,
				"rejected", summary.Rejected,
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.json, "json", false, "print one JSON object per transaction")

	return cmd
}

type parseSummary struct {
	Statements   int
	Transactions int
	Rejected     int
}

// parsedTransaction is the --json output line.
type parsedTransaction struct {
	BankID      string    `json:"bank_id"`
	AccountID   string    `json:"account_id"`
	AccountType string    `json:"account_type"`
	Currency    string    `json:"currency,omitempty"`
	FitID       string    `json:"fit_id,omitempty"`
	Type        string    `json:"type,omitempty"`
	Date        time.Time `json:"date,omitzero"`
	Amount      string    `json:"amount,omitempty"`
	Name        string    `json:"name,omitempty"`
	Memo        string    `json:"memo,omitempty"`
	Rejected    string    `json:"rejected,omitempty"`
}

// parseFile streams r through the OFX parser and writes every transaction
// to w, as a table or as JSON lines.
func parseFile(ctx context.Context, r io.Reader, w io.Writer, asJSON bool) (parseSummary, error) {
	var summary parseSummary
	p := ofx.NewParser(r, slog.Default())

	for {
		st, err := p.NextStatement(ctx)
		if errors.Is(err, io.EOF) {
			return summary, nil
		}
		if err != nil {
			return summary, err
		}
		summary.Statements++

		var tw *tabwriter.Writer
		var enc *json.Encoder
		if asJSON {
			enc = json.NewEncoder(w)
		} else {
			fmt.Fprintf(w, "Statement %d: bank %s (%s), account %s, type %s, currency %s\n",
				summary.Statements, st.BankID, st.BankName, st.AccountID, st.AccountType, st.Currency)
			tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "  FITID\tDATE\tTYPE\tAMOUNT\tNAME\tMEMO\tREJECTED")
		}

		for {
			tx, err := st.NextTransaction(ctx)
			if errors.Is(err, io.EOF) {
				break
			}

			line := parsedTransaction{
				BankID:      st.BankID,
				AccountID:   st.AccountID,
				AccountType: st.AccountType,
				Currency:    st.Currency,
			}
			switch {
			case errors.Is(err, ofx.ErrFieldSkipped):
				line.Rejected = err.Error()
			case err != nil:
				return summary, err
			default:
				line.FitID, line.Type, line.Date = tx.ID, tx.Type, tx.Date
				line.Name, line.Memo = tx.Description, tx.Category
				if tx.Amount.Valid {
					line.Amount = tx.Amount.Decimal.String()
				}
				if verr := core.ValidateTransaction(tx); verr != nil {
					line.Rejected = verr.Error()
				}
			}

			summary.Transactions++
			if line.Rejected != "" {
				summary.Rejected++
			}

			if asJSON {
				if err := enc.Encode(line); err != nil {
					return summary, err
				}
				continue
			}
			date := ""
			if !line.Date.IsZero() {
				date = line.Date.Format(time.DateOnly)
			}
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				line.FitID, date, line.Type, line.Amount, line.Name, line.Memo, line.Rejected)
		}

		if tw != nil {
			if err := tw.Flush(); err != nil {
				return summary, err
			}
		}
	}
}
