package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/dig"

	"github.com/mikey/phish-ledger/internal/adapters/filter"
	"github.com/mikey/phish-ledger/internal/core"
	"github.com/mikey/phish-ledger/internal/factory"
)

var errNotFound = errors.New("not found")

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func newIngestCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [file.eml]",
		Short: "Run the detector on a message and record its findings",
		Long:  "Reads an RFC 5322 message from the file, or from stdin when no file or \"-\" is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}
			raw, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("failed to read message: %w", err)
			}

			return withLedger(flags, func(container *dig.Container, d ledgerDeps) error {
				return container.Invoke(func(ff *factory.FilterFactory, detector core.Detector) error {
					if closer, ok := detector.(interface{ Close() error }); ok {
						defer closer.Close()
					}

					pipeline, err := ff.CreatePipeline()
					if err != nil {
						return err
					}

					summary := cmd.OutOrStdout()
					if flags.output != outputText {
						summary = io.Discard
					}
					result, err := filter.NewCliFilter(pipeline, d.Logger, summary, flags.verbose).ProcessMessage(cmd.Context(), raw)
					if result != nil && flags.output != outputText {
						if rerr := render(cmd.OutOrStdout(), flags.output, result, nil); rerr != nil {
							return rerr
						}
					}
					return err
				})
			})
		},
	}
}

func newEmailsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "emails",
		Short: "List, show, correct and delete flagged emails",
	}

	var limit, offset int
	list := &cobra.Command{
		Use:   "list",
		Short: "List flagged emails, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(flags, func(_ *dig.Container, d ledgerDeps) error {
				emails, err := d.Service.ListEmails(cmd.Context(), limit, offset)
				if err != nil {
					return err
				}
				total, err := d.Service.GetEmailCount(cmd.Context())
				if err != nil {
					return err
				}
				for i := range emails {
					emails[i].RawContent = ""
				}
				out := struct {
					Total  int                 `json:"total" yaml:"total"`
					Emails []core.FlaggedEmail `json:"emails" yaml:"emails"`
				}{total, emails}
				return render(cmd.OutOrStdout(), flags.output, out, func(w io.Writer) error {
					if err := emailsTable(w, emails); err != nil {
						return err
					}
					_, err := fmt.Fprintf(w, "\n%d of %d emails\n", len(emails), total)
					return err
				})
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 50, "Maximum number of emails")
	list.Flags().IntVar(&offset, "offset", 0, "Number of emails to skip")

	var showRaw bool
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one email with its findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withLedger(flags, func(_ *dig.Container, d ledgerDeps) error {
				email, err := d.Service.GetEmail(cmd.Context(), id)
				if err != nil {
					return err
				}
				if email == nil {
					return fmt.Errorf("email %d: %w", id, errNotFound)
				}
				findings, err := d.Service.GetFindings(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !showRaw {
					email.RawContent = ""
				}
				out := struct {
					Email    *core.FlaggedEmail `json:"email" yaml:"email"`
					Findings []core.Finding     `json:"findings" yaml:"findings"`
				}{email, findings}
				return render(cmd.OutOrStdout(), flags.output, out, func(w io.Writer) error {
					fmt.Fprintf(w, "ID:          %d\n", email.ID)
					fmt.Fprintf(w, "Fingerprint: %s\n", email.Fingerprint)
					fmt.Fprintf(w, "Subject:     %s\n", email.Subject)
					fmt.Fprintf(w, "Sender:      %s\n", email.Sender)
					fmt.Fprintf(w, "Recipient:   %s\n", email.Recipient)
					if email.MessageDate != nil {
						fmt.Fprintf(w, "Date:        %s\n", formatTime(*email.MessageDate))
					}
					fmt.Fprintf(w, "Risk level:  %s\n", email.RiskLevel)
					fmt.Fprintf(w, "Analyzed:    %d times\n", email.TimesAnalyzed)
					fmt.Fprintf(w, "Flagged at:  %s\n\n", formatTime(email.FlaggedAt))
					if err := findingsTable(w, findings); err != nil {
						return err
					}
					if showRaw {
						fmt.Fprintf(w, "\n%s\n", email.RawContent)
					}
					return nil
				})
			})
		},
	}
	show.Flags().BoolVar(&showRaw, "raw", false, "Include the raw message")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an email and its findings, adjusting the phrase statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withLedger(flags, func(_ *dig.Container, d ledgerDeps) error {
				deleted, err := d.Service.DeleteEmail(cmd.Context(), id)
				if err != nil {
					return err
				}
				return reportChange(cmd, flags, "email", id, deleted, "deleted")
			})
		},
	}

	var subject, sender, recipient, riskLevel, messageDate string
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Correct the descriptive fields of an email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			fields := changedFields(cmd, map[string]*string{
				"subject":      &subject,
				"sender":       &sender,
				"recipient":    &recipient,
				"risk-level":   &riskLevel,
				"message-date": &messageDate,
			})
			if len(fields) == 0 {
				return fmt.Errorf("nothing to update")
			}
			return withLedger(flags, func(_ *dig.Container, d ledgerDeps) error {
				updated, err := d.Service.UpdateEmailFields(cmd.Context(), id, fields)
				if err != nil {
					return err
				}
				return reportChange(cmd, flags, "email", id, updated, "updated")
			})
		},
	}
	update.Flags().StringVar(&subject, "subject", "", "New subject")
	update.Flags().StringVar(&sender, "sender", "", "New sender address")
	update.Flags().StringVar(&recipient, "recipient", "", "New recipient address")
	update.Flags().StringVar(&riskLevel, "risk-level", "", "New risk level: low, medium, high or critical")
	update.Flags().StringVar(&messageDate, "message-date", "", "New message date (RFC 3339 or YYYY-MM-DD)")

	cmd.AddCommand(list, show, del, update)
	return cmd
}

func newFindingsCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "findings",
		Short: "List, correct and delete individual findings",
	}

	list := &cobra.Command{
		Use:   "list <email-id>",
		Short: "List the findings of an email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withLedger(flags, func(_ *dig.Container, d ledgerDeps) error {
				findings, err := d.Service.GetFindings(cmd.Context(), id)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), flags.output, findings, func(w io.Writer) error {
					return findingsTable(w, findings)
				})
			})
		},
	}

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete one finding, adjusting the phrase statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withLedger(flags, func(_ *dig.Container, d ledgerDeps) error {
				deleted, err := d.Service.DeleteFinding(cmd.Context(), id)
				if err != nil {
					return err
				}
				return reportChange(cmd, flags, "finding", id, deleted, "deleted")
			})
		},
	}

	var phrase, segment, line, context string
	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Correct a finding; changing the phrase moves its count in the statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			fields := changedFields(cmd, map[string]*string{
				"phrase":  &phrase,
				"segment": &segment,
				"line":    &line,
				"context": &context,
			})
			if len(fields) == 0 {
				return fmt.Errorf("nothing to update")
			}
			return withLedger(flags, func(_ *dig.Container, d ledgerDeps) error {
				updated, err := d.Service.UpdateFinding(cmd.Context(), id, fields)
				if err != nil {
					return err
				}
				return reportChange(cmd, flags, "finding", id, updated, "updated")
			})
		},
	}
	update.Flags().StringVar(&phrase, "phrase", "", "New phrase")
	update.Flags().StringVar(&segment, "segment", "", "New segment")
	update.Flags().StringVar(&line, "line", "", "New line number")
	update.Flags().StringVar(&context, "context", "", "New context")

	cmd.AddCommand(list, del, update)
	return cmd
}

func newStatsCmd(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the most frequent phrases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(flags, func(_ *dig.Container, d ledgerDeps) error {
				stats, err := d.Service.GetPhraseStatistics(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), flags.output, stats, func(w io.Writer) error {
					return statsTable(w, stats)
				})
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of phrases")
	return cmd
}

func newPhraseCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "phrase <text>",
		Short: "Show the statistics of one phrase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(flags, func(_ *dig.Container, d ledgerDeps) error {
				stat, err := d.Service.GetPhraseStatistic(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if stat == nil {
					return fmt.Errorf("phrase %q: %w", args[0], errNotFound)
				}
				return render(cmd.OutOrStdout(), flags.output, stat, func(w io.Writer) error {
					return statsTable(w, []core.PhraseStatistic{*stat})
				})
			})
		},
	}
}

func newReportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show the occurrence report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(flags, func(_ *dig.Container, d ledgerDeps) error {
				report, err := d.Service.GetOccurrenceReport(cmd.Context())
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), flags.output, report, func(w io.Writer) error {
					return reportText(w, report)
				})
			})
		},
	}
}

func newCleanupCmd(flags *globalFlags) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete emails flagged more than --days days ago",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(flags, func(_ *dig.Container, d ledgerDeps) error {
				result, err := d.Service.Cleanup(cmd.Context(), days)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), flags.output, result, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Deleted %d emails and %d findings flagged before %s\n",
						result.EmailsDeleted, result.FindingsDeleted, formatTime(result.Cutoff))
					return err
				})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Age in days beyond which emails are deleted")
	return cmd
}

// changedFields maps the flags the user actually set to ledger field names
func changedFields(cmd *cobra.Command, values map[string]*string) map[string]any {
	names := map[string]string{
		"risk-level":   "risk_level",
		"message-date": "message_date",
		"line":         "line_number",
	}
	fields := map[string]any{}
	for flag, v := range values {
		if !cmd.Flags().Changed(flag) {
			continue
		}
		name := flag
		if mapped, ok := names[flag]; ok {
			name = mapped
		}
		fields[name] = *v
	}
	return fields
}

// reportChange renders the outcome of a delete or update; a missing row is an error
func reportChange(cmd *cobra.Command, flags *globalFlags, kind string, id int64, changed bool, verb string) error {
	if !changed {
		return fmt.Errorf("%s %d: %w", kind, id, errNotFound)
	}
	out := struct {
		ID      int64 `json:"id" yaml:"id"`
		Changed bool  `json:"changed" yaml:"changed"`
	}{id, changed}
	return render(cmd.OutOrStdout(), flags.output, out, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "%s %d %s\n", kind, id, verb)
		return err
	})
}
