package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/sandeepkv93/session-guard/internal/config"
	"github.com/sandeepkv93/session-guard/internal/domain"
	"github.com/sandeepkv93/session-guard/internal/repository"
)

type eventsOptions struct {
	userID    string
	eventType string
	severity  string
	page      int
	pageSize  int
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	severityStyle = map[domain.Severity]lipgloss.Style{
		domain.SeverityCritical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9")),
		domain.SeverityHigh:     lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		domain.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		domain.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
)

func newEventsCommand(opts *options) *cobra.Command {
	eo := &eventsOptions{}
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List security events, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, closeDB, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer closeDB()
			res, err := listEvents(cmd.Context(), repository.NewSecurityEventRepository(db), eo)
			if err != nil {
				return err
			}
			if opts.ci {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
			}
			renderEvents(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&eo.userID, "user", "", "only events for this user ID")
	cmd.Flags().StringVar(&eo.eventType, "type", "", "only events of this type")
	cmd.Flags().StringVar(&eo.severity, "severity", "", "only events of this severity")
	cmd.Flags().IntVar(&eo.page, "page", repository.DefaultPage, "page number")
	cmd.Flags().IntVar(&eo.pageSize, "page-size", repository.DefaultPageSize, "events per page")
	return cmd
}

func listEvents(ctx context.Context, repo repository.SecurityEventRepository, eo *eventsOptions) (repository.PageResult[domain.SecurityEvent], error) {
	severity := domain.Severity(strings.ToLower(strings.TrimSpace(eo.severity)))
	if severity != "" {
		if _, ok := severityStyle[severity]; !ok {
			return repository.PageResult[domain.SecurityEvent]{}, fmt.Errorf("unknown severity %q", eo.severity)
		}
	}
	return repo.List(ctx, repository.SecurityEventQuery{
		PageRequest: repository.PageRequest{Page: eo.page, PageSize: eo.pageSize},
		UserID:      strings.TrimSpace(eo.userID),
		EventType:   domain.SecurityEventType(strings.TrimSpace(eo.eventType)),
		Severity:    severity,
	})
}

func renderEvents(w io.Writer, res repository.PageResult[domain.SecurityEvent]) {
	if len(res.Items) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no security events"))
		return
	}
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-20s  %-8s  %-24s  %-36s  %s", "TIME", "SEVERITY", "TYPE", "USER", "IP")))
	for _, e := range res.Items {
		user := "-"
		if e.UserID != nil {
			user = *e.UserID
		}
		style, ok := severityStyle[e.Severity]
		if !ok {
			style = lipgloss.NewStyle()
		}
		fmt.Fprintf(w, "%-20s  %s  %-24s  %-36s  %s\n",
			e.CreatedAt.UTC().Format(time.DateTime),
			style.Render(fmt.Sprintf("%-8s", e.Severity)),
			e.EventType,
			user,
			e.IPAddress,
		)
	}
	fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("page %d of %d (%d events)", res.Page, res.TotalPages, res.Total)))
}
