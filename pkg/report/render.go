package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

// WriteText renders r as aligned tables, one per category.
func WriteText(w io.Writer, r *Report) error {
	if r.Channels == 0 {
		_, err := fmt.Fprintln(w, "No active channels.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for i, g := range r.Groups {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "[%s] %d channels, %s members\n", g.Category, len(g.Rows), humanize.Comma(int64(g.TotalMembers)))
		fmt.Fprintln(tw, "ID\tCHANNEL\tMEMBERS\tCHANGE\tTODAY\tSINCE FIRST\tUPDATED")
		for _, row := range g.Rows {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				row.ChannelID,
				truncate(label(row), 40),
				humanize.Comma(int64(row.MemberCount)),
				formatChange(row.MemberChange, row.ChangePercent),
				formatOptional(row.ChangeSinceYesterday),
				formatOptional(row.ChangeSinceFirst),
				formatUpdated(row.LastUpdate),
			)
		}
	}
	fmt.Fprintf(tw, "\nTotal: %d channels, %s members\n", r.Channels, humanize.Comma(int64(r.TotalMembers)))
	return tw.Flush()
}

// WriteJSON renders r as indented JSON.
func WriteJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteCSV renders one line per channel for spreadsheet import.
func WriteCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{
		"channel_id", "handle", "title", "category", "member_count",
		"member_change", "change_since_yesterday", "change_since_first", "last_update",
	})
	for _, g := range r.Groups {
		for _, row := range g.Rows {
			updated := ""
			if row.LastUpdate != nil {
				updated = row.LastUpdate.UTC().Format(time.DateTime)
			}
			cw.Write([]string{
				strconv.FormatInt(row.ChannelID, 10),
				row.Handle,
				row.Title,
				row.Category,
				strconv.Itoa(row.MemberCount),
				strconv.Itoa(row.MemberChange),
				optionalInt(row.ChangeSinceYesterday),
				optionalInt(row.ChangeSinceFirst),
				updated,
			})
		}
	}
	cw.Flush()
	return cw.Error()
}

func label(row Row) string {
	if row.Title != "" && row.Title != row.Handle {
		return row.Title + " (" + row.Handle + ")"
	}
	return row.Handle
}

func formatChange(change int, pct float64) string {
	if change == 0 {
		return "0"
	}
	s := signed(change)
	if pct > 0.01 || pct < -0.01 {
		s += fmt.Sprintf(" (%+.1f%%)", pct)
	}
	return s
}

func formatOptional(v *int) string {
	if v == nil {
		return "-"
	}
	return signed(*v)
}

func formatUpdated(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return humanize.Time(*t)
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func signed(v int) string {
	if v > 0 {
		return "+" + humanize.Comma(int64(v))
	}
	return humanize.Comma(int64(v))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
