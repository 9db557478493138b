package analytics

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

var csvHeader = []string{"Timestamp", "Type", "IP Address", "Model", "Input Tokens", "Output Tokens", "Characters", "Cost ($)", "Duration (ms)"}

// WriteCSV writes records in the admin export layout.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			string(r.Type),
			r.IPAddress,
			r.Model,
			optInt(r.InputTokens),
			optInt(r.OutputTokens),
			optInt(r.Characters),
			r.Cost.String(),
			strconv.FormatInt(r.DurationMs, 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportFilename is the download name for a period's export on day now.
func ExportFilename(p Period, now time.Time) string {
	return "analytics-" + string(p) + "-" + now.UTC().Format("2006-01-02") + ".csv"
}

func optInt(p *int64) string {
	if p == nil || *p == 0 {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}
