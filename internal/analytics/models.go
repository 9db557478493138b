package analytics

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Type is the kind of billable request a record describes.
type Type string

const (
	TypeChat  Type = "chat"
	TypeTTS   Type = "tts"
	TypeVideo Type = "video"
)

// Record is one billable upstream request.
type Record struct {
	ID           string          `json:"id"`
	Timestamp    time.Time       `json:"timestamp"`
	Type         Type            `json:"type"`
	IPAddress    string          `json:"ipAddress"`
	InputTokens  *int64          `json:"inputTokens"`
	OutputTokens *int64          `json:"outputTokens"`
	Characters   *int64          `json:"characters"`
	Model        string          `json:"model"`
	Cost         decimal.Decimal `json:"cost"`
	DurationMs   int64           `json:"duration"`
}

// Summary aggregates records over a period.
type Summary struct {
	TotalRequests   int     `json:"totalRequests"`
	ChatRequests    int     `json:"chatRequests"`
	TTSRequests     int     `json:"ttsRequests"`
	VideoRequests   int     `json:"videoRequests"`
	TotalCost       float64 `json:"totalCost"`
	ChatCost        float64 `json:"chatCost"`
	TTSCost         float64 `json:"ttsCost"`
	VideoCost       float64 `json:"videoCost"`
	UniqueUsers     int     `json:"uniqueUsers"`
	AvgResponseTime float64 `json:"avgResponseTime"`
}

// Summarize aggregates records. Costs are summed exactly and only converted
// to floats for display.
func Summarize(records []Record) Summary {
	var s Summary
	var total, chat, tts, video decimal.Decimal
	users := make(map[string]struct{})
	var duration int64
	for _, r := range records {
		s.TotalRequests++
		total = total.Add(r.Cost)
		switch r.Type {
		case TypeChat:
			s.ChatRequests++
			chat = chat.Add(r.Cost)
		case TypeTTS:
			s.TTSRequests++
			tts = tts.Add(r.Cost)
		case TypeVideo:
			s.VideoRequests++
			video = video.Add(r.Cost)
		}
		users[r.IPAddress] = struct{}{}
		duration += r.DurationMs
	}
	s.TotalCost = total.InexactFloat64()
	s.ChatCost = chat.InexactFloat64()
	s.TTSCost = tts.InexactFloat64()
	s.VideoCost = video.InexactFloat64()
	s.UniqueUsers = len(users)
	if s.TotalRequests > 0 {
		s.AvgResponseTime = float64(duration) / float64(s.TotalRequests)
	}
	return s
}

// Period is a reporting window ending now.
type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodAll   Period = "all"
)

// ParsePeriod accepts the admin dashboard's period names. Empty means today.
func ParsePeriod(s string) (Period, error) {
	switch p := Period(s); p {
	case "":
		return PeriodToday, nil
	case PeriodToday, PeriodWeek, PeriodMonth, PeriodAll:
		return p, nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// Since returns the start of the period relative to now. PeriodAll returns
// the zero time.
func (p Period) Since(now time.Time) time.Time {
	now = now.UTC()
	switch p {
	case PeriodToday:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case PeriodWeek:
		return now.AddDate(0, 0, -7)
	case PeriodMonth:
		return now.AddDate(0, 0, -30)
	}
	return time.Time{}
}

func int64Ptr(v int64) *int64 { return &v }
