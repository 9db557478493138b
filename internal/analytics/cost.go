package analytics

import (
	"time"

	"github.com/shopspring/decimal"
)

var million = decimal.NewFromInt(1_000_000)

// Pricing holds per-unit upstream prices in US dollars.
type Pricing struct {
	ChatInputPerMillion  decimal.Decimal
	ChatOutputPerMillion decimal.Decimal
	TTSPerMillionChars   decimal.Decimal
	VideoPerClip         map[string]decimal.Decimal
}

// DefaultPricing is Groq llama-3.3-70b, OpenAI tts-1 and Replicate SadTalker.
func DefaultPricing() Pricing {
	return Pricing{
		ChatInputPerMillion:  decimal.RequireFromString("0.59"),
		ChatOutputPerMillion: decimal.RequireFromString("0.79"),
		TTSPerMillionChars:   decimal.RequireFromString("15"),
		VideoPerClip: map[string]decimal.Decimal{
			"sadtalker": decimal.RequireFromString("0.096"),
		},
	}
}

// ChatCost prices a completion by token counts.
func (p Pricing) ChatCost(inputTokens, outputTokens int64) decimal.Decimal {
	in := decimal.NewFromInt(inputTokens).Mul(p.ChatInputPerMillion)
	out := decimal.NewFromInt(outputTokens).Mul(p.ChatOutputPerMillion)
	return in.Add(out).Div(million)
}

// TTSCost prices speech synthesis by character count.
func (p Pricing) TTSCost(characters int64) decimal.Decimal {
	return decimal.NewFromInt(characters).Mul(p.TTSPerMillionChars).Div(million)
}

// VideoCost prices one clip. Cached clips and unpriced engines cost nothing.
func (p Pricing) VideoCost(engine string, cached bool) decimal.Decimal {
	if cached {
		return decimal.Zero
	}
	return p.VideoPerClip[engine]
}

// ChatRecord builds a priced chat record.
func (p Pricing) ChatRecord(ip, model string, inputTokens, outputTokens int64, d time.Duration) Record {
	return Record{
		Type:         TypeChat,
		IPAddress:    ip,
		Model:        model,
		InputTokens:  int64Ptr(inputTokens),
		OutputTokens: int64Ptr(outputTokens),
		Cost:         p.ChatCost(inputTokens, outputTokens),
		DurationMs:   d.Milliseconds(),
	}
}

// TTSRecord builds a priced speech record.
func (p Pricing) TTSRecord(ip, model string, characters int64, d time.Duration) Record {
	return Record{
		Type:       TypeTTS,
		IPAddress:  ip,
		Model:      model,
		Characters: int64Ptr(characters),
		Cost:       p.TTSCost(characters),
		DurationMs: d.Milliseconds(),
	}
}

// VideoRecord builds a priced video record.
func (p Pricing) VideoRecord(ip, engine string, cached bool, d time.Duration) Record {
	return Record{
		Type:       TypeVideo,
		IPAddress:  ip,
		Model:      engine,
		Cost:       p.VideoCost(engine, cached),
		DurationMs: d.Milliseconds(),
	}
}
