package voiceadapt

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/voiceagent/runtime/types"
)

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

var positiveWords = []string{
	"great", "good", "awesome", "perfect", "thanks", "thank you", "love", "excellent", "amazing",
}

var negativeWords = []string{
	"bad", "terrible", "awful", "hate", "angry", "upset", "frustrated", "annoyed", "sad",
}

var urgencyWords = []string{
	"urgent", "asap", "now", "immediately", "right away", "soon",
}

var questionStarters = []string{"who", "what", "when", "where", "why", "how"}

// MessageAnalysis is the lightweight read on a piece of text the adaptation
// decision is based on.
type MessageAnalysis struct {
	Sentiment        float64 // [-1,1]
	Urgency          float64 // [0,1]
	Complexity       float64 // [0,1]
	Energy           float64 // [0,1]
	ContainsQuestion bool
	TokenCount       int
}

// VoiceSettings is the provider-agnostic adaptation output. ProviderOverrides
// carries hints a concrete TTS adapter may map onto its own parameters; a
// provider that doesn't recognize a key simply ignores it.
type VoiceSettings struct {
	Speed              float64
	Emotions           map[string]float64
	AllowInterruptions bool
	ProviderOverrides  map[string]map[string]float64
}

// NaturalTiming is the delay to insert before starting synthesis, intended
// to avoid a mechanically instantaneous response.
type NaturalTiming struct {
	PreSpeechDelay time.Duration
}

// Decision bundles one Decide call's analysis and its derived settings.
type Decision struct {
	Analysis MessageAnalysis
	Voice    VoiceSettings
	Timing   NaturalTiming
}

// Manager produces adaptation decisions for one session's outgoing text,
// smoothing across consecutive turns via a bounded history (spec.md §4.6).
type Manager struct {
	cfg types.VoiceAdaptationSpec
	now func() time.Time

	mu               sync.Mutex
	lastUpdate       time.Time
	sentimentHistory []float64
	energyHistory    []float64
}

// New creates a Manager using the wall clock.
func New(cfg types.VoiceAdaptationSpec) *Manager {
	return NewWithClock(cfg, time.Now)
}

// NewWithClock creates a Manager with an injectable clock for deterministic
// rate-limit tests.
func NewWithClock(cfg types.VoiceAdaptationSpec, now func() time.Time) *Manager {
	return &Manager{cfg: cfg, now: now}
}

// Decide analyzes text and returns the voice settings and timing to use
// when synthesizing it. stage is a conversation-stage hint such as
// "greeting", "qualifying", or "closing"; it may be empty.
func (m *Manager) Decide(text, stage string) Decision {
	analysis := analyze(text)

	if !m.cfg.Enabled {
		return Decision{
			Analysis: analysis,
			Voice:    VoiceSettings{Speed: 1.0, AllowInterruptions: true},
			Timing:   NaturalTiming{PreSpeechDelay: 20 * time.Millisecond},
		}
	}

	m.mu.Lock()
	now := m.now()

	if m.isRateLimited(now) {
		analysis.Sentiment = smoothed(m.sentimentHistory, analysis.Sentiment)
		analysis.Energy = smoothed(m.energyHistory, analysis.Energy)
	}

	m.record(analysis)
	m.lastUpdate = now

	if m.cfg.HistoryInfluence > 0 {
		h := m.cfg.HistoryInfluence
		smSent := smoothed(m.sentimentHistory, analysis.Sentiment)
		smEnergy := smoothed(m.energyHistory, analysis.Energy)
		analysis.Sentiment = (1-h)*analysis.Sentiment + h*smSent
		analysis.Energy = (1-h)*analysis.Energy + h*smEnergy
	}
	m.mu.Unlock()

	return Decision{
		Analysis: analysis,
		Voice:    determineVoiceSettings(analysis, stage),
		Timing:   determineTiming(analysis, stage),
	}
}

func (m *Manager) isRateLimited(now time.Time) bool {
	if m.cfg.RateLimitSec <= 0 {
		return false
	}
	if m.lastUpdate.IsZero() {
		return false
	}
	return now.Sub(m.lastUpdate) < time.Duration(m.cfg.RateLimitSec*float64(time.Second))
}

func (m *Manager) record(a MessageAnalysis) {
	limit := m.cfg.MemoryLimit
	if limit <= 0 {
		limit = 1
	}
	m.sentimentHistory = append(m.sentimentHistory, a.Sentiment)
	if len(m.sentimentHistory) > limit {
		m.sentimentHistory = m.sentimentHistory[len(m.sentimentHistory)-limit:]
	}
	m.energyHistory = append(m.energyHistory, a.Energy)
	if len(m.energyHistory) > limit {
		m.energyHistory = m.energyHistory[len(m.energyHistory)-limit:]
	}
}

// smoothed averages the last few values (at most 5), falling back to
// def when there is no history yet.
func smoothed(values []float64, def float64) float64 {
	if len(values) == 0 {
		return def
	}
	window := 5
	if len(values) < window {
		window = len(values)
	}
	recent := values[len(values)-window:]
	var sum float64
	for _, v := range recent {
		sum += v
	}
	return sum / float64(len(recent))
}

func analyze(text string) MessageAnalysis {
	trimmed := strings.TrimSpace(text)
	tokens := len(strings.Fields(trimmed))
	if tokens == 0 {
		tokens = 1
	}

	lower := strings.ToLower(trimmed)
	containsQ := strings.Contains(trimmed, "?")
	if !containsQ {
		for _, q := range questionStarters {
			if strings.HasPrefix(lower, q) {
				containsQ = true
				break
			}
		}
	}

	posHits := countHits(lower, positiveWords)
	negHits := countHits(lower, negativeWords)
	urgHits := countHits(lower, urgencyWords)

	var sentiment float64
	if posHits+negHits > 0 {
		sentiment = float64(posHits-negHits) / float64(posHits+negHits)
	}
	sentiment = clamp(sentiment, -1.0, 1.0)

	urgency := clamp(0.2*float64(urgHits), 0.0, 1.0)

	punctuation := strings.Count(trimmed, ",") + strings.Count(trimmed, ";") + strings.Count(trimmed, ":") + strings.Count(trimmed, ".")
	lengthScore := clamp(float64(tokens)/40.0, 0.0, 1.0)
	punctuationScore := clamp(float64(punctuation)/10.0, 0.0, 1.0)
	complexity := clamp(0.6*lengthScore+0.4*punctuationScore, 0.0, 1.0)

	exclam := strings.Count(trimmed, "!")
	var upper, letters int
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters == 0 {
		letters = 1
	}
	capsRatio := float64(upper) / float64(letters)
	energy := clamp(0.15*float64(exclam)+0.8*capsRatio+0.2*urgency, 0.0, 1.0)

	return MessageAnalysis{
		Sentiment:        sentiment,
		Urgency:          urgency,
		Complexity:       complexity,
		Energy:           energy,
		ContainsQuestion: containsQ,
		TokenCount:       tokens,
	}
}

func countHits(lower string, words []string) int {
	count := 0
	for _, w := range words {
		if strings.Contains(lower, w) {
			count++
		}
	}
	return count
}

func determineVoiceSettings(a MessageAnalysis, stage string) VoiceSettings {
	speed := 1.0
	speed += 0.15 * (a.Energy - 0.5)
	speed += 0.10 * (a.Urgency - 0.3)
	speed -= 0.20 * a.Complexity

	stageLower := strings.ToLower(stage)
	switch {
	case strings.Contains(stageLower, "greeting"):
		speed += 0.05
	case strings.Contains(stageLower, "problem"), strings.Contains(stageLower, "explain"), strings.Contains(stageLower, "clarify"):
		speed -= 0.05
	}
	speed = clamp(speed, 0.7, 1.4)

	emotions := map[string]float64{
		"positivity": clamp((a.Sentiment+1.0)/2.0, 0.0, 1.0),
		"empathy":    clamp(max(0.0, -a.Sentiment), 0.0, 1.0),
		"curiosity":  0.35,
		"calmness":   clamp(1.0-a.Energy*0.7, 0.2, 0.95),
	}
	if a.ContainsQuestion {
		emotions["curiosity"] = 0.55
	}

	providerOverrides := map[string]map[string]float64{
		"cartesia": {
			"speed": round3(speed),
		},
		"elevenlabs": {
			"stability": clamp(0.55+0.2*(1.0-emotions["calmness"]), 0.3, 0.9),
			"style":     clamp(0.5+0.2*emotions["positivity"], 0.3, 0.9),
			"speed":     round3(speed),
		},
	}

	allowInterruptions := (a.Urgency + a.Energy) >= 0.6

	return VoiceSettings{
		Speed:              round3(speed),
		Emotions:           emotions,
		AllowInterruptions: allowInterruptions,
		ProviderOverrides:  providerOverrides,
	}
}

func determineTiming(a MessageAnalysis, stage string) NaturalTiming {
	delay := 0.02
	delay += 0.1 * a.Complexity
	delay += 0.05 * max(0.0, -a.Sentiment)
	delay -= 0.1 * a.Urgency

	stageLower := strings.ToLower(stage)
	switch {
	case strings.Contains(stageLower, "greeting"):
		delay -= 0.01
	case strings.Contains(stageLower, "problem"), strings.Contains(stageLower, "explain"), strings.Contains(stageLower, "clarify"):
		delay += 0.02
	}
	delay = clamp(delay, 0.01, 0.15)

	return NaturalTiming{PreSpeechDelay: time.Duration(delay * float64(time.Second))}
}

func round3(v float64) float64 {
	return float64(int(v*1000+0.5)) / 1000
}
