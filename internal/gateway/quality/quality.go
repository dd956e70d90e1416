// Package quality scores a provider response against the query that
// produced it: six weighted signals combine into a 0-10 score, a letter
// grade, and a cascade recommendation. Grounded on the weighted-bin scoring
// idiom of other_examples' Replicant-Partners-Chrysalis complexity_router,
// generalized to spec.md §4.5's literal per-signal formulas.
//
// structuralCompleteness walks the response as Markdown via goldmark
// instead of regex-sniffing for headings/lists/code — the one signal with
// a natural library grounding in the pack (nugget-thane-ai-agent).
package quality

import (
	"math"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/aixgo-dev/gateway/internal/gateway/classify"
)

// Recommendation is the cascade executor's escalate-or-accept signal.
type Recommendation string

const (
	RecommendAccept   Recommendation = "accept"
	RecommendEscalate Recommendation = "escalate"
	RecommendReject   Recommendation = "reject"
)

// Grade buckets the overall score.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// Signal is one named, weighted component of the overall score.
type Signal struct {
	Name   string
	Score  float64
	Weight float64
	Detail string
}

// Report is spec.md's QualityReport.
type Report struct {
	OverallScore   float64
	Signals        []Signal
	Grade          Grade
	Confidence     float64
	Recommendation Recommendation
}

// Response is the minimal shape the estimator needs from a provider call.
type Response struct {
	Content          string
	Provider         string
	IsSearchProvider bool
	CitationURLs     []string
	InputTokens      int
	OutputTokens     int
	LatencyMs        int64
}

var (
	refusalRe    = regexp.MustCompile(`(?i)\b(i can'?t help with|i'm unable to|as an ai language model|i cannot assist)\b`)
	highConfRe   = regexp.MustCompile(`(?i)\b(certainly|definitely|clearly|precisely|exactly)\b`)
	lowConfRe    = regexp.MustCompile(`(?i)\b(i think|maybe|possibly|might be|not sure|i believe|perhaps)\b`)
	boldRe       = regexp.MustCompile(`\*\*[^*]+\*\*`)
)

// Estimate computes the six-signal QualityReport, spec.md §4.5.
func Estimate(resp Response, q classify.ClassifiedQuery) Report {
	signals := []Signal{
		citationQuality(resp),
		confidenceLanguage(resp),
		structuralCompleteness(resp, q),
		lengthAppropriateness(resp, q),
		latencyVsExpected(resp, q),
		tokenEfficiency(resp),
	}

	var overall float64
	for _, s := range signals {
		overall += s.Weight * s.Score
	}

	return Report{
		OverallScore:   overall,
		Signals:        signals,
		Grade:          gradeFor(overall),
		Confidence:     confidenceFor(signals),
		Recommendation: recommendationFor(overall, q.Complexity),
	}
}

func citationQuality(r Response) Signal {
	n := len(r.CitationURLs)
	var score float64
	switch {
	case n == 0:
		if r.IsSearchProvider {
			score = 3
		} else {
			score = 6
		}
	case n == 1:
		score = 6
	case n >= 2 && n <= 5:
		score = 9
	case n >= 6 && n <= 8:
		score = 7.5
	default:
		score = 6
	}
	distinct := distinctHosts(r.CitationURLs)
	if n > 0 && distinct >= min(3, n) {
		score += 0.5
	}
	if score > 10 {
		score = 10
	}
	return Signal{Name: "citationQuality", Weight: 0.25, Score: score}
}

func distinctHosts(urls []string) int {
	seen := make(map[string]bool)
	for _, u := range urls {
		host := u
		if i := strings.Index(u, "://"); i >= 0 {
			host = u[i+3:]
		}
		if i := strings.IndexAny(host, "/?#"); i >= 0 {
			host = host[:i]
		}
		seen[host] = true
	}
	return len(seen)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func confidenceLanguage(r Response) Signal {
	if refusalRe.MatchString(r.Content) {
		return Signal{Name: "confidenceLanguage", Weight: 0.20, Score: 1, Detail: "refusal pattern matched"}
	}
	high := len(highConfRe.FindAllString(r.Content, -1))
	low := len(lowConfRe.FindAllString(r.Content, -1))
	score := 7 + clampF(0.5*(float64(high)-2*float64(low)), -5, 3)
	return Signal{Name: "confidenceLanguage", Weight: 0.20, Score: clampF(score, 0, 10)}
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type structuralCounts struct {
	headings, lists, codeBlocks, bold, paragraphs int
}

func structuralCompleteness(r Response, q classify.ClassifiedQuery) Signal {
	counts := countMarkdownStructure(r.Content)

	score := 5.0
	scale := complexityScale(q.Complexity)
	score += scale * float64(min(counts.headings, 3)) * 0.5
	score += scale * float64(min(counts.lists, 3)) * 0.4
	score += scale * float64(min(counts.codeBlocks, 2)) * 0.6
	score += scale * float64(min(counts.bold, 3)) * 0.2
	score += scale * float64(min(counts.paragraphs, 4)) * 0.15

	if q.Intent == classify.IntentCode && counts.codeBlocks == 0 {
		score -= 2
	}
	return Signal{Name: "structuralCompleteness", Weight: 0.20, Score: clampF(score, 0, 10)}
}

func complexityScale(c classify.Complexity) float64 {
	switch c {
	case classify.ComplexitySimple:
		return 0.6
	case classify.ComplexityMedium:
		return 1.0
	default:
		return 1.3
	}
}

// countMarkdownStructure walks the goldmark AST rather than regex-sniffing
// for headings/lists/code/paragraphs, per SPEC_FULL.md §B's library
// grounding; bold spans are counted with boldRe over the raw text.
func countMarkdownStructure(content string) structuralCounts {
	var counts structuralCounts
	src := []byte(content)
	root := goldmark.New().Parser().Parse(text.NewReader(src))
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindHeading:
			counts.headings++
		case ast.KindList:
			counts.lists++
		case ast.KindFencedCodeBlock, ast.KindCodeBlock:
			counts.codeBlocks++
		case ast.KindParagraph:
			counts.paragraphs++
		}
		return ast.WalkContinue, nil
	})
	counts.bold = len(boldRe.FindAllString(content, -1))
	return counts
}

type lengthBand struct {
	short, long, ideal int
}

func lengthAppropriateness(r Response, q classify.ClassifiedQuery) Signal {
	bands := map[classify.Complexity]lengthBand{
		classify.ComplexitySimple:  {50, 500, 200},
		classify.ComplexityMedium:  {150, 1500, 600},
		classify.ComplexityComplex: {300, 4000, 1500},
	}
	b := bands[q.Complexity]
	out := len([]rune(r.Content))

	var score float64
	switch {
	case out < b.short:
		ratio := float64(out) / float64(b.short)
		score = math.Max(2, ratio*7)
	case out > b.long:
		overRatio := float64(out) / float64(b.long)
		score = math.Max(4, 10-3*(overRatio-1))
	default:
		score = math.Max(7, 10-3*(math.Abs(float64(out-b.ideal))/float64(b.ideal)))
	}
	return Signal{Name: "lengthAppropriateness", Weight: 0.15, Score: clampF(score, 0, 10)}
}

func latencyVsExpected(r Response, q classify.ClassifiedQuery) Signal {
	if r.LatencyMs <= 0 {
		return Signal{Name: "latencyVsExpected", Weight: 0.10, Score: 7, Detail: "unknown"}
	}
	baseline := map[classify.Complexity]int64{
		classify.ComplexitySimple:  2000,
		classify.ComplexityMedium:  5000,
		classify.ComplexityComplex: 10000,
	}[q.Complexity]

	ratio := float64(r.LatencyMs) / float64(baseline)
	var score float64
	switch {
	case ratio <= 0.5:
		score = 10
	case ratio <= 1:
		score = 9
	case ratio <= 2:
		score = 6
	default:
		score = 3
	}
	return Signal{Name: "latencyVsExpected", Weight: 0.10, Score: score}
}

func tokenEfficiency(r Response) Signal {
	if r.InputTokens <= 0 || r.OutputTokens <= 0 {
		return Signal{Name: "tokenEfficiency", Weight: 0.10, Score: 5, Detail: "unknown"}
	}
	ratio := float64(r.OutputTokens) / float64(r.InputTokens)
	var score float64
	switch {
	case ratio < 0.5:
		score = 4
	case ratio <= 5:
		score = 9
	case ratio <= 10:
		score = 7
	default:
		score = 5
	}
	return Signal{Name: "tokenEfficiency", Weight: 0.10, Score: score}
}

func gradeFor(overall float64) Grade {
	switch {
	case overall >= 8.5:
		return GradeA
	case overall >= 7.0:
		return GradeB
	case overall >= 5.0:
		return GradeC
	case overall >= 3.0:
		return GradeD
	default:
		return GradeF
	}
}

func confidenceFor(signals []Signal) float64 {
	raw := make([]float64, len(signals))
	var sum float64
	for i, s := range signals {
		raw[i] = s.Score
		sum += s.Score
	}
	mean := sum / float64(len(raw))
	var variance float64
	for _, v := range raw {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(raw))
	sigma := math.Sqrt(variance)
	return clampF(1-sigma/5, 0.2, 1.0)
}

type recommendBand struct{ accept, reject float64 }

func recommendationFor(overall float64, c classify.Complexity) Recommendation {
	bands := map[classify.Complexity]recommendBand{
		classify.ComplexitySimple:  {accept: 6, reject: 3},
		classify.ComplexityMedium:  {accept: 7, reject: 4},
		classify.ComplexityComplex: {accept: 8, reject: 5},
	}
	b := bands[c]
	switch {
	case overall >= b.accept:
		return RecommendAccept
	case overall < b.reject:
		return RecommendReject
	default:
		return RecommendEscalate
	}
}
