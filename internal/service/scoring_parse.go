package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ScoreRange bounds the scores a reply may carry, inclusive.
type ScoreRange struct {
	Min float64
	Max float64
}

// DefaultScoreRange is the 0-100 scale.
var DefaultScoreRange = ScoreRange{Min: 0, Max: 100}

// Contains reports whether score lies within the range.
func (r ScoreRange) Contains(score float64) bool {
	return score >= r.Min && score <= r.Max
}

// ErrMalformedReply is wrapped by every ParseReply failure.
var ErrMalformedReply = errors.New("malformed scoring reply")

var (
	fencePattern  = regexp.MustCompile("(?s)^(`{3,})[A-Za-z0-9_+-]*[ \t]*\r?\n(.*?)\r?\n[ \t]*(`{3,})$")
	legacyPattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)-(.*)$`)
)

type replyObject struct {
	Score    json.RawMessage `json:"score"`
	Feedback json.RawMessage `json:"feedback"`
	Comment  json.RawMessage `json:"comment"`
}

// ParseReply extracts a score and feedback from a model reply.
// Two shapes are accepted, and nothing around them:
//   - one JSON object {"score": <number>, "feedback": "<text>"}, optionally inside a single code fence;
//   - the line "<studentID>-<score>-<feedback>".
//
// A missing, non-numeric or out-of-range score is an error; a score is never guessed.
func ParseReply(studentID, reply string, rng ScoreRange) (float64, string, error) {
	body := strings.TrimSpace(reply)
	if body == "" {
		return 0, "", fmt.Errorf("%w: empty reply", ErrMalformedReply)
	}

	if m := fencePattern.FindStringSubmatch(body); m != nil {
		if m[1] != m[3] {
			return 0, "", fmt.Errorf("%w: unbalanced code fence", ErrMalformedReply)
		}
		body = strings.TrimSpace(m[2])
	}

	if strings.HasPrefix(body, "{") {
		return parseJSONReply(body, rng)
	}
	return parseLegacyReply(studentID, body, rng)
}

func parseJSONReply(body string, rng ScoreRange) (float64, string, error) {
	dec := json.NewDecoder(strings.NewReader(body))
	var obj replyObject
	if err := dec.Decode(&obj); err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if rest := strings.TrimSpace(body[dec.InputOffset():]); rest != "" {
		return 0, "", fmt.Errorf("%w: extraneous text after JSON object", ErrMalformedReply)
	}

	raw := bytes.TrimSpace(obj.Score)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, "", fmt.Errorf("%w: missing score", ErrMalformedReply)
	}
	if raw[0] == '"' {
		return 0, "", fmt.Errorf("%w: score is not a number: %s", ErrMalformedReply, raw)
	}
	score, err := parseScore(string(raw), rng)
	if err != nil {
		return 0, "", err
	}

	feedbackRaw := obj.Feedback
	if len(feedbackRaw) == 0 {
		feedbackRaw = obj.Comment
	}
	feedback := ""
	if len(feedbackRaw) > 0 && !bytes.Equal(bytes.TrimSpace(feedbackRaw), []byte("null")) {
		if err := json.Unmarshal(feedbackRaw, &feedback); err != nil {
			return 0, "", fmt.Errorf("%w: feedback is not a string", ErrMalformedReply)
		}
	}

	return score, strings.TrimSpace(feedback), nil
}

func parseLegacyReply(studentID, body string, rng ScoreRange) (float64, string, error) {
	if strings.ContainsAny(body, "\r\n") {
		return 0, "", fmt.Errorf("%w: expected a single line", ErrMalformedReply)
	}
	prefix := studentID + "-"
	if studentID == "" || !strings.HasPrefix(body, prefix) {
		return 0, "", fmt.Errorf("%w: reply does not start with %q", ErrMalformedReply, prefix)
	}
	m := legacyPattern.FindStringSubmatch(body[len(prefix):])
	if m == nil {
		return 0, "", fmt.Errorf("%w: missing numeric score", ErrMalformedReply)
	}
	score, err := parseScore(m[1], rng)
	if err != nil {
		return 0, "", err
	}
	return score, strings.TrimSpace(m[2]), nil
}

func parseScore(s string, rng ScoreRange) (float64, error) {
	score, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(score) || math.IsInf(score, 0) {
		return 0, fmt.Errorf("%w: score is not a number: %s", ErrMalformedReply, s)
	}
	if !rng.Contains(score) {
		return 0, fmt.Errorf("%w: score %g outside [%g, %g]", ErrMalformedReply, score, rng.Min, rng.Max)
	}
	return score, nil
}
