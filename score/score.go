// Package score implements the chat energy heuristic used to detect viral moments.
// Scoring is pure and deterministic: the same window of messages always yields
// the same energy value.
package score

import (
	"strings"
	"unicode"
)

// hypeLexicon is the fixed set of tokens that signal chat excitement.
// Matching is a case-insensitive substring scan; each occurrence adds 3.
var hypeLexicon = []string{
	"lmao", "lmfao", "omg", "wtf", "holy", "insane", "clip", "viral",
	"poggers", "kekw", "monkas", "pepega", "omegalul", "ez clap",
	"no way", "bruh", "actually", "literally", "dead", "dying",
}

const (
	lexiconWeight   = 3.0
	capsWeight      = 2.0
	bangWeight      = 1.5
	symbolWeight    = 2.0
	capsMinLength   = 3
	capsRatioCutoff = 0.6
	symbolThreshold = 0x1F600 // code points above this count as emoji-range symbols
)

// Energy scores a window of chat messages. Empty input yields 0.
func Energy(messages []string) float64 {
	if len(messages) == 0 {
		return 0
	}
	var energy float64
	for _, msg := range messages {
		energy += messageEnergy(msg)
	}
	return energy
}

func messageEnergy(msg string) float64 {
	var energy float64
	lower := strings.ToLower(msg)
	for _, word := range hypeLexicon {
		energy += lexiconWeight * float64(strings.Count(lower, word))
	}

	runes := []rune(msg)
	if len(runes) > capsMinLength {
		upper := 0
		for _, r := range runes {
			if unicode.IsUpper(r) {
				upper++
			}
		}
		if float64(upper)/float64(len(runes)) > capsRatioCutoff {
			energy += capsWeight
		}
	}

	energy += bangWeight * float64(strings.Count(msg, "!"))

	for _, r := range runes {
		if r > symbolThreshold {
			energy += symbolWeight
		}
	}
	return energy
}
