package tools

import "strings"

// TypoCorrections maps common tool-name typos to catalog names, checked
// before the generic fuzzy match.
var TypoCorrections = map[string]string{
	"nmpa":      "nmap",
	"namp":      "nmap",
	"n-map":     "nmap",
	"goubster":  "gobuster",
	"gobusterr": "gobuster",
	"dirbuster": "gobuster",
	"niktoo":    "nikto",
	"sql-map":   "sqlmap",
	"sqlmapp":   "sqlmap",
	"hyrda":     "hydra",
	"fuff":      "ffuf",
	"sub-finder": "subfinder",
}

// resolveThreshold is the minimum similarity for a fuzzy tool match.
const resolveThreshold = 0.75

// Resolve maps a possibly misspelled tool name to a catalog entry.
// Resolution order: exact match, case-insensitive match, known typo
// corrections, then Levenshtein similarity above the threshold.
func (c *Catalog) Resolve(name string) (*Tool, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}

	if t, ok := c.Get(name); ok {
		return t, true
	}

	nameLower := strings.ToLower(name)

	c.mu.RLock()
	defer c.mu.RUnlock()

	for candidate, t := range c.tools {
		if nameLower == strings.ToLower(candidate) {
			return t, true
		}
	}

	if corrected, ok := TypoCorrections[nameLower]; ok {
		if t, ok := c.tools[corrected]; ok {
			return t, true
		}
	}

	// Fuzzy match using simple similarity
	var bestMatch *Tool
	bestSimilarity := 0.0

	for candidate, t := range c.tools {
		similarity := calculateSimilarity(nameLower, strings.ToLower(candidate))
		if similarity > bestSimilarity && similarity >= resolveThreshold {
			bestSimilarity = similarity
			bestMatch = t
		}
	}

	return bestMatch, bestMatch != nil
}

// calculateSimilarity calculates string similarity (0.0 to 1.0)
// using edit distance over the longer string's length.
func calculateSimilarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}
	if len(s1) == 0 || len(s2) == 0 {
		return 0.0
	}

	distance := levenshteinDistance(s1, s2)
	maxLen := max(len(s1), len(s2))
	return 1.0 - float64(distance)/float64(maxLen)
}

// levenshteinDistance calculates the edit distance between two strings
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	matrix := make([][]int, len(s1)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(s2)+1)
	}

	for i := 0; i <= len(s1); i++ {
		matrix[i][0] = i
	}
	for j := 0; j <= len(s2); j++ {
		matrix[0][j] = j
	}

	for i := 1; i <= len(s1); i++ {
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}

			matrix[i][j] = min(
				matrix[i-1][j]+1,      // deletion
				matrix[i][j-1]+1,      // insertion
				matrix[i-1][j-1]+cost, // substitution
			)
		}
	}

	return matrix[len(s1)][len(s2)]
}
