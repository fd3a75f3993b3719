package invalidateresultcache

type Input struct {
	Pattern string `json:"pattern"`
	// Regex treats Pattern as a regular expression instead of a substring.
	Regex bool `json:"regex"`
}

type Output struct {
	Pattern string `json:"pattern"`
	Removed int    `json:"removed"`
}
