package models

type CategoryInteractions struct {
	Views  int `json:"views"`
	Saves  int `json:"saves"`
	Offers int `json:"offers"`
}

type BudgetRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

type BudgetPreferences struct {
	OptimalRange *BudgetRange `json:"optimalRange,omitempty"`
}

type TimePreferences struct {
	PreferredLeadTimeDays float64  `json:"preferredLeadTimeDays,omitempty"`
	Flexibility           *float64 `json:"flexibility,omitempty"`
}

// UserProfile is read-only from the ranker's point of view. It is
// assembled by the profile store and may be partially populated.
type UserProfile struct {
	UserID                string                          `json:"userId,omitempty"`
	PreferredCategories   []string                        `json:"preferredCategories,omitempty"`
	Skills                []string                        `json:"skills,omitempty"`
	CategoryInteractions  map[string]CategoryInteractions `json:"categoryInteractions,omitempty"`
	BudgetPreferences     *BudgetPreferences              `json:"budgetPreferences,omitempty"`
	TimePreferences       *TimePreferences                `json:"timePreferences,omitempty"`
	ClientTypePreferences map[string]float64              `json:"clientTypePreferences,omitempty"`
}

func (p *UserProfile) PrefersCategory(category string) bool {
	for _, c := range p.PreferredCategories {
		if c == category {
			return true
		}
	}
	return false
}
