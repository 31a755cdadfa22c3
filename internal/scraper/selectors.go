package scraper

// SelectorSet describes where listing items live in a board's HTML. Fields
// other than Item may be empty; extraction degrades field by field.
type SelectorSet struct {
	Item    string // repeated listing element, relative to the document
	Title   string // relative to Item; empty = anchor text
	Company string // relative to Item
	Link    string // anchor relative to Item; empty = first <a>
	Date    string // relative to Item
}

// SelectorRegistry maps board ids to board-specific selector sets. Boards
// without a registered set fall back to the generic heuristic in
// extractHTMLGeneric.
type SelectorRegistry struct {
	sets map[string]SelectorSet
}

// NewSelectorRegistry returns an empty registry.
func NewSelectorRegistry() *SelectorRegistry {
	return &SelectorRegistry{sets: make(map[string]SelectorSet)}
}

// Register installs (or replaces) the selector set for a board.
func (r *SelectorRegistry) Register(boardID string, set SelectorSet) {
	r.sets[boardID] = set
}

// Lookup returns the selector set for a board and whether one is registered.
func (r *SelectorRegistry) Lookup(boardID string) (SelectorSet, bool) {
	set, ok := r.sets[boardID]
	return set, ok
}
